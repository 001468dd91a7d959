package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/bitfantasy/nimo-ams/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupApprovalTest(t *testing.T) *ApprovalService {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repo := repository.NewApprovalRepository(db)
	return NewApprovalService(repo, zap.NewNop())
}

func TestApprovalDuplicatePendingRejected(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	policy := ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelManager}
	_, err := svc.Create(ctx, "test_resource", "res-1", "do_thing", "user-1", entity.JSONB{"k": "v"}, policy)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = svc.Create(ctx, "test_resource", "res-1", "do_thing", "user-2", entity.JSONB{"k": "v"}, policy)
	if !errors.Is(err, ErrDuplicatePendingRequest) {
		t.Fatalf("expected ErrDuplicatePendingRequest, got %v", err)
	}

	// 不同动作不受影响
	if _, err := svc.Create(ctx, "test_resource", "res-1", "do_other", "user-1", nil, policy); err != nil {
		t.Fatalf("different action should not conflict: %v", err)
	}
}

func TestApprovalSingleLevelExecutesOnce(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	var calls int32
	svc.RegisterExecutor("test_resource", func(tx *gorm.DB, req *entity.ApprovalRequest) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	req, err := svc.Create(ctx, "test_resource", "res-1", "do_thing", "user-1", entity.JSONB{"amount": 42.0},
		ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	approved, err := svc.Approve(ctx, req.ID, manager, "looks fine")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != entity.ApprovalStatusExecuted {
		t.Fatalf("expected status executed, got %s", approved.Status)
	}
	if approved.ExecutedAt == nil {
		t.Fatal("executed_at not set")
	}
	if approved.ApprovedByL1 != "mgr-1" {
		t.Fatalf("approved_by_l1 = %q", approved.ApprovedByL1)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("executor called %d times, want 1", n)
	}

	// 终态请求拒绝一切后续操作
	if _, err := svc.Approve(ctx, req.ID, manager, ""); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("re-approve on executed: expected ErrAlreadyFinalized, got %v", err)
	}
	if _, err := svc.Reject(ctx, req.ID, manager, "too late"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("reject on executed: expected ErrAlreadyFinalized, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("executor called %d times after re-invoke, want 1", n)
	}
}

func TestApprovalTwoLevelChain(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	var calls int32
	svc.RegisterExecutor("test_resource", func(tx *gorm.DB, req *entity.ApprovalRequest) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	req, err := svc.Create(ctx, "test_resource", "res-2", "retire", "user-1", nil,
		ApprovalPolicy{Levels: 2, LevelL1: entity.RoleLevelSupervisor, LevelL2: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	supervisor := entity.Actor{ID: "sup-1", RoleLevel: entity.RoleLevelSupervisor}
	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}

	// 一级通过后等待二级，不执行
	afterL1, err := svc.Approve(ctx, req.ID, supervisor, "level one ok")
	if err != nil {
		t.Fatalf("l1 approve: %v", err)
	}
	if afterL1.Status != entity.ApprovalStatusApprovedL1 {
		t.Fatalf("expected approved_l1, got %s", afterL1.Status)
	}
	if afterL1.CurrentApprovalLevel != 2 {
		t.Fatalf("current_approval_level = %d, want 2", afterL1.CurrentApprovalLevel)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("executor ran before final approval")
	}

	// 二级要求经理级，主管不够
	if _, err := svc.Approve(ctx, req.ID, supervisor, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("supervisor at l2: expected ErrPermissionDenied, got %v", err)
	}

	final, err := svc.Approve(ctx, req.ID, manager, "level two ok")
	if err != nil {
		t.Fatalf("l2 approve: %v", err)
	}
	if final.Status != entity.ApprovalStatusExecuted {
		t.Fatalf("expected executed, got %s", final.Status)
	}
	if final.ApprovedByL2 != "mgr-1" {
		t.Fatalf("approved_by_l2 = %q", final.ApprovedByL2)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("executor called %d times, want 1", n)
	}
}

func TestApprovalLevelChecked(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, "test_resource", "res-3", "do_thing", "user-1", nil,
		ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	staff := entity.Actor{ID: "staff-1", RoleLevel: entity.RoleLevelStaff}
	if _, err := svc.Approve(ctx, req.ID, staff, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := svc.Reject(ctx, req.ID, staff, "no"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("reject: expected ErrPermissionDenied, got %v", err)
	}

	// 级别数值更小（权限更高）的也可以审
	admin := entity.Actor{ID: "admin-1", RoleLevel: entity.RoleLevelAdmin}
	svc.RegisterExecutor("test_resource", func(tx *gorm.DB, req *entity.ApprovalRequest) error { return nil })
	if _, err := svc.Approve(ctx, req.ID, admin, ""); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
}

func TestApprovalRejectRequiresNotes(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, "test_resource", "res-4", "do_thing", "user-1", nil,
		ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	if _, err := svc.Reject(ctx, req.ID, manager, ""); err == nil {
		t.Fatal("reject without notes should fail")
	}

	rejected, err := svc.Reject(ctx, req.ID, manager, "budget cut")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != entity.ApprovalStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.NotesL1 != "budget cut" {
		t.Fatalf("notes_l1 = %q", rejected.NotesL1)
	}
}

func TestApprovalRejectAtSecondLevel(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, "test_resource", "res-5", "retire", "user-1", nil,
		ApprovalPolicy{Levels: 2, LevelL1: entity.RoleLevelSupervisor, LevelL2: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	supervisor := entity.Actor{ID: "sup-1", RoleLevel: entity.RoleLevelSupervisor}
	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}

	if _, err := svc.Approve(ctx, req.ID, supervisor, ""); err != nil {
		t.Fatalf("l1 approve: %v", err)
	}

	rejected, err := svc.Reject(ctx, req.ID, manager, "not worth it")
	if err != nil {
		t.Fatalf("l2 reject: %v", err)
	}
	if rejected.Status != entity.ApprovalStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.NotesL2 != "not worth it" {
		t.Fatalf("notes_l2 = %q", rejected.NotesL2)
	}
}

func TestApprovalFailedExecutionIsRetriable(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	var calls int32
	svc.RegisterExecutor("test_resource", func(tx *gorm.DB, req *entity.ApprovalRequest) error {
		atomic.AddInt32(&calls, 1)
		if fail.Load() {
			return fmt.Errorf("downstream unavailable")
		}
		return nil
	})

	req, err := svc.Create(ctx, "test_resource", "res-6", "do_thing", "user-1", nil,
		ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	if _, err := svc.Approve(ctx, req.ID, manager, ""); err == nil {
		t.Fatal("approve should surface executor failure")
	}

	// 批准保留，执行回滚
	current, err := svc.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != entity.ApprovalStatusApprovedL1 {
		t.Fatalf("expected approved_l1 after failed execution, got %s", current.Status)
	}

	fail.Store(false)
	final, err := svc.Approve(ctx, req.ID, manager, "")
	if err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	if final.Status != entity.ApprovalStatusExecuted {
		t.Fatalf("expected executed after retry, got %s", final.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("executor called %d times, want 2", n)
	}
}

func TestApprovalStuckTwoLevelExecutionCanBeRejected(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	// 执行始终失败，审批链走完后请求滞留在 approved_l2
	svc.RegisterExecutor("test_resource", func(tx *gorm.DB, req *entity.ApprovalRequest) error {
		return fmt.Errorf("downstream unavailable")
	})

	policy := ApprovalPolicy{Levels: 2, LevelL1: entity.RoleLevelSupervisor, LevelL2: entity.RoleLevelManager}
	req, err := svc.Create(ctx, "test_resource", "res-7", "retire", "user-1", nil, policy)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	supervisor := entity.Actor{ID: "sup-1", RoleLevel: entity.RoleLevelSupervisor}
	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	if _, err := svc.Approve(ctx, req.ID, supervisor, ""); err != nil {
		t.Fatalf("l1 approve: %v", err)
	}
	if _, err := svc.Approve(ctx, req.ID, manager, ""); err == nil {
		t.Fatal("l2 approve should surface executor failure")
	}
	current, err := svc.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != entity.ApprovalStatusApprovedL2 {
		t.Fatalf("expected approved_l2 after failed execution, got %s", current.Status)
	}

	// 未完结的请求占住同目标，重复提案被拒
	if _, err := svc.Create(ctx, "test_resource", "res-7", "retire", "user-2", nil, policy); !errors.Is(err, ErrDuplicatePendingRequest) {
		t.Fatalf("expected ErrDuplicatePendingRequest, got %v", err)
	}

	// 滞留请求出现在终签级别的待办里
	forManager, err := svc.ListPending(ctx, manager)
	if err != nil {
		t.Fatalf("list for manager: %v", err)
	}
	if len(forManager) != 1 {
		t.Fatalf("manager sees %d requests, want 1", len(forManager))
	}

	// 驳回作废由终签级别处置，一级审批人不够
	if _, err := svc.Reject(ctx, req.ID, supervisor, "give up"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("supervisor reject: expected ErrPermissionDenied, got %v", err)
	}
	rejected, err := svc.Reject(ctx, req.ID, manager, "target obsolete")
	if err != nil {
		t.Fatalf("manager reject: %v", err)
	}
	if rejected.Status != entity.ApprovalStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.NotesL2 != "target obsolete" {
		t.Fatalf("notes_l2 = %q", rejected.NotesL2)
	}

	// 作废后同目标可重新提案
	if _, err := svc.Create(ctx, "test_resource", "res-7", "retire", "user-2", nil, policy); err != nil {
		t.Fatalf("create after reject: %v", err)
	}
}

func TestApprovalStuckSingleLevelExecutionCanBeRejected(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	svc.RegisterExecutor("test_resource", func(tx *gorm.DB, req *entity.ApprovalRequest) error {
		return fmt.Errorf("downstream unavailable")
	})

	req, err := svc.Create(ctx, "test_resource", "res-8", "do_thing", "user-1", nil,
		ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	if _, err := svc.Approve(ctx, req.ID, manager, ""); err == nil {
		t.Fatal("approve should surface executor failure")
	}

	rejected, err := svc.Reject(ctx, req.ID, manager, "no longer needed")
	if err != nil {
		t.Fatalf("reject stuck request: %v", err)
	}
	if rejected.Status != entity.ApprovalStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.NotesL1 != "no longer needed" {
		t.Fatalf("notes_l1 = %q", rejected.NotesL1)
	}
}

func TestApprovalListPendingForLevel(t *testing.T) {
	svc := setupApprovalTest(t)
	ctx := context.Background()

	// 一级等待经理，一级等待主管，一个二级链等待二级经理
	if _, err := svc.Create(ctx, "test_resource", "res-a", "a", "user-1", nil,
		ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelManager}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := svc.Create(ctx, "test_resource", "res-b", "b", "user-1", nil,
		ApprovalPolicy{Levels: 1, LevelL1: entity.RoleLevelSupervisor}); err != nil {
		t.Fatalf("create b: %v", err)
	}
	twoLevel, err := svc.Create(ctx, "test_resource", "res-c", "c", "user-1", nil,
		ApprovalPolicy{Levels: 2, LevelL1: entity.RoleLevelSupervisor, LevelL2: entity.RoleLevelManager})
	if err != nil {
		t.Fatalf("create c: %v", err)
	}
	supervisor := entity.Actor{ID: "sup-1", RoleLevel: entity.RoleLevelSupervisor}
	if _, err := svc.Approve(ctx, twoLevel.ID, supervisor, ""); err != nil {
		t.Fatalf("l1 approve c: %v", err)
	}

	// 主管看到等待主管的一级 + 不看到等待经理的
	forSupervisor, err := svc.ListPending(ctx, supervisor)
	if err != nil {
		t.Fatalf("list for supervisor: %v", err)
	}
	if len(forSupervisor) != 1 {
		t.Fatalf("supervisor sees %d requests, want 1", len(forSupervisor))
	}

	// 经理看到全部三个当前等待项
	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	forManager, err := svc.ListPending(ctx, manager)
	if err != nil {
		t.Fatalf("list for manager: %v", err)
	}
	if len(forManager) != 3 {
		t.Fatalf("manager sees %d requests, want 3", len(forManager))
	}
}
