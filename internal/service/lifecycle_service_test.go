package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-ams/internal/lifecycle"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/bitfantasy/nimo-ams/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type lifecycleEnv struct {
	db           *gorm.DB
	assetRepo    *repository.AssetRepository
	approvalSvc  *ApprovalService
	lifecycleSvc *LifecycleService
}

func setupLifecycleTest(t *testing.T) *lifecycleEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	assetRepo := repository.NewAssetRepository(db)
	approvalSvc := NewApprovalService(repository.NewApprovalRepository(db), zap.NewNop())
	lifecycleSvc := NewLifecycleService(assetRepo, approvalSvc, nil, zap.NewNop())
	approvalSvc.RegisterExecutor(entity.ResourceTypeAssetTransition, lifecycleSvc.ExecuteApproved, lifecycleSvc.afterApprovedTransition)
	return &lifecycleEnv{
		db:           db,
		assetRepo:    assetRepo,
		approvalSvc:  approvalSvc,
		lifecycleSvc: lifecycleSvc,
	}
}

func TestRequestTransitionPermissionDenied(t *testing.T) {
	env := setupLifecycleTest(t)
	ctx := context.Background()
	testutil.SeedTestAsset(t, env.db, "asset-1", lifecycle.StatePlanning)

	// planning → procurement 要求主管级（3），普通员工（4）不可发起
	staff := entity.Actor{ID: "staff-1", RoleLevel: entity.RoleLevelStaff}
	_, err := env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateProcurement, staff, "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// 状态未变
	asset, err := env.assetRepo.FindByID(ctx, "asset-1")
	if err != nil {
		t.Fatalf("find asset: %v", err)
	}
	if asset.LifecycleState != lifecycle.StatePlanning {
		t.Fatalf("asset moved to %s", asset.LifecycleState)
	}
}

func TestDirectTransitionExecutesImmediately(t *testing.T) {
	env := setupLifecycleTest(t)
	ctx := context.Background()
	testutil.SeedTestAsset(t, env.db, "asset-1", lifecycle.StatePlanning)

	supervisor := entity.Actor{ID: "sup-1", RoleLevel: entity.RoleLevelSupervisor}
	result, err := env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateProcurement, supervisor, "approved budget")
	if err != nil {
		t.Fatalf("request transition: %v", err)
	}
	if !result.Executed {
		t.Fatal("direct transition should execute immediately")
	}
	if result.History == nil || result.History.ToState != lifecycle.StateProcurement {
		t.Fatalf("unexpected history: %+v", result.History)
	}

	asset, _ := env.assetRepo.FindByID(ctx, "asset-1")
	if asset.LifecycleState != lifecycle.StateProcurement {
		t.Fatalf("asset state = %s, want procurement", asset.LifecycleState)
	}

	entries, err := env.lifecycleSvc.History(ctx, "asset-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].PerformedBy != "sup-1" || entries[0].Reason != "approved budget" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestApprovalGatedTransitionFlow(t *testing.T) {
	env := setupLifecycleTest(t)
	ctx := context.Background()
	testutil.SeedTestAsset(t, env.db, "asset-1", lifecycle.StateInInventory)

	supervisor := entity.Actor{ID: "sup-1", RoleLevel: entity.RoleLevelSupervisor}
	result, err := env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateUnderConversion, supervisor, "convert to test rig")
	if err != nil {
		t.Fatalf("request transition: %v", err)
	}
	if result.Executed {
		t.Fatal("approval-gated transition must not execute immediately")
	}
	if result.ApprovalID == "" {
		t.Fatal("approval id missing")
	}

	// 审批未过之前状态不变，重复发起被拒
	asset, _ := env.assetRepo.FindByID(ctx, "asset-1")
	if asset.LifecycleState != lifecycle.StateInInventory {
		t.Fatalf("asset moved early to %s", asset.LifecycleState)
	}
	_, err = env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateUnderConversion, supervisor, "again")
	if !errors.Is(err, ErrDuplicatePendingRequest) {
		t.Fatalf("expected ErrDuplicatePendingRequest, got %v", err)
	}

	// 经理批准后流转落地
	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	approved, err := env.approvalSvc.Approve(ctx, result.ApprovalID, manager, "go ahead")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != entity.ApprovalStatusExecuted {
		t.Fatalf("approval status = %s, want executed", approved.Status)
	}

	asset, _ = env.assetRepo.FindByID(ctx, "asset-1")
	if asset.LifecycleState != lifecycle.StateUnderConversion {
		t.Fatalf("asset state = %s, want under_conversion", asset.LifecycleState)
	}

	entries, _ := env.lifecycleSvc.History(ctx, "asset-1")
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].PerformedBy != "sup-1" {
		t.Fatalf("history performed_by = %s, want original requester", entries[0].PerformedBy)
	}
	if entries[0].Metadata["approval_id"] != result.ApprovalID {
		t.Fatalf("history metadata missing approval id: %+v", entries[0].Metadata)
	}
}

func TestStaleApprovedTransitionNeverLands(t *testing.T) {
	env := setupLifecycleTest(t)
	ctx := context.Background()
	testutil.SeedTestAsset(t, env.db, "asset-1", lifecycle.StateDeployed)

	supervisor := entity.Actor{ID: "sup-1", RoleLevel: entity.RoleLevelSupervisor}
	result, err := env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateRetired, supervisor, "old hardware")
	if err != nil {
		t.Fatalf("request transition: %v", err)
	}

	// 审批在途期间资产被直接移回库存
	if _, err := env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateInInventory, supervisor, "pulled back"); err != nil {
		t.Fatalf("pull back: %v", err)
	}

	// 二级链：一级通过，二级终批触发执行，但流转已过期
	manager := entity.Actor{ID: "mgr-1", RoleLevel: entity.RoleLevelManager}
	if _, err := env.approvalSvc.Approve(ctx, result.ApprovalID, supervisor, ""); err != nil {
		t.Fatalf("l1 approve: %v", err)
	}
	_, err = env.approvalSvc.Approve(ctx, result.ApprovalID, manager, "")
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	// 资产保持现状，审批停留在 approved_l2
	asset, _ := env.assetRepo.FindByID(ctx, "asset-1")
	if asset.LifecycleState != lifecycle.StateInInventory {
		t.Fatalf("asset state = %s, want in_inventory", asset.LifecycleState)
	}
	req, _ := env.approvalSvc.Get(ctx, result.ApprovalID)
	if req.Status != entity.ApprovalStatusApprovedL2 {
		t.Fatalf("approval status = %s, want approved_l2", req.Status)
	}
}

func TestTerminalStateBlocksRequests(t *testing.T) {
	env := setupLifecycleTest(t)
	ctx := context.Background()
	testutil.SeedTestAsset(t, env.db, "asset-1", lifecycle.StateDisposed)

	admin := entity.Actor{ID: "admin-1", RoleLevel: entity.RoleLevelAdmin}
	_, err := env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateRetired, admin, "undo")
	if !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestUnknownEdgeRejected(t *testing.T) {
	env := setupLifecycleTest(t)
	ctx := context.Background()
	testutil.SeedTestAsset(t, env.db, "asset-1", lifecycle.StatePlanning)

	admin := entity.Actor{ID: "admin-1", RoleLevel: entity.RoleLevelAdmin}
	_, err := env.lifecycleSvc.RequestTransition(ctx, "asset-1", lifecycle.StateDeployed, admin, "skip ahead")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestValidTransitionsAnnotated(t *testing.T) {
	env := setupLifecycleTest(t)
	ctx := context.Background()
	testutil.SeedTestAsset(t, env.db, "asset-1", lifecycle.StateInInventory)

	staff := entity.Actor{ID: "staff-1", RoleLevel: entity.RoleLevelStaff}
	options, err := env.lifecycleSvc.ValidTransitionsFor(ctx, "asset-1", staff)
	if err != nil {
		t.Fatalf("valid transitions: %v", err)
	}

	byState := make(map[string]TransitionOption, len(options))
	for _, o := range options {
		byState[o.State.Value] = o
	}
	conv, ok := byState[lifecycle.StateUnderConversion]
	if !ok {
		t.Fatal("under_conversion missing from options")
	}
	if conv.CanRequest {
		t.Fatal("staff should not be able to request conversion")
	}
	if !conv.RequiresApproval {
		t.Fatal("conversion edge should require approval")
	}
}
