package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExecutorFunc 资源特定的执行回调。在审批进入 executed 的同一事务内调用，
// 回调失败整个事务回滚，审批停留在已批准待执行状态，可重试。
type ExecutorFunc func(tx *gorm.DB, req *entity.ApprovalRequest) error

// AfterExecuteFunc 执行事务提交后的副作用回调，缓存失效、事件推送
// 等不可回滚的动作放这里，避免在未提交的事务内对外发布状态。
type AfterExecuteFunc func(req *entity.ApprovalRequest)

type approvalExecutor struct {
	run   ExecutorFunc
	after []AfterExecuteFunc
}

// ApprovalPolicy 审批策略，创建请求时快照到行上
type ApprovalPolicy struct {
	Levels  int
	LevelL1 int
	LevelL2 int
}

// ApprovalService 通用审批台账。
// 拥有所有可审批动作的生命周期，动作本身做什么由注册的执行回调决定。
type ApprovalService struct {
	repo   *repository.ApprovalRepository
	logger *zap.Logger

	mu        sync.RWMutex
	executors map[string]approvalExecutor
}

// NewApprovalService 创建审批台账服务
func NewApprovalService(repo *repository.ApprovalRepository, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		repo:      repo,
		logger:    logger,
		executors: make(map[string]approvalExecutor),
	}
}

// RegisterExecutor 注册资源类型的执行回调，可附带若干提交后回调。
// 新资源类型在装配时注册即可接入，台账不感知具体动作。
func (s *ApprovalService) RegisterExecutor(resourceType string, fn ExecutorFunc, after ...AfterExecuteFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[resourceType] = approvalExecutor{run: fn, after: after}
}

func (s *ApprovalService) executor(resourceType string) (approvalExecutor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executors[resourceType]
	if !ok {
		return approvalExecutor{}, fmt.Errorf("no executor registered for resource type %q", resourceType)
	}
	return ex, nil
}

// Create 创建审批请求。同一 (resource_type, resource_id, action_type)
// 存在未完结请求时拒绝，防止同一目标上的并发冲突提案。
func (s *ApprovalService) Create(ctx context.Context, resourceType, resourceID, actionType, requestedBy string, snapshot entity.JSONB, policy ApprovalPolicy) (*entity.ApprovalRequest, error) {
	if policy.Levels != 1 && policy.Levels != 2 {
		return nil, fmt.Errorf("approval policy levels must be 1 or 2, got %d", policy.Levels)
	}

	exists, err := s.repo.HasUnresolved(ctx, resourceType, resourceID, actionType)
	if err != nil {
		return nil, fmt.Errorf("check unresolved requests: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s/%s %s", ErrDuplicatePendingRequest, resourceType, resourceID, actionType)
	}

	req := &entity.ApprovalRequest{
		ResourceType:         resourceType,
		ResourceID:           resourceID,
		ActionType:           actionType,
		RequestedBy:          requestedBy,
		DataSnapshot:         snapshot,
		Status:               entity.ApprovalStatusPending,
		CurrentApprovalLevel: 1,
		ApprovalLevels:       policy.Levels,
		RequiredLevelL1:      policy.LevelL1,
		RequiredLevelL2:      policy.LevelL2,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	s.logger.Info("approval request created",
		zap.String("id", req.ID),
		zap.String("resource_type", resourceType),
		zap.String("resource_id", resourceID),
		zap.String("action_type", actionType),
		zap.Int("levels", policy.Levels),
	)
	return req, nil
}

// Approve 审批通过。先校验审批人级别对当前处置级别是否足够，
// 再以比较写入推进状态；最终批准在同一事务内触发执行回调。
// 对已批准但执行失败的请求，再次 Approve 只重试执行。
func (s *ApprovalService) Approve(ctx context.Context, id string, approver entity.Actor, notes string) (*entity.ApprovalRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	level := req.AwaitingLevel()
	if level == 0 {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, req.Status)
	}
	if required := req.RequiredLevelFor(level); !approver.CanAct(required) {
		return nil, fmt.Errorf("%w: level %d required for approval level %d, approver has %d",
			ErrPermissionDenied, required, level, approver.RoleLevel)
	}

	switch req.Status {
	case entity.ApprovalStatusPending:
		updates := map[string]interface{}{
			"status":         entity.ApprovalStatusApprovedL1,
			"notes_l1":       notes,
			"approved_by_l1": approver.ID,
		}
		if req.ApprovalLevels == 2 {
			updates["current_approval_level"] = 2
		}
		if err := s.advance(ctx, id, entity.ApprovalStatusPending, updates); err != nil {
			return nil, err
		}
		if req.ApprovalLevels == 2 {
			// 等待二级审批
			return s.repo.FindByID(ctx, id)
		}
		return s.finalize(ctx, id, entity.ApprovalStatusApprovedL1)

	case entity.ApprovalStatusApprovedL1:
		if req.ApprovalLevels == 2 {
			if err := s.advance(ctx, id, entity.ApprovalStatusApprovedL1, map[string]interface{}{
				"status":         entity.ApprovalStatusApprovedL2,
				"notes_l2":       notes,
				"approved_by_l2": approver.ID,
			}); err != nil {
				return nil, err
			}
			return s.finalize(ctx, id, entity.ApprovalStatusApprovedL2)
		}
		// 一级链已批准但执行未成功，重试执行
		return s.finalize(ctx, id, entity.ApprovalStatusApprovedL1)

	default:
		// approved_l2，审批已完结，仅执行待重试
		return s.finalize(ctx, id, entity.ApprovalStatusApprovedL2)
	}
}

// Reject 审批驳回，理由必填。pending 由一级审批人驳回，
// approved_l1（二级链）由二级审批人驳回；已批准但执行始终失败的
// 请求（一级链 approved_l1、二级链 approved_l2）由终签级别驳回作废，
// 避免滞留占住同目标的后续提案。终态拒绝一切操作。
func (s *ApprovalService) Reject(ctx context.Context, id string, approver entity.Actor, notes string) (*entity.ApprovalRequest, error) {
	if notes == "" {
		return nil, fmt.Errorf("rejection notes required")
	}

	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	level := req.AwaitingLevel()
	if level == 0 {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, req.Status)
	}
	if required := req.RequiredLevelFor(level); !approver.CanAct(required) {
		return nil, fmt.Errorf("%w: level %d required for approval level %d, approver has %d",
			ErrPermissionDenied, required, level, approver.RoleLevel)
	}

	updates := map[string]interface{}{"status": entity.ApprovalStatusRejected}
	if level == 2 {
		updates["notes_l2"] = notes
		updates["approved_by_l2"] = approver.ID
	} else {
		updates["notes_l1"] = notes
		updates["approved_by_l1"] = approver.ID
	}
	if err := s.advance(ctx, id, req.Status, updates); err != nil {
		return nil, err
	}

	s.logger.Info("approval request rejected",
		zap.String("id", id),
		zap.String("approver", approver.ID),
	)
	return s.repo.FindByID(ctx, id)
}

// Get 查询审批请求
func (s *ApprovalService) Get(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	return s.repo.FindByID(ctx, id)
}

// ListPending 审批人可处理的未完结请求
func (s *ApprovalService) ListPending(ctx context.Context, approver entity.Actor) ([]entity.ApprovalRequest, error) {
	return s.repo.ListPendingForLevel(ctx, approver.RoleLevel)
}

// ListMine 请求人发起的全部请求
func (s *ApprovalService) ListMine(ctx context.Context, requester string) ([]entity.ApprovalRequest, error) {
	return s.repo.ListByRequester(ctx, requester)
}

// advance 比较写入推进状态；失败时重读区分终态与并发修改
func (s *ApprovalService) advance(ctx context.Context, id, expectedStatus string, updates map[string]interface{}) error {
	ok, err := s.repo.AdvanceStatus(s.repo.DB().WithContext(ctx), id, expectedStatus, updates)
	if err != nil {
		return fmt.Errorf("advance approval status: %w", err)
	}
	if !ok {
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return fmt.Errorf("%w: status %s", ErrAlreadyFinalized, current.Status)
		}
		return fmt.Errorf("%w: expected status %s, found %s", ErrConcurrentModification, expectedStatus, current.Status)
	}
	return nil
}

// finalize 进入 executed 并调用执行回调，二者在同一事务内原子完成。
// 事务内先对请求行加锁复核状态，回调基于创建时的数据快照，不读
// 实时提案数据；提交成功后再运行注册的提交后回调。
func (s *ApprovalService) finalize(ctx context.Context, id, fromStatus string) (*entity.ApprovalRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ex, err := s.executor(req.ResourceType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDForUpdate(tx, id)
		if err != nil {
			return err
		}
		if locked.Status != fromStatus {
			return fmt.Errorf("%w: request %s no longer in %s", ErrConcurrentModification, id, fromStatus)
		}
		ok, err := s.repo.AdvanceStatus(tx, id, fromStatus, map[string]interface{}{
			"status":      entity.ApprovalStatusExecuted,
			"executed_at": now,
		})
		if err != nil {
			return fmt.Errorf("mark executed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: request %s no longer in %s", ErrConcurrentModification, id, fromStatus)
		}
		return ex.run(tx, locked)
	})
	if err != nil {
		s.logger.Warn("approval execution failed, request remains approved",
			zap.String("id", id),
			zap.String("resource_type", req.ResourceType),
			zap.Error(err),
		)
		return nil, err
	}

	for _, after := range ex.after {
		after(req)
	}

	s.logger.Info("approval request executed",
		zap.String("id", id),
		zap.String("resource_type", req.ResourceType),
		zap.String("resource_id", req.ResourceID),
	)
	return s.repo.FindByID(ctx, id)
}
