package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/lifecycle"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const assetStatusCacheTTL = 5 * time.Minute

// LifecycleService 资产生命周期引擎。
// 资产状态只经由这里变更：无需审批的流转立即执行并记历史，
// 需审批的流转转为台账请求，由执行回调在终批时落地。
type LifecycleService struct {
	assetRepo   *repository.AssetRepository
	approvalSvc *ApprovalService
	rdb         *redis.Client
	logger      *zap.Logger
}

// NewLifecycleService 创建生命周期引擎
func NewLifecycleService(assetRepo *repository.AssetRepository, approvalSvc *ApprovalService, rdb *redis.Client, logger *zap.Logger) *LifecycleService {
	return &LifecycleService{
		assetRepo:   assetRepo,
		approvalSvc: approvalSvc,
		rdb:         rdb,
		logger:      logger,
	}
}

// TransitionOption 某个目标状态对当前调用者的可用性标注
type TransitionOption struct {
	State            lifecycle.State `json:"state"`
	CanRequest       bool            `json:"can_request"`
	RequiresApproval bool            `json:"requires_approval"`
}

// TransitionResult 流转请求的两种结果：立即执行 或 已创建审批。
// 单一返回变体而非两个接口，规则变化时客户端契约不变。
type TransitionResult struct {
	Executed   bool                           `json:"executed"`
	History    *entity.LifecycleHistoryEntry  `json:"history,omitempty"`
	ApprovalID string                         `json:"approval_id,omitempty"`
}

// ValidTransitionsFor 资产当前状态下的一跳可达集合，
// 按调用者角色标注是否可发起、是否需审批
func (s *LifecycleService) ValidTransitionsFor(ctx context.Context, assetID string, caller entity.Actor) ([]TransitionOption, error) {
	asset, err := s.assetRepo.FindByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	targets := lifecycle.ValidTransitions(asset.LifecycleState)
	options := make([]TransitionOption, 0, len(targets))
	for _, target := range targets {
		rule, err := lifecycle.TransitionRule(asset.LifecycleState, target.Value)
		if err != nil {
			return nil, err
		}
		options = append(options, TransitionOption{
			State:            target,
			CanRequest:       caller.CanAct(rule.RequestLevel),
			RequiresApproval: rule.RequiresApproval,
		})
	}
	return options, nil
}

// RequestTransition 发起状态流转。
// 权限按请求级别校验；需审批的流转创建台账请求并延迟执行。
func (s *LifecycleService) RequestTransition(ctx context.Context, assetID, targetState string, requester entity.Actor, reason string) (*TransitionResult, error) {
	asset, err := s.assetRepo.FindByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if lifecycle.IsTerminal(asset.LifecycleState) {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, asset.LifecycleState)
	}

	rule, err := lifecycle.TransitionRule(asset.LifecycleState, targetState)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, asset.LifecycleState, targetState)
	}
	if !requester.CanAct(rule.RequestLevel) {
		return nil, fmt.Errorf("%w: level %d required to request %s -> %s, requester has %d",
			ErrPermissionDenied, rule.RequestLevel, asset.LifecycleState, targetState, requester.RoleLevel)
	}

	if rule.RequiresApproval {
		req, err := s.approvalSvc.Create(ctx,
			entity.ResourceTypeAssetTransition, assetID,
			fmt.Sprintf("transition_to_%s", targetState),
			requester.ID,
			entity.JSONB{
				"from_state": asset.LifecycleState,
				"to_state":   targetState,
				"reason":     reason,
			},
			ApprovalPolicy{
				Levels:  rule.ApprovalLevels,
				LevelL1: rule.ApproverLevelL1,
				LevelL2: rule.ApproverLevelL2,
			},
		)
		if err != nil {
			return nil, err
		}
		return &TransitionResult{Executed: false, ApprovalID: req.ID}, nil
	}

	history := &entity.LifecycleHistoryEntry{
		AssetID:     assetID,
		FromState:   asset.LifecycleState,
		ToState:     targetState,
		Reason:      reason,
		PerformedBy: requester.ID,
	}
	applied, err := s.assetRepo.TransitionState(ctx, nil, assetID, asset.LifecycleState, targetState, history)
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: asset %s left state %s", ErrConcurrentModification, assetID, asset.LifecycleState)
	}
	s.invalidateStatusCache(ctx, assetID)

	s.logger.Info("lifecycle transition executed",
		zap.String("asset_id", assetID),
		zap.String("from", history.FromState),
		zap.String("to", history.ToState),
		zap.String("by", requester.ID),
	)
	return &TransitionResult{Executed: true, History: history}, nil
}

// ExecuteApproved 台账终批时的执行回调（资源类型 asset_transition）。
// 依据创建时的快照执行；资产已离开原状态时报过期流转，绝不落地。
func (s *LifecycleService) ExecuteApproved(tx *gorm.DB, req *entity.ApprovalRequest) error {
	fromState, _ := req.DataSnapshot["from_state"].(string)
	toState, _ := req.DataSnapshot["to_state"].(string)
	reason, _ := req.DataSnapshot["reason"].(string)
	if fromState == "" || toState == "" {
		return fmt.Errorf("approval %s has malformed transition snapshot", req.ID)
	}

	history := &entity.LifecycleHistoryEntry{
		AssetID:     req.ResourceID,
		FromState:   fromState,
		ToState:     toState,
		Reason:      reason,
		PerformedBy: req.RequestedBy,
		Metadata: entity.JSONB{
			"approval_id":    req.ID,
			"approved_by_l1": req.ApprovedByL1,
			"approved_by_l2": req.ApprovedByL2,
		},
	}
	applied, err := s.assetRepo.TransitionState(context.Background(), tx, req.ResourceID, fromState, toState, history)
	if err != nil {
		return fmt.Errorf("apply approved transition: %w", err)
	}
	if !applied {
		return fmt.Errorf("%w: asset %s no longer in state %s", ErrStaleTransition, req.ResourceID, fromState)
	}
	return nil
}

// afterApprovedTransition 审批事务提交后失效状态缓存。
// 缓存失效放在提交前的话，并发读会在失效与提交之间把旧状态重新
// 灌进缓存，直到 TTL 过期才纠正。
func (s *LifecycleService) afterApprovedTransition(req *entity.ApprovalRequest) {
	s.invalidateStatusCache(context.Background(), req.ResourceID)
}

// SystemTransition 系统内部流转（如工单完工把资产拉回运行状态）。
// 走执行路径而非对外请求路径：校验边存在与当前状态，但不做权限与审批。
// 在调用方事务内运行，状态缓存由调用方在提交后失效。
func (s *LifecycleService) SystemTransition(ctx context.Context, tx *gorm.DB, assetID, fromState, toState, actorID, reason string) error {
	if _, err := lifecycle.TransitionRule(fromState, toState); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, fromState, toState)
	}

	history := &entity.LifecycleHistoryEntry{
		AssetID:     assetID,
		FromState:   fromState,
		ToState:     toState,
		Reason:      reason,
		PerformedBy: actorID,
		Metadata:    entity.JSONB{"system": true},
	}
	applied, err := s.assetRepo.TransitionState(ctx, tx, assetID, fromState, toState, history)
	if err != nil {
		return fmt.Errorf("apply system transition: %w", err)
	}
	if !applied {
		return fmt.Errorf("%w: asset %s no longer in state %s", ErrStaleTransition, assetID, fromState)
	}
	return nil
}

// AssetStatus 资产当前状态视图
type AssetStatus struct {
	AssetID        string          `json:"asset_id"`
	LifecycleState lifecycle.State `json:"lifecycle_state"`
}

// GetStatus 资产当前状态，redis 读穿缓存，流转时失效
func (s *LifecycleService) GetStatus(ctx context.Context, assetID string) (*AssetStatus, error) {
	key := statusCacheKey(assetID)
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, key).Result(); err == nil {
			var status AssetStatus
			if json.Unmarshal([]byte(cached), &status) == nil {
				return &status, nil
			}
		}
	}

	asset, err := s.assetRepo.FindByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	state, ok := lifecycle.StateByValue(asset.LifecycleState)
	if !ok {
		return nil, fmt.Errorf("asset %s has unknown lifecycle state %q", assetID, asset.LifecycleState)
	}
	status := &AssetStatus{AssetID: assetID, LifecycleState: state}

	if s.rdb != nil {
		if data, err := json.Marshal(status); err == nil {
			s.rdb.Set(ctx, key, data, assetStatusCacheTTL)
		}
	}
	return status, nil
}

// History 资产流转历史
func (s *LifecycleService) History(ctx context.Context, assetID string) ([]entity.LifecycleHistoryEntry, error) {
	if _, err := s.assetRepo.FindByID(ctx, assetID); err != nil {
		return nil, err
	}
	return s.assetRepo.ListHistory(ctx, assetID)
}

// States 全部生命周期状态定义
func (s *LifecycleService) States() []lifecycle.State {
	return lifecycle.AllStates()
}

func statusCacheKey(assetID string) string {
	return "asset:status:" + assetID
}

func (s *LifecycleService) invalidateStatusCache(ctx context.Context, assetID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, statusCacheKey(assetID)).Err(); err != nil {
		s.logger.Warn("invalidate status cache", zap.String("asset_id", assetID), zap.Error(err))
	}
}
