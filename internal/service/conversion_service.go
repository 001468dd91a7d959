package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/lifecycle"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 改造审批门槛：经理级
const conversionApproverLevel = 2

// ConversionService 资产改造流程。
// 与台账同构的 request/approve/execute 专用化：批准后由执行人落地
// 类目/规格变更，费用按资本化或费用化处理。
type ConversionService struct {
	convRepo  *repository.ConversionRepository
	assetRepo *repository.AssetRepository
	logger    *zap.Logger
}

// NewConversionService 创建改造流程服务
func NewConversionService(convRepo *repository.ConversionRepository, assetRepo *repository.AssetRepository, logger *zap.Logger) *ConversionService {
	return &ConversionService{convRepo: convRepo, assetRepo: assetRepo, logger: logger}
}

// CreateConversionRequest 创建改造申请参数
type CreateConversionRequest struct {
	AssetID              string       `json:"asset_id" binding:"required"`
	Title                string       `json:"title" binding:"required"`
	ToCategoryID         string       `json:"to_category_id" binding:"required"`
	TargetSpecifications entity.JSONB `json:"target_specifications"`
	ConversionCost       float64      `json:"conversion_cost" binding:"gte=0"`
	CostTreatment        string       `json:"cost_treatment" binding:"required,oneof=capitalize expense"`
	Reason               string       `json:"reason" binding:"required"`
}

// CreateRequest 创建改造申请，初始 pending
func (s *ConversionService) CreateRequest(ctx context.Context, req CreateConversionRequest, requester entity.Actor) (*entity.AssetConversion, error) {
	asset, err := s.assetRepo.FindByID(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if lifecycle.IsTerminal(asset.LifecycleState) {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, asset.LifecycleState)
	}

	conv := &entity.AssetConversion{
		RequestNumber:        s.convRepo.GenerateRequestNumber(),
		AssetID:              req.AssetID,
		Title:                req.Title,
		Status:               entity.ConversionStatusPending,
		FromCategoryID:       asset.CategoryID,
		ToCategoryID:         req.ToCategoryID,
		TargetSpecifications: req.TargetSpecifications,
		ConversionCost:       req.ConversionCost,
		CostTreatment:        req.CostTreatment,
		Reason:               req.Reason,
		RequestedBy:          requester.ID,
		RequestDate:          time.Now(),
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversion request: %w", err)
	}

	s.logger.Info("conversion request created",
		zap.String("id", conv.ID),
		zap.String("request_number", conv.RequestNumber),
		zap.String("asset_id", conv.AssetID),
	)
	return conv, nil
}

// Get 查询改造单
func (s *ConversionService) Get(ctx context.Context, id string) (*entity.AssetConversion, error) {
	return s.convRepo.FindByID(ctx, id)
}

// List 改造单列表
func (s *ConversionService) List(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]entity.AssetConversion, int64, error) {
	return s.convRepo.List(ctx, page, pageSize, filters)
}

// Approve 批准改造，pending → approved，要求经理级（≤2）
func (s *ConversionService) Approve(ctx context.Context, id string, approver entity.Actor) (*entity.AssetConversion, error) {
	if !approver.CanAct(conversionApproverLevel) {
		return nil, fmt.Errorf("%w: level %d required to approve conversions, approver has %d",
			ErrPermissionDenied, conversionApproverLevel, approver.RoleLevel)
	}

	conv, err := s.convRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status != entity.ConversionStatusPending {
		return nil, s.statusError(conv.Status)
	}

	now := time.Now()
	if err := s.advance(ctx, id, entity.ConversionStatusPending, map[string]interface{}{
		"status":        entity.ConversionStatusApproved,
		"approved_by":   approver.ID,
		"approval_date": now,
	}); err != nil {
		return nil, err
	}
	return s.convRepo.FindByID(ctx, id)
}

// Reject 驳回改造，pending → rejected（终态），理由必填
func (s *ConversionService) Reject(ctx context.Context, id string, approver entity.Actor, reason string) (*entity.AssetConversion, error) {
	if reason == "" {
		return nil, fmt.Errorf("rejection reason required")
	}
	if !approver.CanAct(conversionApproverLevel) {
		return nil, fmt.Errorf("%w: level %d required to reject conversions, approver has %d",
			ErrPermissionDenied, conversionApproverLevel, approver.RoleLevel)
	}

	conv, err := s.convRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status != entity.ConversionStatusPending {
		return nil, s.statusError(conv.Status)
	}

	if err := s.advance(ctx, id, entity.ConversionStatusPending, map[string]interface{}{
		"status":           entity.ConversionStatusRejected,
		"approved_by":      approver.ID,
		"rejection_reason": reason,
	}); err != nil {
		return nil, err
	}
	return s.convRepo.FindByID(ctx, id)
}

// Execute 执行改造，approved → executed。
// 同一事务内：状态推进 + 资产类目/规格变更 + 费用处理
// （capitalize 追加资本化价值，expense 记维护费用）。
func (s *ConversionService) Execute(ctx context.Context, id string, executor entity.Actor) (*entity.AssetConversion, error) {
	conv, err := s.convRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch conv.Status {
	case entity.ConversionStatusApproved:
		// 继续执行
	case entity.ConversionStatusPending:
		return nil, fmt.Errorf("%w: conversion %s is still pending approval", ErrNotApproved, id)
	default:
		return nil, s.statusError(conv.Status)
	}

	now := time.Now()
	err = s.convRepo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.convRepo.AdvanceStatus(tx, id, entity.ConversionStatusApproved, map[string]interface{}{
			"status":         entity.ConversionStatusExecuted,
			"executed_by":    executor.ID,
			"execution_date": now,
		})
		if err != nil {
			return fmt.Errorf("mark executed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: conversion %s no longer approved", ErrConcurrentModification, id)
		}

		var capitalizedDelta float64
		if conv.CostTreatment == entity.CostTreatmentCapitalize {
			capitalizedDelta = conv.ConversionCost
		}
		if err := s.assetRepo.ApplyConversion(tx, conv.AssetID, conv.ToCategoryID, conv.TargetSpecifications, capitalizedDelta); err != nil {
			return fmt.Errorf("apply conversion to asset: %w", err)
		}
		if conv.CostTreatment == entity.CostTreatmentExpense && conv.ConversionCost > 0 {
			expense := &entity.AssetExpense{
				AssetID:     conv.AssetID,
				ExpenseType: entity.ExpenseTypeMaintenance,
				Amount:      conv.ConversionCost,
				Description: fmt.Sprintf("conversion %s: %s", conv.RequestNumber, conv.Title),
				SourceType:  "conversion",
				SourceID:    conv.ID,
				RecordedBy:  executor.ID,
			}
			if err := s.assetRepo.AddExpense(tx, expense); err != nil {
				return fmt.Errorf("record conversion expense: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversion executed",
		zap.String("id", id),
		zap.String("asset_id", conv.AssetID),
		zap.Float64("cost", conv.ConversionCost),
		zap.String("cost_treatment", conv.CostTreatment),
	)
	return s.convRepo.FindByID(ctx, id)
}

// Cancel 取消改造，仅 pending/approved 可取消
func (s *ConversionService) Cancel(ctx context.Context, id string, actor entity.Actor) (*entity.AssetConversion, error) {
	conv, err := s.convRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status != entity.ConversionStatusPending && conv.Status != entity.ConversionStatusApproved {
		return nil, s.statusError(conv.Status)
	}

	if err := s.advance(ctx, id, conv.Status, map[string]interface{}{
		"status": entity.ConversionStatusCancelled,
	}); err != nil {
		return nil, err
	}
	return s.convRepo.FindByID(ctx, id)
}

func (s *ConversionService) advance(ctx context.Context, id, expectedStatus string, updates map[string]interface{}) error {
	ok, err := s.convRepo.AdvanceStatus(s.convRepo.DB().WithContext(ctx), id, expectedStatus, updates)
	if err != nil {
		return fmt.Errorf("advance conversion status: %w", err)
	}
	if !ok {
		current, err := s.convRepo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: expected status %s, found %s", ErrConcurrentModification, expectedStatus, current.Status)
	}
	return nil
}

func (s *ConversionService) statusError(status string) error {
	switch status {
	case entity.ConversionStatusExecuted, entity.ConversionStatusRejected, entity.ConversionStatusCancelled:
		return fmt.Errorf("%w: conversion status %s", ErrAlreadyFinalized, status)
	default:
		return fmt.Errorf("%w: conversion status %s", ErrInvalidState, status)
	}
}
