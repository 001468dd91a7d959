package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"gorm.io/gorm"
)

// ApprovalRepository 审批台账仓储
type ApprovalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository 创建审批台账仓储
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// DB 返回底层连接，供服务层开启跨仓储事务
func (r *ApprovalRepository) DB() *gorm.DB {
	return r.db
}

// FindByID 根据ID查找审批请求
func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// FindByIDForUpdate 事务内加行锁读取
func (r *ApprovalRepository) FindByIDForUpdate(tx *gorm.DB, id string) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	err := tx.Raw("SELECT * FROM approval_requests WHERE id = ? FOR UPDATE", id).Scan(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, ErrNotFound
	}
	return &req, nil
}

// HasUnresolved 同一 (resource_type, resource_id, action_type) 是否已有未完结请求
func (r *ApprovalRepository) HasUnresolved(ctx context.Context, resourceType, resourceID, actionType string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.ApprovalRequest{}).
		Where("resource_type = ? AND resource_id = ? AND action_type = ? AND status IN ?",
			resourceType, resourceID, actionType,
			[]string{entity.ApprovalStatusPending, entity.ApprovalStatusApprovedL1, entity.ApprovalStatusApprovedL2}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create 创建审批请求
func (r *ApprovalRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = generateID()
	}
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	return r.db.WithContext(ctx).Create(req).Error
}

// AdvanceStatus 以期望前状态为条件的比较写入。
// 状态已被并发修改时返回 false，不落任何数据。
func (r *ApprovalRepository) AdvanceStatus(tx *gorm.DB, id, expectedStatus string, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	result := tx.Model(&entity.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListPendingForLevel 审批人级别可处理的未完结请求。
// 一级链等待 L1，二级链首签后等待 L2；已批全待执行的请求仍由终签
// 级别处置（重试或驳回）。级别数字越小权限越高。
func (r *ApprovalRepository) ListPendingForLevel(ctx context.Context, approverLevel int) ([]entity.ApprovalRequest, error) {
	var reqs []entity.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("(status = ? AND required_level_l1 >= ?) OR (status = ? AND approval_levels = 2 AND required_level_l2 >= ?) OR (status = ? AND approval_levels = 1 AND required_level_l1 >= ?) OR (status = ? AND required_level_l2 >= ?)",
			entity.ApprovalStatusPending, approverLevel,
			entity.ApprovalStatusApprovedL1, approverLevel,
			entity.ApprovalStatusApprovedL1, approverLevel,
			entity.ApprovalStatusApprovedL2, approverLevel).
		Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// ListByRequester 某用户发起的全部请求
func (r *ApprovalRepository) ListByRequester(ctx context.Context, requester string) ([]entity.ApprovalRequest, error) {
	var reqs []entity.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("requested_by = ?", requester).
		Order("created_at DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}
