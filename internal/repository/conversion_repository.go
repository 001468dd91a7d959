package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"gorm.io/gorm"
)

// ConversionRepository 资产改造仓储
type ConversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository 创建资产改造仓储
func NewConversionRepository(db *gorm.DB) *ConversionRepository {
	return &ConversionRepository{db: db}
}

// DB 返回底层连接，供服务层开启跨仓储事务
func (r *ConversionRepository) DB() *gorm.DB {
	return r.db
}

// FindByID 根据ID查找改造单
func (r *ConversionRepository) FindByID(ctx context.Context, id string) (*entity.AssetConversion, error) {
	var conv entity.AssetConversion
	err := r.db.WithContext(ctx).Preload("Asset").Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// Create 创建改造单
func (r *ConversionRepository) Create(ctx context.Context, conv *entity.AssetConversion) error {
	if conv.ID == "" {
		conv.ID = generateID()
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	return r.db.WithContext(ctx).Create(conv).Error
}

// GenerateRequestNumber 生成改造单号 CV-YYYYMMDDnnnn
func (r *ConversionRepository) GenerateRequestNumber() string {
	return fmt.Sprintf("CV-%s%04d", time.Now().Format("20060102"), time.Now().UnixNano()%10000)
}

// AdvanceStatus 以期望前状态为条件的比较写入
func (r *ConversionRepository) AdvanceStatus(tx *gorm.DB, id, expectedStatus string, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	result := tx.Model(&entity.AssetConversion{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// List 改造单列表
func (r *ConversionRepository) List(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]entity.AssetConversion, int64, error) {
	var convs []entity.AssetConversion
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.AssetConversion{})
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if assetID, ok := filters["asset_id"].(string); ok && assetID != "" {
		query = query.Where("asset_id = ?", assetID)
	}
	if requestedBy, ok := filters["requested_by"].(string); ok && requestedBy != "" {
		query = query.Where("requested_by = ?", requestedBy)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Preload("Asset").Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&convs).Error
	if err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}
