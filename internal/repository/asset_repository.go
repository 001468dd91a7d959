package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"gorm.io/gorm"
)

// AssetRepository 资产仓储
type AssetRepository struct {
	db *gorm.DB
}

// NewAssetRepository 创建资产仓储
func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// FindByID 根据ID查找资产
func (r *AssetRepository) FindByID(ctx context.Context, id string) (*entity.Asset, error) {
	var asset entity.Asset
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// Create 创建资产
func (r *AssetRepository) Create(ctx context.Context, asset *entity.Asset) error {
	if asset.ID == "" {
		asset.ID = generateID()
	}
	return r.db.WithContext(ctx).Create(asset).Error
}

// List 资产列表
func (r *AssetRepository) List(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]entity.Asset, int64, error) {
	var assets []entity.Asset
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Asset{})
	if state, ok := filters["lifecycle_state"].(string); ok && state != "" {
		query = query.Where("lifecycle_state = ?", state)
	}
	if categoryID, ok := filters["category_id"].(string); ok && categoryID != "" {
		query = query.Where("category_id = ?", categoryID)
	}
	if keyword, ok := filters["keyword"].(string); ok && keyword != "" {
		query = query.Where("name ILIKE ? OR asset_tag ILIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&assets).Error
	if err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

// TransitionState 在同一事务内执行状态流转并写入历史。
// 以 fromState 作为条件做比较写入，资产状态已变时不落任何数据，
// 由调用方据 RowsAffected 判定过期流转。未传入外部事务时自行开启，
// 历史写入失败会连同状态变更一起回滚，不存在只改状态不留痕的情况。
func (r *AssetRepository) TransitionState(ctx context.Context, tx *gorm.DB, assetID, fromState, toState string, history *entity.LifecycleHistoryEntry) (bool, error) {
	applied := false
	run := func(db *gorm.DB) error {
		result := db.Model(&entity.Asset{}).
			Where("id = ? AND lifecycle_state = ?", assetID, fromState).
			Updates(map[string]interface{}{
				"lifecycle_state": toState,
				"updated_at":      time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if history.ID == "" {
			history.ID = generateID()
		}
		if history.CreatedAt.IsZero() {
			history.CreatedAt = time.Now()
		}
		if err := db.Create(history).Error; err != nil {
			return err
		}
		applied = true
		return nil
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = r.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListHistory 资产流转历史，新到旧
func (r *AssetRepository) ListHistory(ctx context.Context, assetID string) ([]entity.LifecycleHistoryEntry, error) {
	var entries []entity.LifecycleHistoryEntry
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ApplyConversion 在事务内执行改造落地：类目/规格变更 + 费用处理
func (r *AssetRepository) ApplyConversion(tx *gorm.DB, assetID, toCategoryID string, specs entity.JSONB, capitalizedDelta float64) error {
	updates := map[string]interface{}{
		"category_id": toCategoryID,
		"updated_at":  time.Now(),
	}
	if specs != nil {
		updates["specifications"] = specs
	}
	if capitalizedDelta != 0 {
		updates["capitalized_value"] = gorm.Expr("capitalized_value + ?", capitalizedDelta)
	}
	return tx.Model(&entity.Asset{}).Where("id = ?", assetID).Updates(updates).Error
}

// AddExpense 写入费用记录
func (r *AssetRepository) AddExpense(tx *gorm.DB, expense *entity.AssetExpense) error {
	if expense.ID == "" {
		expense.ID = generateID()
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now()
	}
	return tx.Create(expense).Error
}
