package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
)

// generateID 生成32位ID
func generateID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:32]
}

// Repositories 仓储集合
type Repositories struct {
	Asset      *AssetRepository
	Approval   *ApprovalRepository
	Conversion *ConversionRepository
	WorkOrder  *WorkOrderRepository
	User       *UserRepository
}

// NewRepositories 创建仓储集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Asset:      NewAssetRepository(db),
		Approval:   NewApprovalRepository(db),
		Conversion: NewConversionRepository(db),
		WorkOrder:  NewWorkOrderRepository(db),
		User:       NewUserRepository(db),
	}
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.User{},
		&entity.Asset{},
		&entity.LifecycleHistoryEntry{},
		&entity.AssetExpense{},
		&entity.ApprovalRequest{},
		&entity.AssetConversion{},
		&entity.WorkOrder{},
		&entity.WorkOrderTask{},
		&entity.WorkOrderPart{},
		&entity.WorkOrderAttachment{},
	)
}

// UserRepository 用户仓储
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}
