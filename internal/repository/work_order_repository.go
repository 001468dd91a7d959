package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"gorm.io/gorm"
)

// ErrWorkOrderClosed 工单已完结，不再接受变更
var ErrWorkOrderClosed = errors.New("work order closed")

// WorkOrderRepository 工单仓储
type WorkOrderRepository struct {
	db *gorm.DB
}

// NewWorkOrderRepository 创建工单仓储
func NewWorkOrderRepository(db *gorm.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

// DB 返回底层连接，供服务层开启跨仓储事务
func (r *WorkOrderRepository) DB() *gorm.DB {
	return r.db
}

// FindByID 根据ID查找工单
func (r *WorkOrderRepository) FindByID(ctx context.Context, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := r.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("task_number ASC")
		}).
		Preload("Parts").
		Preload("Attachments").
		Where("id = ?", id).
		First(&wo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wo, nil
}

// Create 创建工单（含初始检查项/配件）
func (r *WorkOrderRepository) Create(ctx context.Context, wo *entity.WorkOrder) error {
	if wo.ID == "" {
		wo.ID = generateID()
	}
	now := time.Now()
	wo.CreatedAt = now
	wo.UpdatedAt = now
	for i := range wo.Tasks {
		if wo.Tasks[i].ID == "" {
			wo.Tasks[i].ID = generateID()
		}
		wo.Tasks[i].CreatedAt = now
	}
	for i := range wo.Parts {
		if wo.Parts[i].ID == "" {
			wo.Parts[i].ID = generateID()
		}
		wo.Parts[i].TotalCost = wo.Parts[i].Quantity * wo.Parts[i].UnitCost
		wo.Parts[i].CreatedAt = now
		wo.PartsCost += wo.Parts[i].TotalCost
	}
	return r.db.WithContext(ctx).Create(wo).Error
}

// GenerateWONumber 生成工单号 WO-YYYYMMDDnnnn
func (r *WorkOrderRepository) GenerateWONumber() string {
	return fmt.Sprintf("WO-%s%04d", time.Now().Format("20060102"), time.Now().UnixNano()%10000)
}

// List 工单列表
func (r *WorkOrderRepository) List(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]entity.WorkOrder, int64, error) {
	var wos []entity.WorkOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.WorkOrder{})
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if assetID, ok := filters["asset_id"].(string); ok && assetID != "" {
		query = query.Where("asset_id = ?", assetID)
	}
	if technician, ok := filters["assigned_technician"].(string); ok && technician != "" {
		query = query.Where("assigned_technician = ?", technician)
	}
	if woType, ok := filters["wo_type"].(string); ok && woType != "" {
		query = query.Where("wo_type = ?", woType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&wos).Error
	if err != nil {
		return nil, 0, err
	}
	return wos, total, nil
}

// LockForUpdate 事务内对工单行加锁，串行化同一工单上的并发修改
func (r *WorkOrderRepository) LockForUpdate(tx *gorm.DB, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := tx.Raw("SELECT * FROM work_orders WHERE id = ? FOR UPDATE", id).Scan(&wo).Error
	if err != nil {
		return nil, err
	}
	if wo.ID == "" {
		return nil, ErrNotFound
	}
	return &wo, nil
}

// lockMutable 加锁读取并校验工单未完结。
// 锁前的状态检查可能过期，检查项/配件写入以锁内读数为准。
func (r *WorkOrderRepository) lockMutable(tx *gorm.DB, id string) (*entity.WorkOrder, error) {
	wo, err := r.LockForUpdate(tx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status == entity.WOStatusCompleted || wo.Status == entity.WOStatusCancelled {
		return nil, fmt.Errorf("%w: status %s", ErrWorkOrderClosed, wo.Status)
	}
	return wo, nil
}

// recomputePartsCost 重算 parts_cost，与触发它的写操作同一事务
func (r *WorkOrderRepository) recomputePartsCost(tx *gorm.DB, workOrderID string) error {
	var sum float64
	err := tx.Model(&entity.WorkOrderPart{}).
		Where("work_order_id = ?", workOrderID).
		Select("COALESCE(SUM(total_cost), 0)").
		Scan(&sum).Error
	if err != nil {
		return err
	}
	return tx.Model(&entity.WorkOrder{}).
		Where("id = ?", workOrderID).
		Updates(map[string]interface{}{
			"parts_cost": sum,
			"updated_at": time.Now(),
		}).Error
}

// AddPart 添加配件并重算 parts_cost
func (r *WorkOrderRepository) AddPart(ctx context.Context, workOrderID string, part *entity.WorkOrderPart) (*entity.WorkOrder, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.lockMutable(tx, workOrderID); err != nil {
			return err
		}
		if part.ID == "" {
			part.ID = generateID()
		}
		part.WorkOrderID = workOrderID
		part.TotalCost = part.Quantity * part.UnitCost
		part.CreatedAt = time.Now()
		if err := tx.Create(part).Error; err != nil {
			return err
		}
		return r.recomputePartsCost(tx, workOrderID)
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, workOrderID)
}

// RemovePart 移除配件并重算 parts_cost
func (r *WorkOrderRepository) RemovePart(ctx context.Context, workOrderID, partID string) (*entity.WorkOrder, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.lockMutable(tx, workOrderID); err != nil {
			return err
		}
		result := tx.Where("id = ? AND work_order_id = ?", partID, workOrderID).
			Delete(&entity.WorkOrderPart{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return r.recomputePartsCost(tx, workOrderID)
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, workOrderID)
}

// ListParts 工单配件列表
func (r *WorkOrderRepository) ListParts(ctx context.Context, workOrderID string) ([]entity.WorkOrderPart, error) {
	var parts []entity.WorkOrderPart
	err := r.db.WithContext(ctx).
		Where("work_order_id = ?", workOrderID).
		Order("created_at ASC").
		Find(&parts).Error
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// AddTask 添加检查项，序号在事务内按现有最大值递增
func (r *WorkOrderRepository) AddTask(ctx context.Context, workOrderID, description string) (*entity.WorkOrderTask, error) {
	var task entity.WorkOrderTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.lockMutable(tx, workOrderID); err != nil {
			return err
		}
		var maxNumber int
		if err := tx.Model(&entity.WorkOrderTask{}).
			Where("work_order_id = ?", workOrderID).
			Select("COALESCE(MAX(task_number), 0)").
			Scan(&maxNumber).Error; err != nil {
			return err
		}
		task = entity.WorkOrderTask{
			ID:          generateID(),
			WorkOrderID: workOrderID,
			TaskNumber:  maxNumber + 1,
			Description: description,
			Status:      entity.WOTaskStatusPending,
			CreatedAt:   time.Now(),
		}
		return tx.Create(&task).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// RemoveTask 移除检查项
func (r *WorkOrderRepository) RemoveTask(ctx context.Context, workOrderID, taskID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.lockMutable(tx, workOrderID); err != nil {
			return err
		}
		result := tx.Where("id = ? AND work_order_id = ?", taskID, workOrderID).
			Delete(&entity.WorkOrderTask{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CompleteTask 完成检查项
func (r *WorkOrderRepository) CompleteTask(ctx context.Context, workOrderID, taskID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.lockMutable(tx, workOrderID); err != nil {
			return err
		}
		result := tx.Model(&entity.WorkOrderTask{}).
			Where("id = ? AND work_order_id = ? AND status = ?", taskID, workOrderID, entity.WOTaskStatusPending).
			Updates(map[string]interface{}{
				"status":       entity.WOTaskStatusCompleted,
				"completed_by": userID,
				"completed_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListTasks 工单检查项列表
func (r *WorkOrderRepository) ListTasks(ctx context.Context, workOrderID string) ([]entity.WorkOrderTask, error) {
	var tasks []entity.WorkOrderTask
	err := r.db.WithContext(ctx).
		Where("work_order_id = ?", workOrderID).
		Order("task_number ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// AdvanceStatus 以期望前状态为条件的比较写入
func (r *WorkOrderRepository) AdvanceStatus(tx *gorm.DB, id string, expectedStatuses []string, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	result := tx.Model(&entity.WorkOrder{}).
		Where("id = ? AND status IN ?", id, expectedStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AddAttachment 写入附件元数据
func (r *WorkOrderRepository) AddAttachment(ctx context.Context, att *entity.WorkOrderAttachment) error {
	if att.ID == "" {
		att.ID = generateID()
	}
	att.CreatedAt = time.Now()
	return r.db.WithContext(ctx).Create(att).Error
}

// FindAttachment 查找附件元数据
func (r *WorkOrderRepository) FindAttachment(ctx context.Context, workOrderID, attachmentID string) (*entity.WorkOrderAttachment, error) {
	var att entity.WorkOrderAttachment
	err := r.db.WithContext(ctx).
		Where("id = ? AND work_order_id = ?", attachmentID, workOrderID).
		First(&att).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &att, nil
}

// ListAttachments 工单附件列表
func (r *WorkOrderRepository) ListAttachments(ctx context.Context, workOrderID string) ([]entity.WorkOrderAttachment, error) {
	var atts []entity.WorkOrderAttachment
	err := r.db.WithContext(ctx).
		Where("work_order_id = ?", workOrderID).
		Order("created_at DESC").
		Find(&atts).Error
	if err != nil {
		return nil, err
	}
	return atts, nil
}
