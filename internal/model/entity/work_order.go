package entity

import (
	"time"
)

// 工单状态
const (
	WOStatusPending    = "pending"
	WOStatusAssigned   = "assigned"
	WOStatusInProgress = "in_progress"
	WOStatusCompleted  = "completed"
	WOStatusCancelled  = "cancelled"
)

// 工单类型
const (
	WOTypeRepair     = "repair"
	WOTypePreventive = "preventive"
	WOTypeInspection = "inspection"
)

// 工单优先级
const (
	WOPriorityLow    = "low"
	WOPriorityMedium = "medium"
	WOPriorityHigh   = "high"
	WOPriorityUrgent = "urgent"
)

// 检查项状态
const (
	WOTaskStatusPending   = "pending"
	WOTaskStatusCompleted = "completed"
)

// WorkOrder 维保工单
// PartsCost 恒等于所属配件 TotalCost 之和，增删配件时在同一事务内重算
type WorkOrder struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:32"`
	WONumber           string     `json:"wo_number" gorm:"size:64;not null;uniqueIndex"`
	AssetID            string     `json:"asset_id" gorm:"size:32;not null;index"`
	WOType             string     `json:"wo_type" gorm:"size:32;not null;default:repair"`
	Priority           string     `json:"priority" gorm:"size:16;not null;default:medium"`
	Status             string     `json:"status" gorm:"size:20;not null;default:pending;index"`
	EstimatedCost      float64    `json:"estimated_cost" gorm:"type:decimal(14,2);default:0"`
	ActualCost         float64    `json:"actual_cost" gorm:"type:decimal(14,2);default:0"`
	PartsCost          float64    `json:"parts_cost" gorm:"type:decimal(14,2);default:0"`
	LaborCost          float64    `json:"labor_cost" gorm:"type:decimal(14,2);default:0"`
	ProblemDescription string     `json:"problem_description" gorm:"type:text"`
	WorkPerformed      string     `json:"work_performed" gorm:"type:text"`
	AssignedTechnician string     `json:"assigned_technician" gorm:"size:32;index"`
	ScheduledDate      *time.Time `json:"scheduled_date"`
	ActualStartDate    *time.Time `json:"actual_start_date"`
	ActualEndDate      *time.Time `json:"actual_end_date"`
	CreatedBy          string     `json:"created_by" gorm:"size:32;not null"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// 关联
	Tasks       []WorkOrderTask       `json:"tasks,omitempty" gorm:"foreignKey:WorkOrderID"`
	Parts       []WorkOrderPart       `json:"parts,omitempty" gorm:"foreignKey:WorkOrderID"`
	Attachments []WorkOrderAttachment `json:"attachments,omitempty" gorm:"foreignKey:WorkOrderID"`
}

func (WorkOrder) TableName() string {
	return "work_orders"
}

// WorkOrderTask 工单检查项
type WorkOrderTask struct {
	ID          string     `json:"id" gorm:"primaryKey;size:32"`
	WorkOrderID string     `json:"work_order_id" gorm:"size:32;not null;index"`
	TaskNumber  int        `json:"task_number" gorm:"not null"`
	Description string     `json:"description" gorm:"type:text;not null"`
	Status      string     `json:"status" gorm:"size:20;not null;default:pending"`
	CompletedBy string     `json:"completed_by" gorm:"size:32"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (WorkOrderTask) TableName() string {
	return "work_order_tasks"
}

// WorkOrderPart 工单配件，TotalCost = Quantity × UnitCost
type WorkOrderPart struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	WorkOrderID string    `json:"work_order_id" gorm:"size:32;not null;index"`
	PartName    string    `json:"part_name" gorm:"size:128;not null"`
	Quantity    float64   `json:"quantity" gorm:"type:decimal(12,4);not null"`
	UnitCost    float64   `json:"unit_cost" gorm:"type:decimal(14,2);not null"`
	TotalCost   float64   `json:"total_cost" gorm:"type:decimal(14,2);not null"`
	CreatedAt   time.Time `json:"created_at"`
}

func (WorkOrderPart) TableName() string {
	return "work_order_parts"
}

// WorkOrderAttachment 工单附件（完工照片、报告等），文件存 MinIO
type WorkOrderAttachment struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	WorkOrderID string    `json:"work_order_id" gorm:"size:32;not null;index"`
	FileName    string    `json:"file_name" gorm:"size:256;not null"`
	ObjectKey   string    `json:"object_key" gorm:"size:512;not null"`
	ContentType string    `json:"content_type" gorm:"size:128"`
	FileSize    int64     `json:"file_size"`
	UploadedBy  string    `json:"uploaded_by" gorm:"size:32;not null"`
	CreatedAt   time.Time `json:"created_at"`
}

func (WorkOrderAttachment) TableName() string {
	return "work_order_attachments"
}
