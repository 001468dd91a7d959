package entity

import (
	"time"
)

// 改造单状态，只向前流转；cancelled 仅可自 pending/approved 进入
const (
	ConversionStatusPending   = "pending"
	ConversionStatusApproved  = "approved"
	ConversionStatusRejected  = "rejected"
	ConversionStatusExecuted  = "executed"
	ConversionStatusCancelled = "cancelled"
)

// 改造费用处理方式
const (
	CostTreatmentCapitalize = "capitalize"
	CostTreatmentExpense    = "expense"
)

// AssetConversion 资产改造申请
type AssetConversion struct {
	ID                   string     `json:"id" gorm:"primaryKey;size:32"`
	RequestNumber        string     `json:"request_number" gorm:"size:64;not null;uniqueIndex"`
	AssetID              string     `json:"asset_id" gorm:"size:32;not null;index"`
	Title                string     `json:"title" gorm:"size:200;not null"`
	Status               string     `json:"status" gorm:"size:20;not null;default:pending;index"`
	FromCategoryID       string     `json:"from_category_id" gorm:"size:32;not null"`
	ToCategoryID         string     `json:"to_category_id" gorm:"size:32;not null"`
	TargetSpecifications JSONB      `json:"target_specifications" gorm:"type:jsonb"`
	ConversionCost       float64    `json:"conversion_cost" gorm:"type:decimal(14,2);not null;default:0"`
	CostTreatment        string     `json:"cost_treatment" gorm:"size:16;not null;default:capitalize"`
	Reason               string     `json:"reason" gorm:"type:text;not null"`
	RejectionReason      string     `json:"rejection_reason" gorm:"type:text"`
	RequestedBy          string     `json:"requested_by" gorm:"size:32;not null;index"`
	ApprovedBy           string     `json:"approved_by" gorm:"size:32"`
	ExecutedBy           string     `json:"executed_by" gorm:"size:32"`
	RequestDate          time.Time  `json:"request_date"`
	ApprovalDate         *time.Time `json:"approval_date"`
	ExecutionDate        *time.Time `json:"execution_date"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	// 关联
	Asset *Asset `json:"asset,omitempty" gorm:"foreignKey:AssetID"`
}

func (AssetConversion) TableName() string {
	return "asset_conversions"
}
