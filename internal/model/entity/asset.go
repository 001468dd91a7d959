package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB 通用JSONB字段类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

// Asset 资产
// LifecycleState 只能由生命周期引擎修改，调用方不得直接写入
type Asset struct {
	ID               string    `json:"id" gorm:"primaryKey;size:32"`
	AssetTag         string    `json:"asset_tag" gorm:"size:64;not null;uniqueIndex"`
	Name             string    `json:"name" gorm:"size:128;not null"`
	CategoryID       string    `json:"category_id" gorm:"size:32;not null;index"`
	Specifications   JSONB     `json:"specifications" gorm:"type:jsonb"`
	LifecycleState   string    `json:"lifecycle_state" gorm:"size:32;not null;default:planning;index"`
	Location         string    `json:"location" gorm:"size:128"`
	CapitalizedValue float64   `json:"capitalized_value" gorm:"type:decimal(14,2);default:0"`
	CreatedBy        string    `json:"created_by" gorm:"size:32;not null"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	// 关联
	History []LifecycleHistoryEntry `json:"history,omitempty" gorm:"foreignKey:AssetID"`
}

func (Asset) TableName() string {
	return "assets"
}

// LifecycleHistoryEntry 生命周期流转历史，只追加不修改
// 每次实际执行（而非仅发起）的状态流转写入一条
type LifecycleHistoryEntry struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	AssetID     string    `json:"asset_id" gorm:"size:32;not null;index"`
	FromState   string    `json:"from_state" gorm:"size:32;not null"`
	ToState     string    `json:"to_state" gorm:"size:32;not null"`
	Reason      string    `json:"reason" gorm:"type:text"`
	PerformedBy string    `json:"performed_by" gorm:"size:32;not null"`
	Metadata    JSONB     `json:"metadata" gorm:"type:jsonb"`
	CreatedAt   time.Time `json:"created_at"`
}

func (LifecycleHistoryEntry) TableName() string {
	return "lifecycle_history"
}

// AssetExpense 资产费用记录（改造费用按费用化处理时写入）
type AssetExpense struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	AssetID     string    `json:"asset_id" gorm:"size:32;not null;index"`
	ExpenseType string    `json:"expense_type" gorm:"size:32;not null"`
	Amount      float64   `json:"amount" gorm:"type:decimal(14,2);not null"`
	Description string    `json:"description" gorm:"type:text"`
	SourceType  string    `json:"source_type" gorm:"size:32"`
	SourceID    string    `json:"source_id" gorm:"size:32"`
	RecordedBy  string    `json:"recorded_by" gorm:"size:32;not null"`
	CreatedAt   time.Time `json:"created_at"`
}

func (AssetExpense) TableName() string {
	return "asset_expenses"
}

// 费用类型
const (
	ExpenseTypeMaintenance = "maintenance"
)
