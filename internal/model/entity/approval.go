package entity

import (
	"time"
)

// 审批状态
// pending → approved_l1 →（二级链）approved_l2 → executed
// pending/approved_l1 → rejected
// executed 与 rejected 为终态
const (
	ApprovalStatusPending    = "pending"
	ApprovalStatusApprovedL1 = "approved_l1"
	ApprovalStatusApprovedL2 = "approved_l2"
	ApprovalStatusRejected   = "rejected"
	ApprovalStatusExecuted   = "executed"
)

// 可审批资源类型，新资源类型通过执行回调注册表接入，不改动台账本身
const (
	ResourceTypeAssetTransition = "asset_transition"
	ResourceTypeWorkOrder       = "work_order"
)

// ApprovalRequest 通用审批请求
// 审批策略（级数、各级所需角色级别）在创建时快照到行上；
// DataSnapshot 为发起时刻的变更快照，执行时只依据快照而非实时数据
type ApprovalRequest struct {
	ID                   string     `json:"id" gorm:"primaryKey;size:32"`
	ResourceType         string     `json:"resource_type" gorm:"size:32;not null;index:idx_approval_resource"`
	ResourceID           string     `json:"resource_id" gorm:"size:32;not null;index:idx_approval_resource"`
	ActionType           string     `json:"action_type" gorm:"size:64;not null;index:idx_approval_resource"`
	RequestedBy          string     `json:"requested_by" gorm:"size:32;not null;index"`
	DataSnapshot         JSONB      `json:"data_snapshot" gorm:"type:jsonb"`
	Status               string     `json:"status" gorm:"size:20;not null;default:pending;index"`
	CurrentApprovalLevel int        `json:"current_approval_level" gorm:"not null;default:1"`
	ApprovalLevels       int        `json:"approval_levels" gorm:"not null;default:1"`
	RequiredLevelL1      int        `json:"required_level_l1" gorm:"not null"`
	RequiredLevelL2      int        `json:"required_level_l2" gorm:"default:0"`
	NotesL1              string     `json:"notes_l1" gorm:"type:text"`
	NotesL2              string     `json:"notes_l2" gorm:"type:text"`
	ApprovedByL1         string     `json:"approved_by_l1" gorm:"size:32"`
	ApprovedByL2         string     `json:"approved_by_l2" gorm:"size:32"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ExecutedAt           *time.Time `json:"executed_at"`
}

func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

// IsTerminal 是否已达终态
func (a *ApprovalRequest) IsTerminal() bool {
	return a.Status == ApprovalStatusExecuted || a.Status == ApprovalStatusRejected
}

// AwaitingLevel 当前对请求有处置权的审批级别。
// 待重试执行的请求仍由终签级别处置，0 表示已达终态。
func (a *ApprovalRequest) AwaitingLevel() int {
	switch a.Status {
	case ApprovalStatusPending:
		return 1
	case ApprovalStatusApprovedL1:
		if a.ApprovalLevels == 2 {
			return 2
		}
		return 1
	case ApprovalStatusApprovedL2:
		return 2
	default:
		return 0
	}
}

// RequiredLevelFor 指定审批级别所需的角色级别
func (a *ApprovalRequest) RequiredLevelFor(level int) int {
	if level == 2 {
		return a.RequiredLevelL2
	}
	return a.RequiredLevelL1
}
