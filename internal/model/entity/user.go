package entity

import (
	"time"
)

// 角色级别约定：数字越小权限越高（1=最高），level ≤ required_level 即有权限。
// 这是既有系统的约定，不要"修正"方向。
const (
	RoleLevelAdmin      = 1
	RoleLevelManager    = 2
	RoleLevelSupervisor = 3
	RoleLevelStaff      = 4
	RoleLevelViewer     = 5
)

// User 用户（目录由外部系统维护，这里只存工作流需要的镜像字段）
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Username  string    `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:64;not null"`
	Email     string    `json:"email" gorm:"size:128"`
	RoleLevel int       `json:"role_level" gorm:"not null;default:5"`
	Status    string    `json:"status" gorm:"size:20;not null;default:active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Actor 一次请求的操作者身份，取自JWT声明
type Actor struct {
	ID        string
	Name      string
	RoleLevel int
}

// CanAct 操作者级别是否满足所需级别
func (a Actor) CanAct(requiredLevel int) bool {
	return a.RoleLevel <= requiredLevel
}
