package domain

import (
	"time"
)

type Role string

const (
	RolePlanner Role = "规划员"
	RoleAdmin   Role = "管理员"
)

// User 是可以登录系统、提交优化任务的操作员
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int32     `json:"-"`
}
