package models

import (
	"time"

	"gorm.io/gorm"
)

// 认证方式：每行记录最近一次成功登录使用的方式
const (
	// AuthTypeLocal 本地用户名密码
	AuthTypeLocal = "local"
	// AuthTypeLinuxDo Linux.do 论坛 OAuth
	AuthTypeLinuxDo = "linux_do"
	// AuthTypeFeishu 飞书 OAuth
	AuthTypeFeishu = "feishu"
)

// 外部资料缺失时的兜底显示名
const (
	// DefaultLinuxDoName Linux.do 资料无名称时的占位
	DefaultLinuxDoName = "未知用户"
	// DefaultFeishuName 飞书资料无名称时的占位
	DefaultFeishuName = "飞书用户"
)

// User 统一用户模型：本地账号与外部 OAuth 身份共用一张表
// username / linux_do_id / feishu_open_id 三个唯一键均可为 NULL，
// 使用指针类型避免 MySQL 唯一索引把多个空字符串视为冲突
type User struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Username        *string        `json:"username,omitempty" gorm:"uniqueIndex;size:50"`  // 仅本地账号
	PasswordHash    string         `json:"-" gorm:"size:255"`                              // 仅本地账号
	LinuxDoID       *string        `json:"linux_do_id,omitempty" gorm:"uniqueIndex;size:64"`
	LinuxDoUsername string         `json:"linux_do_username,omitempty" gorm:"size:100;default:''"`
	FeishuOpenID    *string        `json:"feishu_open_id,omitempty" gorm:"uniqueIndex;size:64"`
	FeishuUnionID   string         `json:"-" gorm:"size:64;index;default:''"`
	Name            string         `json:"name" gorm:"size:100;not null"` // 写入时经兜底链保证非空
	Avatar          string         `json:"avatar,omitempty" gorm:"size:255"`
	Email           string         `json:"email,omitempty" gorm:"size:100"`
	AuthType        string         `json:"auth_type" gorm:"size:20;index"` // local/linux_do/feishu
	IsActive        bool           `json:"is_active" gorm:"default:true;index"`
	IsAdmin         bool           `json:"is_admin" gorm:"default:false;index"`
	LastLoginTime   *time.Time     `json:"last_login_time,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 设置表名
func (User) TableName() string {
	return "users"
}

// Sanitized 返回去除凭据信息的副本，供接口层向上返回
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}
