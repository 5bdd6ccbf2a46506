package entity

import (
	"time"

	"gorm.io/gorm"
)

// 账号状态
const (
	UserStatusNormal   int8 = 0
	UserStatusDisabled int8 = 1
)

type UserInfo struct {
	Id        int64          `gorm:"column:id;primaryKey;autoIncrement;comment:自增id"`
	Uuid      string         `gorm:"column:uuid;type:char(36);uniqueIndex;not null;comment:用户uuid"`
	Username  string         `gorm:"column:username;type:varchar(64);uniqueIndex;not null;comment:登录名"`
	Nickname  string         `gorm:"column:nickname;type:varchar(64);comment:昵称"`
	Password  string         `gorm:"column:password;type:varchar(100);not null;comment:bcrypt哈希"`
	Avatar    string         `gorm:"column:avatar;type:varchar(255);comment:头像地址"`
	Status    int8           `gorm:"column:status;not null;default:0;comment:状态：0.正常，1.禁用"`
	IsAdmin   int8           `gorm:"column:is_admin;not null;default:0;comment:是否管理员"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;comment:创建时间"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null;comment:更新时间"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (UserInfo) TableName() string {
	return "user_info"
}
