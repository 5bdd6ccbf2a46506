package entity

import (
	"time"

	"gorm.io/gorm"
)

// 会话来源渠道
const (
	SourceWidget    = "widget"
	SourceDashboard = "dashboard"
	SourceWhatsapp  = "whatsapp"
	SourceTelegram  = "telegram"
)

type Conversation struct {
	Id         string         `gorm:"column:id;type:char(36);primaryKey"`
	ChatbotId  string         `gorm:"column:chatbot_id;type:char(36);not null;index:idx_conversation_chatbot"`
	SessionKey string         `gorm:"column:session_key;type:varchar(128);not null;index:idx_conversation_session"`
	Source     string         `gorm:"column:source;type:varchar(20);not null;default:widget"`
	CreatedAt  time.Time      `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;type:datetime;not null"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;type:datetime;index"`
}

func (Conversation) TableName() string { return "chat_conversation" }

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 只追加，不更新不删除
type Message struct {
	Id             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ConversationId string    `gorm:"column:conversation_id;type:char(36);not null;index:idx_message_conversation"`
	Role           string    `gorm:"column:role;type:varchar(10);not null"`
	Content        string    `gorm:"column:content;type:mediumtext"`
	SourcesJson    string    `gorm:"column:sources_json;type:json"`
	CreatedAt      time.Time `gorm:"column:created_at;type:datetime;not null"`
}

func (Message) TableName() string { return "chat_message" }

type Integration struct {
	Id         string    `gorm:"column:id;type:char(36);primaryKey"`
	ChatbotId  string    `gorm:"column:chatbot_id;type:char(36);not null;uniqueIndex:uniq_integration_platform"`
	Platform   string    `gorm:"column:platform;type:varchar(20);not null;uniqueIndex:uniq_integration_platform"`
	ConfigJson string    `gorm:"column:config_json;type:json"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (Integration) TableName() string { return "chat_integration" }
