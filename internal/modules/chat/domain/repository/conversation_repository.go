package repository

import (
	"context"

	"ChatBase/internal/modules/chat/domain/entity"
)

type ConversationRepository interface {
	Create(ctx context.Context, conv *entity.Conversation) error
	// GetByID 软删除的会话返回 gorm.ErrRecordNotFound 语义（nil, nil）
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	GetBySessionKey(ctx context.Context, chatbotID, sessionKey string) (*entity.Conversation, error)
	ListByChatbot(ctx context.Context, chatbotID string, limit, offset int) ([]entity.Conversation, error)
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByChatbot(ctx context.Context, chatbotID string) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *entity.Message) error
	// ListRecent 返回最近 limit 条，按时间升序排列
	ListRecent(ctx context.Context, conversationID string, limit int) ([]entity.Message, error)
	ListAll(ctx context.Context, conversationID string) ([]entity.Message, error)
}

type IntegrationRepository interface {
	Upsert(ctx context.Context, integ *entity.Integration) error
	GetByPlatform(ctx context.Context, chatbotID, platform string) (*entity.Integration, error)
	ListByChatbot(ctx context.Context, chatbotID string) ([]entity.Integration, error)
	Delete(ctx context.Context, id string) error
}
