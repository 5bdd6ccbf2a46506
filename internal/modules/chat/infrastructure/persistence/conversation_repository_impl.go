package persistence

import (
	"context"
	"errors"
	"time"

	"ChatBase/internal/modules/chat/domain/entity"
	"ChatBase/internal/modules/chat/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type conversationRepositoryImpl struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &conversationRepositoryImpl{db: db}
}

func (r *conversationRepositoryImpl) Create(ctx context.Context, conv *entity.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationRepositoryImpl) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *conversationRepositoryImpl) GetBySessionKey(ctx context.Context, chatbotID, sessionKey string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).
		Where("chatbot_id = ? AND session_key = ?", chatbotID, sessionKey).
		Order("created_at DESC").
		Take(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *conversationRepositoryImpl) ListByChatbot(ctx context.Context, chatbotID string, limit, offset int) ([]entity.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	var convs []entity.Conversation
	err := r.db.WithContext(ctx).
		Where("chatbot_id = ?", chatbotID).
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error
	return convs, err
}

func (r *conversationRepositoryImpl) Touch(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&entity.Conversation{}).Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

func (r *conversationRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Conversation{}).Error
}

func (r *conversationRepositoryImpl) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	return r.db.WithContext(ctx).Where("chatbot_id = ?", chatbotID).Delete(&entity.Conversation{}).Error
}

type messageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &messageRepositoryImpl{db: db}
}

func (r *messageRepositoryImpl) Create(ctx context.Context, msg *entity.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListRecent 取最近 limit 条后反转，调用方拿到的是时间升序
func (r *messageRepositoryImpl) ListRecent(ctx context.Context, conversationID string, limit int) ([]entity.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []entity.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepositoryImpl) ListAll(ctx context.Context, conversationID string) ([]entity.Message, error) {
	var msgs []entity.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

type integrationRepositoryImpl struct {
	db *gorm.DB
}

func NewIntegrationRepository(db *gorm.DB) repository.IntegrationRepository {
	return &integrationRepositoryImpl{db: db}
}

// Upsert 同一机器人同一平台只保留一条配置
func (r *integrationRepositoryImpl) Upsert(ctx context.Context, integ *entity.Integration) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chatbot_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"config_json", "is_active", "updated_at"}),
	}).Create(integ).Error
}

func (r *integrationRepositoryImpl) GetByPlatform(ctx context.Context, chatbotID, platform string) (*entity.Integration, error) {
	var integ entity.Integration
	err := r.db.WithContext(ctx).
		Where("chatbot_id = ? AND platform = ?", chatbotID, platform).
		Take(&integ).Error
	if err == nil {
		return &integ, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *integrationRepositoryImpl) ListByChatbot(ctx context.Context, chatbotID string) ([]entity.Integration, error) {
	var integs []entity.Integration
	err := r.db.WithContext(ctx).Where("chatbot_id = ?", chatbotID).Find(&integs).Error
	return integs, err
}

func (r *integrationRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Integration{}).Error
}
