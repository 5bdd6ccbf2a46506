package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"ChatBase/internal/modules/chat/application/dto/respond"
	"ChatBase/internal/modules/chat/domain/entity"
	chatRepo "ChatBase/internal/modules/chat/domain/repository"
	kbService "ChatBase/internal/modules/kb/application/service"
	"ChatBase/pkg/util"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConversationService 会话管理。会话都是懒创建的：
// 面板侧不带 conversation_id 时新建，小部件/渠道侧按 session_key 续接。
type ConversationService interface {
	// EnsureOwned 面板侧解析或新建会话，校验会话归属于该机器人
	EnsureOwned(ctx context.Context, chatbotID, conversationID string) (*entity.Conversation, error)
	// EnsureBySessionKey 按 session_key 取会话，不存在则创建
	EnsureBySessionKey(ctx context.Context, chatbotID, sessionKey, source string) (*entity.Conversation, error)
	List(ctx context.Context, ownerID, chatbotID string, limit, offset int) ([]respond.ConversationInfo, error)
	History(ctx context.Context, ownerID, conversationID string) ([]respond.MessageInfo, error)
	Delete(ctx context.Context, ownerID, conversationID string) error

	// DeleteByChatbot 删除机器人时由 kb 模块级联调用
	DeleteByChatbot(ctx context.Context, chatbotID string) error
}

type conversationService struct {
	convRepo chatRepo.ConversationRepository
	msgRepo  chatRepo.MessageRepository
	botSvc   kbService.ChatbotService

	// session_key 粒度的创建锁，防止并发首条消息创建出两个会话
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewConversationService(convRepo chatRepo.ConversationRepository, msgRepo chatRepo.MessageRepository, botSvc kbService.ChatbotService) ConversationService {
	return &conversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		botSvc:   botSvc,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *conversationService) EnsureOwned(ctx context.Context, chatbotID, conversationID string) (*entity.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return s.create(ctx, chatbotID, "dash_"+util.GenerateShortUUID(), entity.SourceDashboard)
	}

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	// 软删除的会话和别的机器人的会话一律按不存在处理
	if conv == nil || conv.ChatbotId != chatbotID {
		return nil, xerr.ErrConversationNotFound
	}
	return conv, nil
}

func (s *conversationService) EnsureBySessionKey(ctx context.Context, chatbotID, sessionKey, source string) (*entity.Conversation, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, xerr.New(xerr.BadRequest, "session_key 不能为空")
	}

	lk := s.lockFor(chatbotID + "|" + sessionKey)
	lk.Lock()
	defer lk.Unlock()

	conv, err := s.convRepo.GetBySessionKey(ctx, chatbotID, sessionKey)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	return s.create(ctx, chatbotID, sessionKey, source)
}

func (s *conversationService) create(ctx context.Context, chatbotID, sessionKey, source string) (*entity.Conversation, error) {
	now := time.Now()
	conv := &entity.Conversation{
		Id:         uuid.NewString(),
		ChatbotId:  chatbotID,
		SessionKey: sessionKey,
		Source:     source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}
	zlog.Info("conversation created",
		zap.String("conversationId", conv.Id),
		zap.String("chatbotId", chatbotID),
		zap.String("source", source))
	return conv, nil
}

func (s *conversationService) List(ctx context.Context, ownerID, chatbotID string, limit, offset int) ([]respond.ConversationInfo, error) {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	convs, err := s.convRepo.ListByChatbot(ctx, chatbotID, limit, offset)
	if err != nil {
		return nil, err
	}
	infos := make([]respond.ConversationInfo, 0, len(convs))
	for _, c := range convs {
		infos = append(infos, respond.ConversationInfo{
			Id:        c.Id,
			ChatbotId: c.ChatbotId,
			Source:    c.Source,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	return infos, nil
}

func (s *conversationService) History(ctx context.Context, ownerID, conversationID string) ([]respond.MessageInfo, error) {
	conv, err := s.ownedConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.msgRepo.ListAll(ctx, conv.Id)
	if err != nil {
		return nil, err
	}
	infos := make([]respond.MessageInfo, 0, len(msgs))
	for _, m := range msgs {
		info := respond.MessageInfo{
			Id:        m.Id,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		if m.SourcesJson != "" && m.SourcesJson != "[]" {
			var refs []respond.SourceRef
			if err := json.Unmarshal([]byte(m.SourcesJson), &refs); err == nil {
				info.Sources = refs
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *conversationService) Delete(ctx context.Context, ownerID, conversationID string) error {
	conv, err := s.ownedConversation(ctx, ownerID, conversationID)
	if err != nil {
		return err
	}
	return s.convRepo.Delete(ctx, conv.Id)
}

func (s *conversationService) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	return s.convRepo.DeleteByChatbot(ctx, chatbotID)
}

// ownedConversation 会话归属链路：会话 -> 机器人 -> 拥有者
func (s *conversationService) ownedConversation(ctx context.Context, ownerID, conversationID string) (*entity.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, xerr.ErrConversationNotFound
	}
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, conv.ChatbotId); err != nil {
		return nil, xerr.ErrConversationNotFound
	}
	return conv, nil
}

func (s *conversationService) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[key] = lk
	}
	return lk
}
