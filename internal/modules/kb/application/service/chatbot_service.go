package service

import (
	"context"
	"strings"
	"time"

	kbRequest "ChatBase/internal/modules/kb/application/dto/request"
	kbRespond "ChatBase/internal/modules/kb/application/dto/respond"
	"ChatBase/internal/modules/kb/domain/entity"
	kbRepo "ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer questions based on the provided context. If the context does not contain relevant information, say so honestly."

// ConversationCleaner 删除机器人时级联清理会话，由 chat 模块提供实现
type ConversationCleaner interface {
	DeleteByChatbot(ctx context.Context, chatbotID string) error
}

type ChatbotService interface {
	Create(ctx context.Context, ownerID string, req kbRequest.CreateChatbotRequest) (*kbRespond.ChatbotInfo, error)
	Get(ctx context.Context, ownerID, chatbotID string) (*kbRespond.ChatbotInfo, error)
	List(ctx context.Context, ownerID string) ([]kbRespond.ChatbotInfo, error)
	Update(ctx context.Context, ownerID, chatbotID string, req kbRequest.UpdateChatbotRequest) (*kbRespond.ChatbotInfo, error)
	Delete(ctx context.Context, ownerID, chatbotID string) error

	// OwnedBot 归属校验，其他 handler 共用
	OwnedBot(ctx context.Context, ownerID, chatbotID string) (*entity.Chatbot, error)
	// PublicBot 小部件和 webhook 侧使用，只要求存在且未禁用
	PublicBot(ctx context.Context, chatbotID string) (*entity.Chatbot, error)

	// BindConversationCleaner 启动装配时注入，chat 模块依赖本服务做归属校验，构造期拿不到
	BindConversationCleaner(convs ConversationCleaner)
}

type chatbotService struct {
	botRepo   kbRepo.ChatbotRepository
	docRepo   kbRepo.DocumentRepository
	sheetRepo kbRepo.SheetRepository
	chunkRepo kbRepo.ChunkRepository
	vs        kbRepo.VectorStore
	convs     ConversationCleaner
}

func NewChatbotService(botRepo kbRepo.ChatbotRepository, docRepo kbRepo.DocumentRepository, sheetRepo kbRepo.SheetRepository, chunkRepo kbRepo.ChunkRepository, vs kbRepo.VectorStore, convs ConversationCleaner) ChatbotService {
	return &chatbotService{botRepo: botRepo, docRepo: docRepo, sheetRepo: sheetRepo, chunkRepo: chunkRepo, vs: vs, convs: convs}
}

func (s *chatbotService) BindConversationCleaner(convs ConversationCleaner) {
	s.convs = convs
}

func (s *chatbotService) Create(ctx context.Context, ownerID string, req kbRequest.CreateChatbotRequest) (*kbRespond.ChatbotInfo, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, xerr.New(xerr.BadRequest, "机器人名称不能为空")
	}
	prompt := strings.TrimSpace(req.SystemPrompt)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	now := time.Now()
	bot := &entity.Chatbot{
		Id:           uuid.NewString(),
		OwnerId:      ownerID,
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		SystemPrompt: prompt,
		Status:       entity.ChatbotStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.botRepo.Create(ctx, bot); err != nil {
		return nil, err
	}
	info := toChatbotInfo(bot, 0, 0)
	return &info, nil
}

func (s *chatbotService) Get(ctx context.Context, ownerID, chatbotID string) (*kbRespond.ChatbotInfo, error) {
	bot, err := s.OwnedBot(ctx, ownerID, chatbotID)
	if err != nil {
		return nil, err
	}
	docs, _ := s.docRepo.ListByChatbot(ctx, bot.Id)
	sheets, _ := s.sheetRepo.ListByChatbot(ctx, bot.Id)
	info := toChatbotInfo(bot, len(docs), len(sheets))
	return &info, nil
}

func (s *chatbotService) List(ctx context.Context, ownerID string) ([]kbRespond.ChatbotInfo, error) {
	bots, err := s.botRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]kbRespond.ChatbotInfo, 0, len(bots))
	for i := range bots {
		out = append(out, toChatbotInfo(&bots[i], 0, 0))
	}
	return out, nil
}

func (s *chatbotService) Update(ctx context.Context, ownerID, chatbotID string, req kbRequest.UpdateChatbotRequest) (*kbRespond.ChatbotInfo, error) {
	bot, err := s.OwnedBot(ctx, ownerID, chatbotID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, xerr.New(xerr.BadRequest, "机器人名称不能为空")
		}
		bot.Name = name
	}
	if req.Description != nil {
		bot.Description = strings.TrimSpace(*req.Description)
	}
	if req.SystemPrompt != nil {
		bot.SystemPrompt = strings.TrimSpace(*req.SystemPrompt)
		if bot.SystemPrompt == "" {
			bot.SystemPrompt = defaultSystemPrompt
		}
	}
	if req.Status != nil {
		switch *req.Status {
		case entity.ChatbotStatusDraft, entity.ChatbotStatusReady, entity.ChatbotStatusDisabled:
			bot.Status = *req.Status
		default:
			return nil, xerr.New(xerr.BadRequest, "无效的机器人状态")
		}
	}
	bot.UpdatedAt = time.Now()
	if err := s.botRepo.Update(ctx, bot); err != nil {
		return nil, err
	}
	info := toChatbotInfo(bot, 0, 0)
	return &info, nil
}

// Delete 级联删除：向量、分块、文档、表格、会话，最后软删机器人。
// 向量先删，保证删除进行中也不会再被检索命中。
func (s *chatbotService) Delete(ctx context.Context, ownerID, chatbotID string) error {
	bot, err := s.OwnedBot(ctx, ownerID, chatbotID)
	if err != nil {
		return err
	}
	if err := s.vs.DeleteByChatbot(ctx, bot.Id); err != nil {
		return err
	}
	if err := s.chunkRepo.DeleteByChatbot(ctx, bot.Id); err != nil {
		return err
	}
	docs, err := s.docRepo.ListByChatbot(ctx, bot.Id)
	if err != nil {
		return err
	}
	for i := range docs {
		if err := s.docRepo.Delete(ctx, docs[i].Id); err != nil {
			return err
		}
	}
	sheets, err := s.sheetRepo.ListByChatbot(ctx, bot.Id)
	if err != nil {
		return err
	}
	for i := range sheets {
		if err := s.sheetRepo.Delete(ctx, sheets[i].Id); err != nil {
			return err
		}
	}
	if s.convs != nil {
		if err := s.convs.DeleteByChatbot(ctx, bot.Id); err != nil {
			return err
		}
	}
	if err := s.botRepo.Delete(ctx, bot.Id); err != nil {
		return err
	}
	zlog.Info("chatbot deleted", zap.String("chatbotId", bot.Id), zap.String("ownerId", ownerID))
	return nil
}

func (s *chatbotService) OwnedBot(ctx context.Context, ownerID, chatbotID string) (*entity.Chatbot, error) {
	bot, err := s.botRepo.GetByID(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	// 他人的机器人和不存在的机器人返回同一个错误，避免探测
	if bot == nil || bot.OwnerId != ownerID {
		return nil, xerr.ErrChatbotNotFound
	}
	return bot, nil
}

func (s *chatbotService) PublicBot(ctx context.Context, chatbotID string) (*entity.Chatbot, error) {
	bot, err := s.botRepo.GetByID(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	if bot == nil || bot.Status == entity.ChatbotStatusDisabled {
		return nil, xerr.ErrChatbotNotFound
	}
	return bot, nil
}

func toChatbotInfo(bot *entity.Chatbot, docs, sheets int) kbRespond.ChatbotInfo {
	return kbRespond.ChatbotInfo{
		Id:           bot.Id,
		Name:         bot.Name,
		Description:  bot.Description,
		SystemPrompt: bot.SystemPrompt,
		Status:       bot.Status,
		Documents:    docs,
		Sheets:       sheets,
		CreatedAt:    bot.CreatedAt,
		UpdatedAt:    bot.UpdatedAt,
	}
}
