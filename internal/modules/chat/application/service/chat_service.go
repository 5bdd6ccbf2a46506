package service

import (
	"context"
	"errors"
	"io"
	"strings"

	"ChatBase/internal/modules/chat/application/dto/request"
	"ChatBase/internal/modules/chat/application/dto/respond"
	"ChatBase/internal/modules/chat/domain/entity"
	"ChatBase/internal/modules/chat/infrastructure/pipeline"
	kbService "ChatBase/internal/modules/kb/application/service"
	kbEntity "ChatBase/internal/modules/kb/domain/entity"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"go.uber.org/zap"
)

// ChatService 对话入口。面板侧走 Chat/ChatStream（带登录态），
// 小部件走 Widget 系列（公开机器人 + session_key），渠道 webhook 走 PlatformChat。
type ChatService interface {
	Chat(ctx context.Context, ownerID, chatbotID string, req request.ChatRequest) (*respond.ChatRespond, error)
	ChatStream(ctx context.Context, ownerID, chatbotID string, req request.ChatRequest) (<-chan StreamEvent, error)

	WidgetChat(ctx context.Context, chatbotID string, req request.WidgetChatRequest) (*respond.ChatRespond, error)
	WidgetChatStream(ctx context.Context, chatbotID string, req request.WidgetChatRequest) (<-chan StreamEvent, error)

	// PlatformChat 渠道侧消息，session_key 由平台和外部用户 ID 拼成
	PlatformChat(ctx context.Context, chatbotID, platform, externalUserID, message string) (*respond.ChatRespond, error)
}

// StreamEvent SSE流式事件
type StreamEvent struct {
	Event string      // "conversation" | "delta" | "done" | "error"
	Data  interface{} // conversation: 会话ID，delta: token，done: ChatRespond
}

type chatService struct {
	botSvc  kbService.ChatbotService
	convSvc ConversationService
	pipe    *pipeline.AnswerPipeline
}

func NewChatService(botSvc kbService.ChatbotService, convSvc ConversationService, pipe *pipeline.AnswerPipeline) ChatService {
	return &chatService{botSvc: botSvc, convSvc: convSvc, pipe: pipe}
}

func (s *chatService) Chat(ctx context.Context, ownerID, chatbotID string, req request.ChatRequest) (*respond.ChatRespond, error) {
	bot, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID)
	if err != nil {
		return nil, err
	}
	conv, err := s.convSvc.EnsureOwned(ctx, chatbotID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return s.answer(ctx, bot, conv.Id, req.Message)
}

func (s *chatService) WidgetChat(ctx context.Context, chatbotID string, req request.WidgetChatRequest) (*respond.ChatRespond, error) {
	bot, err := s.botSvc.PublicBot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	conv, err := s.convSvc.EnsureBySessionKey(ctx, chatbotID, req.SessionKey, entity.SourceWidget)
	if err != nil {
		return nil, err
	}
	return s.answer(ctx, bot, conv.Id, req.Message)
}

func (s *chatService) PlatformChat(ctx context.Context, chatbotID, platform, externalUserID, message string) (*respond.ChatRespond, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, xerr.New(xerr.BadRequest, "缺少外部用户标识")
	}
	bot, err := s.botSvc.PublicBot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	conv, err := s.convSvc.EnsureBySessionKey(ctx, chatbotID, platform+":"+externalUserID, platform)
	if err != nil {
		return nil, err
	}
	return s.answer(ctx, bot, conv.Id, message)
}

func (s *chatService) answer(ctx context.Context, bot *kbEntity.Chatbot, conversationID, message string) (*respond.ChatRespond, error) {
	res, err := s.pipe.Execute(ctx, &pipeline.AnswerRequest{
		ConversationID: conversationID,
		ChatbotID:      bot.Id,
		SystemPrompt:   bot.SystemPrompt,
		Question:       message,
	})
	if err != nil {
		return nil, err
	}
	return &respond.ChatRespond{
		ConversationID: res.ConversationID,
		Answer:         res.Answer,
		Sources:        res.Sources,
		DurationMs:     res.TotalMs,
	}, nil
}

func (s *chatService) ChatStream(ctx context.Context, ownerID, chatbotID string, req request.ChatRequest) (<-chan StreamEvent, error) {
	bot, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID)
	if err != nil {
		return nil, err
	}
	conv, err := s.convSvc.EnsureOwned(ctx, chatbotID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return s.answerStream(ctx, bot, conv.Id, req.Message), nil
}

func (s *chatService) WidgetChatStream(ctx context.Context, chatbotID string, req request.WidgetChatRequest) (<-chan StreamEvent, error) {
	bot, err := s.botSvc.PublicBot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	conv, err := s.convSvc.EnsureBySessionKey(ctx, chatbotID, req.SessionKey, entity.SourceWidget)
	if err != nil {
		return nil, err
	}
	return s.answerStream(ctx, bot, conv.Id, req.Message), nil
}

func (s *chatService) answerStream(ctx context.Context, bot *kbEntity.Chatbot, conversationID, message string) <-chan StreamEvent {
	eventChan := make(chan StreamEvent, 100)

	go func() {
		defer close(eventChan)

		pipeReq := &pipeline.AnswerRequest{
			ConversationID: conversationID,
			ChatbotID:      bot.Id,
			SystemPrompt:   bot.SystemPrompt,
			Question:       message,
		}

		streamReader, st, err := s.pipe.ExecuteStream(ctx, pipeReq)
		if err != nil {
			eventChan <- StreamEvent{Event: "error", Data: map[string]string{"error": err.Error()}}
			return
		}

		eventChan <- StreamEvent{Event: "conversation", Data: conversationID}

		fullAnswer := ""
		var streamErr error
		for {
			chunk, recvErr := streamReader.Recv()
			if recvErr != nil {
				// EOF 是正常收尾，其他是模型错误或客户端断开
				if !errors.Is(recvErr, io.EOF) && ctx.Err() == nil {
					streamErr = recvErr
				}
				break
			}
			fullAnswer += chunk.Content
			eventChan <- StreamEvent{Event: "delta", Data: map[string]string{"token": chunk.Content}}
		}
		streamReader.Close()

		// 客户端断开时 ctx 已取消，落库用不随请求取消的 context，
		// 已经生成的部分回答也要进历史
		persistCtx := context.WithoutCancel(ctx)
		result, err := s.pipe.PersistStreamResult(persistCtx, st, fullAnswer)
		if err != nil {
			zlog.Error("persist stream result failed",
				zap.String("conversationId", conversationID), zap.Error(err))
			eventChan <- StreamEvent{Event: "error", Data: map[string]string{"error": err.Error()}}
			return
		}
		if streamErr != nil {
			// 中途断流不补发 done，已发出的 token 无法撤回，也不重试
			zlog.Error("generation stream interrupted",
				zap.String("conversationId", conversationID), zap.Error(streamErr))
			eventChan <- StreamEvent{Event: "error", Data: map[string]string{"error": xerr.ErrGenerationProvider.Message}}
			return
		}

		eventChan <- StreamEvent{Event: "done", Data: respond.ChatRespond{
			ConversationID: result.ConversationID,
			Answer:         result.Answer,
			Sources:        result.Sources,
			DurationMs:     result.TotalMs,
		}}
	}()

	return eventChan
}
