package http

import (
	chatRequest "ChatBase/internal/modules/chat/application/dto/request"
	"ChatBase/internal/modules/chat/application/dto/respond"
	"ChatBase/internal/modules/chat/application/service"
	kbService "ChatBase/internal/modules/kb/application/service"
	"ChatBase/pkg/back"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WidgetHandler 嵌入式小部件HTTP Handler。
// 公开端点，无登录态，靠机器人公开状态和 session_key 约束。
type WidgetHandler struct {
	chatSvc service.ChatService
	botSvc  kbService.ChatbotService
}

func NewWidgetHandler(chatSvc service.ChatService, botSvc kbService.ChatbotService) *WidgetHandler {
	return &WidgetHandler{chatSvc: chatSvc, botSvc: botSvc}
}

// Info 小部件初始化信息
//
// 路由: GET /widget/:botId/info
// 鉴权: 无
func (h *WidgetHandler) Info(c *gin.Context) {
	chatbotID := c.Param("botId")

	bot, err := h.botSvc.PublicBot(c.Request.Context(), chatbotID)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	back.Success(c, respond.WidgetBotInfo{
		Id:          bot.Id,
		Name:        bot.Name,
		Description: bot.Description,
		Status:      bot.Status,
	})
}

// Chat 小部件非流式对话
//
// 路由: POST /widget/:botId/chat
// 鉴权: 无
// 请求体: WidgetChatRequest
func (h *WidgetHandler) Chat(c *gin.Context) {
	var req chatRequest.WidgetChatRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("widget chat bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	chatbotID := c.Param("botId")

	data, err := h.chatSvc.WidgetChat(c.Request.Context(), chatbotID, req)
	if err != nil {
		zlog.Warn("widget chat failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	back.Result(c, data, err)
}

// ChatStream 小部件流式对话（SSE）
//
// 路由: POST /widget/:botId/chat/stream
// 鉴权: 无
// 请求体: WidgetChatRequest
func (h *WidgetHandler) ChatStream(c *gin.Context) {
	var req chatRequest.WidgetChatRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("widget chat stream bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	chatbotID := c.Param("botId")

	eventChan, err := h.chatSvc.WidgetChatStream(c.Request.Context(), chatbotID, req)
	if err != nil {
		zlog.Warn("widget chat stream failed", zap.Error(err), zap.String("chatbotId", chatbotID))
		back.Result(c, nil, err)
		return
	}

	writeSSE(c, eventChan)
}
