package http

import (
	"strings"

	"ChatBase/internal/modules/chat/application/service"
	"ChatBase/pkg/back"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ConversationHandler 会话管理HTTP Handler
type ConversationHandler struct {
	svc service.ConversationService
}

func NewConversationHandler(svc service.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// List 某机器人的会话列表
//
// 路由: GET /chatbots/:id/conversations
// 鉴权: 需要JWT
// 查询参数: limit, offset
func (h *ConversationHandler) List(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")

	limit := 20
	offset := 0
	if l, ok := c.GetQuery("limit"); ok {
		if n, err := parsePositiveInt(l); err == nil && n > 0 {
			limit = n
		}
	}
	if o, ok := c.GetQuery("offset"); ok {
		if n, err := parsePositiveInt(o); err == nil && n >= 0 {
			offset = n
		}
	}

	data, err := h.svc.List(c.Request.Context(), uuid, chatbotID, limit, offset)
	if err != nil {
		zlog.Error("list conversations failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	back.Result(c, data, err)
}

// History 会话全部消息，时间升序
//
// 路由: GET /conversations/:id/messages
// 鉴权: 需要JWT
func (h *ConversationHandler) History(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	conversationID := c.Param("id")

	data, err := h.svc.History(c.Request.Context(), uuid, conversationID)
	if err != nil {
		zlog.Error("conversation history failed", zap.Error(err), zap.String("conversationId", conversationID))
	}
	back.Result(c, data, err)
}

// Delete 删除会话（软删除，消息保留）
//
// 路由: DELETE /conversations/:id
// 鉴权: 需要JWT
func (h *ConversationHandler) Delete(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	conversationID := c.Param("id")

	err := h.svc.Delete(c.Request.Context(), uuid, conversationID)
	if err != nil {
		zlog.Error("delete conversation failed", zap.Error(err), zap.String("conversationId", conversationID))
	}
	back.Result(c, nil, err)
}
