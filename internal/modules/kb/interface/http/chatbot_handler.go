package http

import (
	"strings"

	kbRequest "ChatBase/internal/modules/kb/application/dto/request"
	"ChatBase/internal/modules/kb/application/service"
	"ChatBase/pkg/back"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatbotHandler 机器人管理HTTP Handler
type ChatbotHandler struct {
	svc service.ChatbotService
}

func NewChatbotHandler(svc service.ChatbotService) *ChatbotHandler {
	return &ChatbotHandler{svc: svc}
}

// Create 创建机器人
//
// 路由: POST /chatbots
// 鉴权: 需要JWT（从authed分组继承）
// 请求体: CreateChatbotRequest
func (h *ChatbotHandler) Create(c *gin.Context) {
	var req kbRequest.CreateChatbotRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("create chatbot bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.Create(c.Request.Context(), uuid, req)
	if err != nil {
		zlog.Error("create chatbot failed", zap.Error(err), zap.String("uuid", uuid))
	}
	back.Result(c, data, err)
}

// Get 机器人详情
//
// 路由: GET /chatbots/:id
// 鉴权: 需要JWT
func (h *ChatbotHandler) Get(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.Get(c.Request.Context(), uuid, c.Param("id"))
	back.Result(c, data, err)
}

// List 当前用户的机器人列表
//
// 路由: GET /chatbots
// 鉴权: 需要JWT
func (h *ChatbotHandler) List(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.List(c.Request.Context(), uuid)
	if err != nil {
		zlog.Error("list chatbots failed", zap.Error(err), zap.String("uuid", uuid))
	}
	back.Result(c, data, err)
}

// Update 更新机器人，零值字段不动
//
// 路由: PATCH /chatbots/:id
// 鉴权: 需要JWT
// 请求体: UpdateChatbotRequest
func (h *ChatbotHandler) Update(c *gin.Context) {
	var req kbRequest.UpdateChatbotRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("update chatbot bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.Update(c.Request.Context(), uuid, c.Param("id"), req)
	if err != nil {
		zlog.Error("update chatbot failed", zap.Error(err), zap.String("chatbotId", c.Param("id")))
	}
	back.Result(c, data, err)
}

// Delete 删除机器人并级联清理知识库、向量和会话
//
// 路由: DELETE /chatbots/:id
// 鉴权: 需要JWT
func (h *ChatbotHandler) Delete(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	err := h.svc.Delete(c.Request.Context(), uuid, c.Param("id"))
	if err != nil {
		zlog.Error("delete chatbot failed", zap.Error(err), zap.String("chatbotId", c.Param("id")))
	}
	back.Result(c, nil, err)
}
