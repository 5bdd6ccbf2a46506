package http

import (
	"strings"

	chatRequest "ChatBase/internal/modules/chat/application/dto/request"
	"ChatBase/internal/modules/chat/application/service"
	"ChatBase/pkg/back"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IntegrationHandler 渠道绑定HTTP Handler
type IntegrationHandler struct {
	svc service.IntegrationService
}

func NewIntegrationHandler(svc service.IntegrationService) *IntegrationHandler {
	return &IntegrationHandler{svc: svc}
}

// Upsert 绑定或更新渠道
//
// 路由: PUT /chatbots/:id/integrations
// 鉴权: 需要JWT
// 请求体: UpsertIntegrationRequest
func (h *IntegrationHandler) Upsert(c *gin.Context) {
	var req chatRequest.UpsertIntegrationRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("upsert integration bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")

	data, err := h.svc.Upsert(c.Request.Context(), uuid, chatbotID, req)
	if err != nil {
		zlog.Error("upsert integration failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	back.Result(c, data, err)
}

// List 某机器人的渠道绑定列表，凭据不回显
//
// 路由: GET /chatbots/:id/integrations
// 鉴权: 需要JWT
func (h *IntegrationHandler) List(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")

	data, err := h.svc.List(c.Request.Context(), uuid, chatbotID)
	if err != nil {
		zlog.Error("list integrations failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	back.Result(c, data, err)
}

// Delete 解绑渠道
//
// 路由: DELETE /chatbots/:id/integrations/:platform
// 鉴权: 需要JWT
func (h *IntegrationHandler) Delete(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")
	platform := c.Param("platform")

	err := h.svc.Delete(c.Request.Context(), uuid, chatbotID, platform)
	if err != nil {
		zlog.Error("delete integration failed", zap.Error(err),
			zap.String("chatbotId", chatbotID), zap.String("platform", platform))
	}
	back.Result(c, nil, err)
}
