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

// SheetHandler Google Sheets 数据源HTTP Handler
type SheetHandler struct {
	svc service.SheetService
}

func NewSheetHandler(svc service.SheetService) *SheetHandler {
	return &SheetHandler{svc: svc}
}

// Add 挂接公开表格并触发首次同步
//
// 路由: POST /chatbots/:id/gsheets
// 鉴权: 需要JWT
// 请求体: AddSheetRequest
func (h *SheetHandler) Add(c *gin.Context) {
	var req kbRequest.AddSheetRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("add sheet bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")

	data, err := h.svc.Add(c.Request.Context(), uuid, chatbotID, req)
	if err != nil {
		zlog.Error("add sheet failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	back.Result(c, data, err)
}

// List 某机器人挂接的表格列表
//
// 路由: GET /chatbots/:id/gsheets
// 鉴权: 需要JWT
func (h *SheetHandler) List(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.List(c.Request.Context(), uuid, c.Param("id"))
	if err != nil {
		zlog.Error("list sheets failed", zap.Error(err), zap.String("chatbotId", c.Param("id")))
	}
	back.Result(c, data, err)
}

// Sync 手动触发同步，受最小间隔限制
//
// 路由: POST /chatbots/:id/gsheets/:sheetId/sync
// 鉴权: 需要JWT
// 响应体: SyncResult
func (h *SheetHandler) Sync(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.Sync(c.Request.Context(), uuid, c.Param("id"), c.Param("sheetId"))
	if err != nil {
		zlog.Warn("sync sheet failed", zap.Error(err), zap.String("sheetId", c.Param("sheetId")))
	}
	back.Result(c, data, err)
}

// Delete 摘除表格及其向量
//
// 路由: DELETE /chatbots/:id/gsheets/:sheetId
// 鉴权: 需要JWT
func (h *SheetHandler) Delete(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	err := h.svc.Delete(c.Request.Context(), uuid, c.Param("id"), c.Param("sheetId"))
	if err != nil {
		zlog.Error("delete sheet failed", zap.Error(err), zap.String("sheetId", c.Param("sheetId")))
	}
	back.Result(c, nil, err)
}
