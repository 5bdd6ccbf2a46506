package http

import (
	"io"
	"strings"

	"ChatBase/internal/modules/kb/application/service"
	"ChatBase/pkg/back"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DocumentHandler 知识库文档HTTP Handler
type DocumentHandler struct {
	svc service.DocumentService
}

func NewDocumentHandler(svc service.DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// Upload 上传文档并触发摄取
//
// 路由: POST /chatbots/:id/documents
// 鉴权: 需要JWT
// 请求体: multipart/form-data，字段名 file
// 响应体: UploadResult（sync 模式返回终态，kafka 模式返回 pending）
func (h *DocumentHandler) Upload(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		zlog.Error("upload form file error", zap.Error(err))
		back.Error(c, xerr.BadRequest, "缺少上传文件")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		zlog.Error("upload open file error", zap.Error(err))
		back.Error(c, xerr.BadRequest, "文件读取失败")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		zlog.Error("upload read file error", zap.Error(err))
		back.Error(c, xerr.BadRequest, "文件读取失败")
		return
	}

	result, err := h.svc.Upload(c.Request.Context(), uuid, chatbotID, fileHeader.Filename, data)
	if err != nil {
		zlog.Error("upload document failed", zap.Error(err),
			zap.String("chatbotId", chatbotID), zap.String("filename", fileHeader.Filename))
	}
	back.Result(c, result, err)
}

// Get 文档详情（状态轮询用）
//
// 路由: GET /chatbots/:id/documents/:docId
// 鉴权: 需要JWT
func (h *DocumentHandler) Get(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.Get(c.Request.Context(), uuid, c.Param("id"), c.Param("docId"))
	back.Result(c, data, err)
}

// List 某机器人的文档列表
//
// 路由: GET /chatbots/:id/documents
// 鉴权: 需要JWT
func (h *DocumentHandler) List(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.svc.List(c.Request.Context(), uuid, c.Param("id"))
	if err != nil {
		zlog.Error("list documents failed", zap.Error(err), zap.String("chatbotId", c.Param("id")))
	}
	back.Result(c, data, err)
}

// Delete 删除文档及其向量
//
// 路由: DELETE /chatbots/:id/documents/:docId
// 鉴权: 需要JWT
func (h *DocumentHandler) Delete(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	err := h.svc.Delete(c.Request.Context(), uuid, c.Param("id"), c.Param("docId"))
	if err != nil {
		zlog.Error("delete document failed", zap.Error(err), zap.String("documentId", c.Param("docId")))
	}
	back.Result(c, nil, err)
}
