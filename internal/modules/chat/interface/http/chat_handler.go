package http

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	chatRequest "ChatBase/internal/modules/chat/application/dto/request"
	"ChatBase/internal/modules/chat/application/service"
	"ChatBase/pkg/back"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatHandler 面板侧对话HTTP Handler
type ChatHandler struct {
	svc service.ChatService
}

func NewChatHandler(svc service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// Chat 非流式对话
//
// 路由: POST /chatbots/:id/chat
// 鉴权: 需要JWT（从authed分组继承）
// 请求体: ChatRequest
// 响应体: ChatRespond
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("chat bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")

	data, err := h.svc.Chat(c.Request.Context(), uuid, chatbotID, req)
	if err != nil {
		zlog.Error("chat failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	back.Result(c, data, err)
}

// ChatStream 流式对话（SSE）
//
// 路由: POST /chatbots/:id/chat/stream
// 鉴权: 需要JWT
// 请求体: ChatRequest
// 响应: SSE流，首条为会话ID哨兵，随后是token片段，以 [DONE] 或 error 结束
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req chatRequest.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("chat stream bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	chatbotID := c.Param("id")

	eventChan, err := h.svc.ChatStream(c.Request.Context(), uuid, chatbotID, req)
	if err != nil {
		zlog.Error("chat stream failed", zap.Error(err), zap.String("chatbotId", chatbotID))
		back.Result(c, nil, err)
		return
	}

	writeSSE(c, eventChan)
}

// writeSSE 把事件channel透传为SSE响应，chat和widget共用。
// 线上格式：首条是会话ID哨兵，中间是token片段，结尾必须是 [DONE] 或 error，
// 前端小部件按这个约定解析，不能静默断流。
func writeSSE(c *gin.Context, eventChan <-chan service.StreamEvent) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Transfer-Encoding", "chunked")

	w := c.Writer
	for event := range eventChan {
		switch event.Event {
		case "conversation":
			id, _ := event.Data.(string)
			writeSSEData(w, map[string]string{"content": "__CONV_ID__" + id + "__END__"})
		case "delta":
			m, _ := event.Data.(map[string]string)
			writeSSEData(w, map[string]string{"content": m["token"]})
		case "done":
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
			return
		case "error":
			m, _ := event.Data.(map[string]string)
			writeSSEData(w, map[string]string{"error": m["error"]})
			w.Flush()
			return
		}
		w.Flush()
	}
}

func writeSSEData(w gin.ResponseWriter, payload map[string]string) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func parsePositiveInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
