package http

import (
	nethttp "net/http"
	"time"

	"ChatBase/internal/modules/kb/application/service"
	"ChatBase/pkg/util/myjwt"
	"ChatBase/pkg/ws"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StatusWsHandler 资料处理进度的WebSocket推送。
// 文档摄取和表格同步是异步的，面板连上后能实时看到状态流转，
// 不用轮询文档列表接口。
type StatusWsHandler struct {
	hub *ws.Hub
}

func NewStatusWsHandler(hub *ws.Hub) *StatusWsHandler {
	return &StatusWsHandler{hub: hub}
}

// HubNotifier 把 Hub 适配成摄取服务的进度通知出口
type HubNotifier struct {
	hub *ws.Hub
}

func NewHubNotifier(hub *ws.Hub) service.StatusNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyOwner(ownerID string, event interface{}) {
	if err := n.hub.SendJSON(ownerID, event); err != nil {
		zlog.Warn("push status event failed", zap.String("ownerId", ownerID), zap.Error(err))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *nethttp.Request) bool {
		return true
	},
}

// Connect 建立进度推送连接
//
// 路由: GET /ws/status?token=xxx
// 鉴权: 浏览器原生 WebSocket 不支持自定义 Header，token 走 URL 参数，
// 所以这条路由不挂 JWT 中间件，在这里手动校验。
func (h *StatusWsHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.AbortWithStatus(nethttp.StatusUnauthorized)
		return
	}
	claims, err := myjwt.ParseToken(token)
	if err != nil || claims == nil || claims.Uuid == "" {
		c.AbortWithStatus(nethttp.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error("ws upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(claims.Uuid, conn)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	conn.SetReadLimit(4 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go client.WritePump()

	// 推送是单向的，读循环只消费 ping/关闭帧
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}
