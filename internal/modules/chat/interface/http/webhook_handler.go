package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"ChatBase/internal/config"
	"ChatBase/internal/modules/chat/application/service"
	"ChatBase/internal/modules/chat/domain/entity"
	"ChatBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookHandler 外部渠道入站消息。
// 平台方只关心 HTTP 200，业务失败记日志后照常返回 200，避免平台侧重试风暴。
type WebhookHandler struct {
	chatSvc  service.ChatService
	integSvc service.IntegrationService
	client   *nethttp.Client

	telegramAPIBase string
	whatsappAPIBase string
	sendTimeout     time.Duration
}

func NewWebhookHandler(chatSvc service.ChatService, integSvc service.IntegrationService, conf config.IntegrationsConfig) *WebhookHandler {
	apiBase := strings.TrimRight(conf.TelegramAPIBase, "/")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	waBase := strings.TrimRight(conf.WhatsappAPIBase, "/")
	if waBase == "" {
		waBase = "https://graph.facebook.com/v19.0"
	}
	timeout := time.Duration(conf.SendTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookHandler{
		chatSvc:         chatSvc,
		integSvc:        integSvc,
		client:          &nethttp.Client{Timeout: timeout},
		telegramAPIBase: apiBase,
		whatsappAPIBase: waBase,
		sendTimeout:     timeout,
	}
}

// telegramUpdate Telegram Bot API 的 Update 结构，只取用到的字段
type telegramUpdate struct {
	Message struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

// whatsappInbound WhatsApp Cloud API 的入站通知结构
type whatsappInbound struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From string `json:"from"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Verify WhatsApp 订阅验证握手
//
// 路由: GET /webhooks/whatsapp/:botId
// 鉴权: hub.verify_token 必须与绑定配置中的 verify_token 一致
func (h *WebhookHandler) Verify(c *gin.Context) {
	chatbotID := c.Param("botId")

	integ, err := h.integSvc.GetActive(c.Request.Context(), chatbotID, entity.SourceWhatsapp)
	if err != nil || integ == nil {
		c.String(nethttp.StatusNotFound, "not found")
		return
	}

	var conf struct {
		VerifyToken string `json:"verify_token"`
	}
	_ = json.Unmarshal([]byte(integ.ConfigJson), &conf)

	if c.Query("hub.mode") == "subscribe" && c.Query("hub.verify_token") == conf.VerifyToken && conf.VerifyToken != "" {
		c.String(nethttp.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.String(nethttp.StatusForbidden, "verify token mismatch")
}

// Handle 入站消息统一入口
//
// 路由: POST /webhooks/:platform/:botId
// 鉴权: 无（靠渠道绑定是否启用过滤）
func (h *WebhookHandler) Handle(c *gin.Context) {
	platform := strings.ToLower(c.Param("platform"))
	chatbotID := c.Param("botId")

	if platform != entity.SourceWhatsapp && platform != entity.SourceTelegram {
		c.JSON(nethttp.StatusNotFound, gin.H{"status": "unknown platform"})
		return
	}

	integ, err := h.integSvc.GetActive(c.Request.Context(), chatbotID, platform)
	if err != nil {
		zlog.Error("webhook integration lookup failed", zap.Error(err), zap.String("chatbotId", chatbotID))
		c.JSON(nethttp.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if integ == nil {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ignored"})
		return
	}

	switch platform {
	case entity.SourceTelegram:
		h.handleTelegram(c, chatbotID, integ.ConfigJson)
	case entity.SourceWhatsapp:
		h.handleWhatsapp(c, chatbotID, integ.ConfigJson)
	}
}

func (h *WebhookHandler) handleTelegram(c *gin.Context, chatbotID, configJSON string) {
	var update telegramUpdate
	if err := c.BindJSON(&update); err != nil {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ignored"})
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	if text == "" || update.Message.Chat.ID == 0 {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ignored"})
		return
	}

	externalUserID := strconv.FormatInt(update.Message.From.ID, 10)
	resp, err := h.chatSvc.PlatformChat(c.Request.Context(), chatbotID, entity.SourceTelegram, externalUserID, text)
	if err != nil {
		zlog.Warn("telegram chat failed", zap.Error(err), zap.String("chatbotId", chatbotID))
		c.JSON(nethttp.StatusOK, gin.H{"status": "error logged"})
		return
	}

	var conf struct {
		BotToken string `json:"bot_token"`
	}
	_ = json.Unmarshal([]byte(configJSON), &conf)
	if conf.BotToken == "" {
		zlog.Warn("telegram integration missing bot_token", zap.String("chatbotId", chatbotID))
		c.JSON(nethttp.StatusOK, gin.H{"status": "no reply sent"})
		return
	}

	sendURL := fmt.Sprintf("%s/bot%s/sendMessage", h.telegramAPIBase, conf.BotToken)
	body := map[string]interface{}{
		"chat_id": update.Message.Chat.ID,
		"text":    resp.Answer,
	}
	if err := h.postJSON(c.Request.Context(), sendURL, body, ""); err != nil {
		zlog.Error("telegram send reply failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	c.JSON(nethttp.StatusOK, gin.H{"status": "ok"})
}

func (h *WebhookHandler) handleWhatsapp(c *gin.Context, chatbotID, configJSON string) {
	var inbound whatsappInbound
	if err := c.BindJSON(&inbound); err != nil {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ignored"})
		return
	}

	from, text := "", ""
	phoneNumberID := ""
	for _, e := range inbound.Entry {
		for _, ch := range e.Changes {
			if len(ch.Value.Messages) > 0 {
				from = ch.Value.Messages[0].From
				text = strings.TrimSpace(ch.Value.Messages[0].Text.Body)
				phoneNumberID = ch.Value.Metadata.PhoneNumberID
			}
		}
	}
	// 状态回执等非文本通知直接确认
	if from == "" || text == "" {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ignored"})
		return
	}

	resp, err := h.chatSvc.PlatformChat(c.Request.Context(), chatbotID, entity.SourceWhatsapp, from, text)
	if err != nil {
		zlog.Warn("whatsapp chat failed", zap.Error(err), zap.String("chatbotId", chatbotID))
		c.JSON(nethttp.StatusOK, gin.H{"status": "error logged"})
		return
	}

	var conf struct {
		AccessToken   string `json:"access_token"`
		PhoneNumberID string `json:"phone_number_id"`
	}
	_ = json.Unmarshal([]byte(configJSON), &conf)
	if conf.PhoneNumberID != "" {
		phoneNumberID = conf.PhoneNumberID
	}
	if conf.AccessToken == "" || phoneNumberID == "" {
		zlog.Warn("whatsapp integration missing credentials", zap.String("chatbotId", chatbotID))
		c.JSON(nethttp.StatusOK, gin.H{"status": "no reply sent"})
		return
	}

	sendURL := fmt.Sprintf("%s/%s/messages", h.whatsappAPIBase, phoneNumberID)
	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                from,
		"type":              "text",
		"text":              map[string]string{"body": resp.Answer},
	}
	if err := h.postJSON(c.Request.Context(), sendURL, body, conf.AccessToken); err != nil {
		zlog.Error("whatsapp send reply failed", zap.Error(err), zap.String("chatbotId", chatbotID))
	}
	c.JSON(nethttp.StatusOK, gin.H{"status": "ok"})
}

func (h *WebhookHandler) postJSON(ctx context.Context, url string, body interface{}, bearer string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(sendCtx, nethttp.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("platform api returned status %d", resp.StatusCode)
	}
	return nil
}
