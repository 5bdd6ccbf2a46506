package request

// ChatRequest 面板侧对话请求
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`           // 会话 ID（可空，不传则新建会话）
	Message        string `json:"message" binding:"required"` // 用户消息（必填）
}

// WidgetChatRequest 嵌入式小部件对话请求，无登录态，靠 session_id 续接会话
type WidgetChatRequest struct {
	SessionKey string `json:"session_id" binding:"required"` // 访客会话键（前端生成并保存）
	Message    string `json:"message" binding:"required"`
}

// UpsertIntegrationRequest 绑定或更新外部渠道
type UpsertIntegrationRequest struct {
	Platform   string `json:"platform" binding:"required"` // whatsapp | telegram
	ConfigJson string `json:"config_json"`                 // 渠道凭据（bot token 等）
	IsActive   *bool  `json:"is_active"`
}
