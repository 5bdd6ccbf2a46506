package respond

import "time"

// SourceRef 回答引用的知识库片段
type SourceRef struct {
	SourceType string  `json:"source_type"` // document | gsheet
	SourceKey  string  `json:"source_key"`  // 文档/表格 ID
	Score      float32 `json:"score"`       // 相似度得分
	Content    string  `json:"content"`     // 片段摘录（截断到 200 字符）
}

// ChatRespond 非流式对话响应
type ChatRespond struct {
	ConversationID string      `json:"conversation_id"`
	Answer         string      `json:"response"`
	Sources        []SourceRef `json:"sources"`
	DurationMs     int64       `json:"duration_ms"`
}

// ConversationInfo 会话摘要
type ConversationInfo struct {
	Id        string    `json:"id"`
	ChatbotId string    `json:"chatbot_id"`
	Source    string    `json:"source"` // widget | dashboard | whatsapp | telegram
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageInfo 单条消息
type MessageInfo struct {
	Id        int64       `json:"id"`
	Role      string      `json:"role"` // user | assistant
	Content   string      `json:"content"`
	Sources   []SourceRef `json:"sources,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IntegrationInfo 渠道绑定状态，凭据不回显
type IntegrationInfo struct {
	Id        string    `json:"id"`
	ChatbotId string    `json:"chatbot_id"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// WidgetBotInfo 小部件初始化信息
type WidgetBotInfo struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}
