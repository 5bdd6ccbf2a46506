package service

// StatusNotifier 向在线的机器人拥有者推送资料处理进度。
// 由 WebSocket 层实现，用户不在线时丢弃。
type StatusNotifier interface {
	NotifyOwner(ownerID string, event interface{})
}

// DocumentStatusEvent 文档摄取进度推送
type DocumentStatusEvent struct {
	Type       string `json:"type"` // "document_status"
	DocumentID string `json:"document_id"`
	ChatbotID  string `json:"chatbot_id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
}

// SheetStatusEvent 表格同步进度推送
type SheetStatusEvent struct {
	Type      string `json:"type"` // "sheet_status"
	SheetID   string `json:"sheet_id"`
	ChatbotID string `json:"chatbot_id"`
	Status    string `json:"status"`
	Changed   bool   `json:"changed"`
	Version   int64  `json:"version,omitempty"`
}
