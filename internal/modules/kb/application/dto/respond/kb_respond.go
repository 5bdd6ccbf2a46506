package respond

import "time"

// ChatbotInfo 机器人详情
type ChatbotInfo struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt"`
	Status       string    `json:"status"` // draft | ready | disabled
	Documents    int       `json:"documents"`
	Sheets       int       `json:"sheets"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DocumentInfo 文档摄取状态
type DocumentInfo struct {
	Id         string    `json:"id"`
	ChatbotId  string    `json:"chatbot_id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	Status     string    `json:"status"` // pending | processing | ready | error
	FailReason string    `json:"fail_reason,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	ReadyAt    string    `json:"ready_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SheetInfo 表格同步状态
type SheetInfo struct {
	Id                  string    `json:"id"`
	ChatbotId           string    `json:"chatbot_id"`
	SheetUrl            string    `json:"sheet_url"`
	SheetName           string    `json:"sheet_name"`
	Status              string    `json:"status"` // pending | synced | error
	FailReason          string    `json:"fail_reason,omitempty"`
	LastSyncedAt        string    `json:"last_synced_at,omitempty"`
	SyncIntervalMinutes int       `json:"sync_interval_minutes"`
	CreatedAt           time.Time `json:"created_at"`
}

// UploadResult 上传受理结果。异步模式下 Status 为 pending，
// 同步模式直接返回最终状态
type UploadResult struct {
	DocumentId string `json:"document_id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// SyncResult 一次表格同步的结果
type SyncResult struct {
	SheetId    string `json:"sheet_id"`
	Changed    bool   `json:"changed"` // 内容哈希未变时为 false，未执行重嵌入
	Chunks     int    `json:"chunks"`
	Version    int64  `json:"version"`
	DurationMs int64  `json:"duration_ms"`
}
