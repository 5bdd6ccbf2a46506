package request

// CreateChatbotRequest 创建机器人
type CreateChatbotRequest struct {
	Name         string `json:"name" binding:"required"` // 机器人名称（必填）
	Description  string `json:"description"`             // 描述
	SystemPrompt string `json:"system_prompt"`           // 系统提示词，留空用默认
}

// UpdateChatbotRequest 更新机器人，零值字段不改
type UpdateChatbotRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	SystemPrompt *string `json:"system_prompt"`
	Status       *string `json:"status"` // draft | ready | disabled
}

// AddSheetRequest 绑定一张 Google 表格
type AddSheetRequest struct {
	SheetURL            string `json:"sheet_url" binding:"required"` // 分享链接（必填，需"知道链接可查看"）
	SheetName           string `json:"sheet_name"`                   // 展示名，留空用表格 ID
	SyncIntervalMinutes int    `json:"sync_interval_minutes"`        // 自动同步周期，0 用全局默认
}
