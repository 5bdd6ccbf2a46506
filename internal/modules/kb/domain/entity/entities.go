package entity

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// Chatbot 状态
const (
	ChatbotStatusDraft    = "draft"
	ChatbotStatusReady    = "ready"
	ChatbotStatusDisabled = "disabled"
)

type Chatbot struct {
	Id           string         `gorm:"column:id;type:char(36);primaryKey"`
	OwnerId      string         `gorm:"column:owner_id;type:char(36);not null;index:idx_chatbot_owner"`
	Name         string         `gorm:"column:name;type:varchar(128);not null"`
	Description  string         `gorm:"column:description;type:varchar(512)"`
	SystemPrompt string         `gorm:"column:system_prompt;type:text"`
	Status       string         `gorm:"column:status;type:varchar(20);not null;default:draft"`
	CreatedAt    time.Time      `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;type:datetime;not null"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;type:datetime;index"`
}

func (Chatbot) TableName() string { return "kb_chatbot" }

// Document 摄取状态，只允许 pending -> processing -> ready|error
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusReady      = "ready"
	DocStatusError      = "error"
)

type Document struct {
	Id         string       `gorm:"column:id;type:char(36);primaryKey"`
	ChatbotId  string       `gorm:"column:chatbot_id;type:char(36);not null;index:idx_document_chatbot"`
	Filename   string       `gorm:"column:filename;type:varchar(255);not null"`
	FileType   string       `gorm:"column:file_type;type:varchar(20);not null"`
	FileSize   int64        `gorm:"column:file_size;not null;default:0"`
	ChunkCount int          `gorm:"column:chunk_count;type:int;not null;default:0"`
	Status     string       `gorm:"column:status;type:varchar(20);not null;default:pending;index:idx_document_status"`
	FailReason string       `gorm:"column:fail_reason;type:varchar(512)"`
	ReadyAt    sql.NullTime `gorm:"column:ready_at;type:datetime"`
	CreatedAt  time.Time    `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt  time.Time    `gorm:"column:updated_at;type:datetime;not null"`
}

func (Document) TableName() string { return "kb_document" }

// EmbeddingChunk 不可变，重新摄取产生新行。ChatbotId 冗余存储用于租户隔离校验
type EmbeddingChunk struct {
	Id            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChatbotId     string    `gorm:"column:chatbot_id;type:char(36);not null;index:idx_chunk_chatbot"`
	SourceType    string    `gorm:"column:source_type;type:varchar(20);not null;uniqueIndex:uniq_chunk_source"`
	SourceKey     string    `gorm:"column:source_key;type:char(36);not null;uniqueIndex:uniq_chunk_source"`
	SequenceIndex int       `gorm:"column:sequence_index;type:int;not null;uniqueIndex:uniq_chunk_source"`
	Version       int64     `gorm:"column:version;not null;default:1;uniqueIndex:uniq_chunk_source"`
	Content       string    `gorm:"column:content;type:mediumtext"`
	TokenCount    int       `gorm:"column:token_count;type:int;not null;default:0"`
	VectorId      string    `gorm:"column:vector_id;type:varchar(128);not null;uniqueIndex:uniq_chunk_vector"`
	CreatedAt     time.Time `gorm:"column:created_at;type:datetime;not null"`
}

func (EmbeddingChunk) TableName() string { return "kb_embedding_chunk" }

// 嵌入块来源类型
const (
	SourceTypeDocument = "document"
	SourceTypeSheet    = "gsheet"
)

// GoogleSheet 同步状态
const (
	SheetStatusPending = "pending"
	SheetStatusSynced  = "synced"
	SheetStatusError   = "error"
)

// GoogleSheet 访问方式，oauth 的表不参与自动轮询
const (
	SheetAccessPublic = "public"
	SheetAccessOAuth  = "oauth"
)

type GoogleSheet struct {
	Id                  string       `gorm:"column:id;type:char(36);primaryKey"`
	ChatbotId           string       `gorm:"column:chatbot_id;type:char(36);not null;index:idx_gsheet_chatbot"`
	SheetUrl            string       `gorm:"column:sheet_url;type:varchar(512);not null"`
	SheetName           string       `gorm:"column:sheet_name;type:varchar(128)"`
	AccessMode          string       `gorm:"column:access_mode;type:varchar(10);not null;default:public"`
	Status              string       `gorm:"column:status;type:varchar(20);not null;default:pending"`
	FailReason          string       `gorm:"column:fail_reason;type:varchar(512)"`
	LastDataHash        string       `gorm:"column:last_data_hash;type:char(64)"`
	LastSyncedAt        sql.NullTime `gorm:"column:last_synced_at;type:datetime"`
	SyncIntervalMinutes int          `gorm:"column:sync_interval_minutes;type:int;not null;default:60"`
	Version             int64        `gorm:"column:version;not null;default:0"`
	CreatedAt           time.Time    `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt           time.Time    `gorm:"column:updated_at;type:datetime;not null"`
}

func (GoogleSheet) TableName() string { return "kb_google_sheet" }

// IngestEvent kafka 发件箱，状态见 repository 常量
type IngestEvent struct {
	Id            int64        `gorm:"column:id;primaryKey;autoIncrement"`
	EventType     string       `gorm:"column:event_type;type:varchar(40);not null"`
	ChatbotId     string       `gorm:"column:chatbot_id;type:char(36);not null;index:idx_ingest_event_chatbot"`
	PayloadJson   string       `gorm:"column:payload_json;type:json"`
	DedupKey      string       `gorm:"column:dedup_key;type:varchar(160);not null;uniqueIndex:uniq_ingest_event_dedup"`
	PublishStatus int8         `gorm:"column:publish_status;type:tinyint;not null;default:0;index:idx_ingest_event_publish"`
	Status        int8         `gorm:"column:status;type:tinyint;not null;default:0;index:idx_ingest_event_status"`
	RetryCount    int          `gorm:"column:retry_count;type:int;not null;default:0"`
	NextRetryAt   sql.NullTime `gorm:"column:next_retry_at;type:datetime;index:idx_ingest_event_next_retry"`
	ErrorMsg      string       `gorm:"column:error_msg;type:varchar(512)"`
	CreatedAt     time.Time    `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;type:datetime;not null"`
}

func (IngestEvent) TableName() string { return "kb_ingest_event" }
