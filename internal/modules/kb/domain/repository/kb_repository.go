package repository

import (
	"context"

	"ChatBase/internal/modules/kb/domain/entity"
)

type ChatbotRepository interface {
	Create(ctx context.Context, bot *entity.Chatbot) error
	GetByID(ctx context.Context, id string) (*entity.Chatbot, error)
	ListByOwner(ctx context.Context, ownerID string) ([]entity.Chatbot, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	Update(ctx context.Context, bot *entity.Chatbot) error
	// Delete 软删机器人本体，关联数据由 service 层级联清理
	Delete(ctx context.Context, id string) error
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	ListByChatbot(ctx context.Context, chatbotID string) ([]entity.Document, error)
	// UpdateStatus 只允许线性推进 pending -> processing -> ready|error
	UpdateStatus(ctx context.Context, id string, fromStatus, toStatus, failReason string) (bool, error)
	SetChunkCount(ctx context.Context, id string, n int) error
	Delete(ctx context.Context, id string) error
}

type ChunkRepository interface {
	// CreateBatch 在一个事务里写入一个来源的全部块
	CreateBatch(ctx context.Context, chunks []entity.EmbeddingChunk) error
	ListBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) ([]entity.EmbeddingChunk, error)
	DeleteBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) error
	// DeleteBySourceBelowVersion 表格换代后清理旧代次的块
	DeleteBySourceBelowVersion(ctx context.Context, chatbotID, sourceType, sourceKey string, maxVersion int64) error
	DeleteByChatbot(ctx context.Context, chatbotID string) error
	CountBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) (int64, error)
	// VectorIDsBySource 返回某来源（可限定代次上限）的全部向量 ID，回滚/清理时用
	VectorIDsBySource(ctx context.Context, chatbotID, sourceType, sourceKey string, belowVersion int64) ([]string, error)
}

type SheetRepository interface {
	Create(ctx context.Context, sheet *entity.GoogleSheet) error
	GetByID(ctx context.Context, id string) (*entity.GoogleSheet, error)
	ListByChatbot(ctx context.Context, chatbotID string) ([]entity.GoogleSheet, error)
	// ListDueForSync 返回到达同步周期的 public 表格
	ListDueForSync(ctx context.Context, limit int) ([]entity.GoogleSheet, error)
	Update(ctx context.Context, sheet *entity.GoogleSheet) error
	Delete(ctx context.Context, id string) error
}
