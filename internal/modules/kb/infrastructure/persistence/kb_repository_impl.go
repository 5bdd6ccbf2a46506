package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ChatBase/internal/modules/kb/domain/entity"
	"ChatBase/internal/modules/kb/domain/repository"

	"gorm.io/gorm"
)

type chatbotRepositoryImpl struct {
	db *gorm.DB
}

func NewChatbotRepository(db *gorm.DB) repository.ChatbotRepository {
	return &chatbotRepositoryImpl{db: db}
}

func (r *chatbotRepositoryImpl) Create(ctx context.Context, bot *entity.Chatbot) error {
	return r.db.WithContext(ctx).Create(bot).Error
}

func (r *chatbotRepositoryImpl) GetByID(ctx context.Context, id string) (*entity.Chatbot, error) {
	var bot entity.Chatbot
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&bot).Error
	if err == nil {
		return &bot, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *chatbotRepositoryImpl) ListByOwner(ctx context.Context, ownerID string) ([]entity.Chatbot, error) {
	var bots []entity.Chatbot
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&bots).Error
	return bots, err
}

func (r *chatbotRepositoryImpl) UpdateStatus(ctx context.Context, id string, status string) error {
	return r.db.WithContext(ctx).Model(&entity.Chatbot{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now()}).Error
}

func (r *chatbotRepositoryImpl) Update(ctx context.Context, bot *entity.Chatbot) error {
	return r.db.WithContext(ctx).Save(bot).Error
}

func (r *chatbotRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Chatbot{}).Error
}

type documentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &documentRepositoryImpl{db: db}
}

func (r *documentRepositoryImpl) Create(ctx context.Context, doc *entity.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepositoryImpl) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	var doc entity.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&doc).Error
	if err == nil {
		return &doc, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) ListByChatbot(ctx context.Context, chatbotID string) ([]entity.Document, error) {
	var docs []entity.Document
	err := r.db.WithContext(ctx).Where("chatbot_id = ?", chatbotID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

// UpdateStatus 带状态前置条件的推进，返回是否真的发生了转移。
// 用 WHERE status = from 做乐观并发控制，防止并发把终态改回去。
func (r *documentRepositoryImpl) UpdateStatus(ctx context.Context, id string, fromStatus, toStatus, failReason string) (bool, error) {
	updates := map[string]any{
		"status":      toStatus,
		"fail_reason": failReason,
		"updated_at":  time.Now(),
	}
	if toStatus == entity.DocStatusReady {
		updates["ready_at"] = sql.NullTime{Time: time.Now(), Valid: true}
	}
	res := r.db.WithContext(ctx).Model(&entity.Document{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *documentRepositoryImpl) SetChunkCount(ctx context.Context, id string, n int) error {
	return r.db.WithContext(ctx).Model(&entity.Document{}).Where("id = ?", id).
		Updates(map[string]any{"chunk_count": n, "updated_at": time.Now()}).Error
}

func (r *documentRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Document{}).Error
}

type chunkRepositoryImpl struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) repository.ChunkRepository {
	return &chunkRepositoryImpl{db: db}
}

// CreateBatch 一个事务写入全部块，任何一行失败整体回滚
func (r *chunkRepositoryImpl) CreateBatch(ctx context.Context, chunks []entity.EmbeddingChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&chunks, 200).Error
	})
}

func (r *chunkRepositoryImpl) ListBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) ([]entity.EmbeddingChunk, error) {
	var chunks []entity.EmbeddingChunk
	err := r.db.WithContext(ctx).
		Where("chatbot_id = ? AND source_type = ? AND source_key = ?", chatbotID, sourceType, sourceKey).
		Order("version ASC, sequence_index ASC").
		Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepositoryImpl) DeleteBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) error {
	return r.db.WithContext(ctx).
		Where("chatbot_id = ? AND source_type = ? AND source_key = ?", chatbotID, sourceType, sourceKey).
		Delete(&entity.EmbeddingChunk{}).Error
}

func (r *chunkRepositoryImpl) DeleteBySourceBelowVersion(ctx context.Context, chatbotID, sourceType, sourceKey string, maxVersion int64) error {
	return r.db.WithContext(ctx).
		Where("chatbot_id = ? AND source_type = ? AND source_key = ? AND version < ?", chatbotID, sourceType, sourceKey, maxVersion).
		Delete(&entity.EmbeddingChunk{}).Error
}

func (r *chunkRepositoryImpl) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	return r.db.WithContext(ctx).Where("chatbot_id = ?", chatbotID).Delete(&entity.EmbeddingChunk{}).Error
}

func (r *chunkRepositoryImpl) CountBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.EmbeddingChunk{}).
		Where("chatbot_id = ? AND source_type = ? AND source_key = ?", chatbotID, sourceType, sourceKey).
		Count(&n).Error
	return n, err
}

func (r *chunkRepositoryImpl) VectorIDsBySource(ctx context.Context, chatbotID, sourceType, sourceKey string, belowVersion int64) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&entity.EmbeddingChunk{}).
		Where("chatbot_id = ? AND source_type = ? AND source_key = ?", chatbotID, sourceType, sourceKey)
	if belowVersion > 0 {
		q = q.Where("version < ?", belowVersion)
	}
	err := q.Pluck("vector_id", &ids).Error
	return ids, err
}

type sheetRepositoryImpl struct {
	db *gorm.DB
}

func NewSheetRepository(db *gorm.DB) repository.SheetRepository {
	return &sheetRepositoryImpl{db: db}
}

func (r *sheetRepositoryImpl) Create(ctx context.Context, sheet *entity.GoogleSheet) error {
	return r.db.WithContext(ctx).Create(sheet).Error
}

func (r *sheetRepositoryImpl) GetByID(ctx context.Context, id string) (*entity.GoogleSheet, error) {
	var sheet entity.GoogleSheet
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&sheet).Error
	if err == nil {
		return &sheet, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *sheetRepositoryImpl) ListByChatbot(ctx context.Context, chatbotID string) ([]entity.GoogleSheet, error) {
	var sheets []entity.GoogleSheet
	err := r.db.WithContext(ctx).Where("chatbot_id = ?", chatbotID).Order("created_at DESC").Find(&sheets).Error
	return sheets, err
}

// ListDueForSync 只捞 public 表格，oauth 的表由用户手动触发
func (r *sheetRepositoryImpl) ListDueForSync(ctx context.Context, limit int) ([]entity.GoogleSheet, error) {
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	var sheets []entity.GoogleSheet
	err := r.db.WithContext(ctx).
		Where("access_mode = ?", entity.SheetAccessPublic).
		Where("last_synced_at IS NULL OR last_synced_at <= DATE_SUB(?, INTERVAL sync_interval_minutes MINUTE)", now).
		Order("last_synced_at ASC").
		Limit(limit).
		Find(&sheets).Error
	return sheets, err
}

func (r *sheetRepositoryImpl) Update(ctx context.Context, sheet *entity.GoogleSheet) error {
	return r.db.WithContext(ctx).Save(sheet).Error
}

func (r *sheetRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.GoogleSheet{}).Error
}
