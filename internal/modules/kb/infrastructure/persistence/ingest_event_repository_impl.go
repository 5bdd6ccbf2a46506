package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ChatBase/internal/modules/kb/domain/entity"
	"ChatBase/internal/modules/kb/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ingestEventRepositoryImpl struct {
	db *gorm.DB
}

func NewIngestEventRepository(db *gorm.DB) repository.IngestEventRepository {
	return &ingestEventRepositoryImpl{db: db}
}

func (r *ingestEventRepositoryImpl) Create(ctx context.Context, ev *entity.IngestEvent) error {
	if ev == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *ingestEventRepositoryImpl) GetByID(ctx context.Context, id int64) (*entity.IngestEvent, error) {
	var event entity.IngestEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&event).Error
	if err == nil {
		return &event, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// ClaimForPublish 捞取待发布事件并在同一事务里抢占，SKIP LOCKED 避免多实例互相阻塞
func (r *ingestEventRepositoryImpl) ClaimForPublish(ctx context.Context, now time.Time, limit int) ([]entity.IngestEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []entity.IngestEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []entity.IngestEvent
		q := tx.Model(&entity.IngestEvent{}).
			Where("publish_status IN ?", []int8{repository.PublishStatusPending, repository.PublishStatusFailed}).
			Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&events).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			out = []entity.IngestEvent{}
			return nil
		}

		ids := make([]int64, 0, len(events))
		for i := range events {
			ids = append(ids, events[i].Id)
		}
		if err := tx.Model(&entity.IngestEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"updated_at": now}).Error; err != nil {
			return err
		}
		out = events
		return nil
	})
	return out, err
}

func (r *ingestEventRepositoryImpl) MarkPublished(ctx context.Context, id int64, topic string, partition int32, offset int64) error {
	return r.db.WithContext(ctx).Model(&entity.IngestEvent{}).Where("id = ?", id).
		Updates(map[string]any{
			"publish_status": repository.PublishStatusPublished,
			"error_msg":      "",
			"updated_at":     time.Now(),
		}).Error
}

func (r *ingestEventRepositoryImpl) MarkPublishFailed(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error {
	return r.db.WithContext(ctx).Model(&entity.IngestEvent{}).Where("id = ?", id).
		Updates(map[string]any{
			"publish_status": repository.PublishStatusFailed,
			"retry_count":    gorm.Expr("retry_count + ?", 1),
			"next_retry_at":  sql.NullTime{Time: nextRetryAt, Valid: true},
			"error_msg":      truncateErr(errMsg),
			"updated_at":     time.Now(),
		}).Error
}

func (r *ingestEventRepositoryImpl) TryMarkProcessing(ctx context.Context, id int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.IngestEvent{}).
		Where("id = ? AND status IN ?", id, []int8{repository.EventStatusPending, repository.EventStatusFailed}).
		Updates(map[string]any{"status": repository.EventStatusProcessing, "error_msg": "", "updated_at": now})
	return res.RowsAffected > 0, res.Error
}

func (r *ingestEventRepositoryImpl) MarkSucceeded(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&entity.IngestEvent{}).Where("id = ?", id).
		Updates(map[string]any{"status": repository.EventStatusSucceeded, "error_msg": "", "updated_at": time.Now()}).Error
}

func (r *ingestEventRepositoryImpl) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.db.WithContext(ctx).Model(&entity.IngestEvent{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":      repository.EventStatusFailed,
			"retry_count": gorm.Expr("retry_count + ?", 1),
			"error_msg":   truncateErr(errMsg),
			"updated_at":  time.Now(),
		}).Error
}

func truncateErr(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
