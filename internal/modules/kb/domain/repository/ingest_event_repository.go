package repository

import (
	"context"
	"time"

	"ChatBase/internal/modules/kb/domain/entity"
)

// 发件箱发布状态
const (
	PublishStatusPending   int8 = 0
	PublishStatusPublished int8 = 1
	PublishStatusFailed    int8 = 2
)

// 消费处理状态
const (
	EventStatusPending    int8 = 0
	EventStatusProcessing int8 = 1
	EventStatusSucceeded  int8 = 2
	EventStatusFailed     int8 = 3
)

type IngestEventRepository interface {
	Create(ctx context.Context, ev *entity.IngestEvent) error
	GetByID(ctx context.Context, id int64) (*entity.IngestEvent, error)
	// ClaimForPublish 捞取待发布（或到达重试时间）的事件并抢占
	ClaimForPublish(ctx context.Context, now time.Time, limit int) ([]entity.IngestEvent, error)
	MarkPublished(ctx context.Context, id int64, topic string, partition int32, offset int64) error
	MarkPublishFailed(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error
	// TryMarkProcessing 消费端抢占，返回 false 表示已被其它消费者处理
	TryMarkProcessing(ctx context.Context, id int64, now time.Time) (bool, error)
	MarkSucceeded(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}
