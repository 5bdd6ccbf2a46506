package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/mq"
	"ChatBase/pkg/zlog"

	"go.uber.org/zap"
)

// OutboxRelay 把发件箱里的摄取事件搬运到 kafka。
// 事务内落库、异步发布，业务写入和消息投递解耦。
type OutboxRelay struct {
	repo         repository.IngestEventRepository
	pub          mq.Publisher
	topic        string
	batchSize    int
	pollInterval time.Duration
}

func NewOutboxRelay(repo repository.IngestEventRepository, pub mq.Publisher, topic string, batchSize int, pollInterval time.Duration) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &OutboxRelay{
		repo:         repo,
		pub:          pub,
		topic:        strings.TrimSpace(topic),
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	if r.repo == nil {
		return errors.New("ingest event repo is nil")
	}
	if r.pub == nil {
		return errors.New("publisher is nil")
	}
	if r.topic == "" {
		return errors.New("ingest topic is empty")
	}

	backoff := r.pollInterval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.RunOnce(ctx)
		if err != nil {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = r.pollInterval

		if n == 0 {
			time.Sleep(r.pollInterval)
		}
	}
}

func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	events, err := r.repo.ClaimForPublish(ctx, now, r.batchSize)
	if err != nil {
		zlog.Warn("outbox relay claim failed", zap.Error(err))
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	for i := range events {
		ev := events[i]
		key := []byte(ev.DedupKey)
		if len(key) == 0 {
			key = []byte(strconv.FormatInt(ev.Id, 10))
		}

		res, pubErr := r.pub.Publish(ctx, mq.Message{
			Topic: r.topic,
			Key:   key,
			Value: []byte(ev.PayloadJson),
			Headers: map[string]string{
				"event_id":   strconv.FormatInt(ev.Id, 10),
				"event_type": ev.EventType,
				"chatbot_id": ev.ChatbotId,
				"dedup_key":  ev.DedupKey,
			},
		})
		if pubErr != nil {
			next := computeNextRetry(now, ev.RetryCount)
			_ = r.repo.MarkPublishFailed(ctx, ev.Id, next, pubErr.Error())
			continue
		}

		if err := r.repo.MarkPublished(ctx, ev.Id, r.topic, res.Partition, res.Offset); err != nil {
			zlog.Warn("outbox relay mark published failed", zap.Int64("id", ev.Id), zap.Error(err))
			continue
		}
		published++
	}

	return published, nil
}

// computeNextRetry 500ms 起倍增，封顶 5 分钟
func computeNextRetry(now time.Time, retryCount int) time.Time {
	if retryCount < 0 {
		retryCount = 0
	}
	d := 500 * time.Millisecond
	for i := 0; i < retryCount && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return now.Add(d)
}
