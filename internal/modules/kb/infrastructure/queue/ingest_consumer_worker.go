package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ChatBase/internal/modules/kb/domain/entity"
	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/mq"
	"ChatBase/pkg/zlog"

	"go.uber.org/zap"
)

// DocumentProcessor 摄取消费端回调，由 application 层实现
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// IngestConsumerWorker 消费摄取事件并驱动文档处理。
// 事件状态机（pending/processing/succeeded/failed）保证同一事件
// 被多个消费者或重投只会生效一次。
type IngestConsumerWorker struct {
	consumer  mq.Consumer
	eventRepo repository.IngestEventRepository
	processor DocumentProcessor
}

func NewIngestConsumerWorker(consumer mq.Consumer, eventRepo repository.IngestEventRepository, processor DocumentProcessor) *IngestConsumerWorker {
	return &IngestConsumerWorker{consumer: consumer, eventRepo: eventRepo, processor: processor}
}

func (w *IngestConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.eventRepo == nil {
		return errors.New("event repo is nil")
	}
	if w.processor == nil {
		return errors.New("document processor is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *IngestConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	idStr := strings.TrimSpace(msg.Headers["event_id"])
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		zlog.Warn("ingest consumer missing event_id", zap.String("topic", msg.Topic))
		return nil
	}

	ev, err := w.eventRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ev == nil || ev.Status == repository.EventStatusSucceeded {
		return nil
	}

	ok, err := w.eventRepo.TryMarkProcessing(ctx, ev.Id, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if procErr := w.processEvent(ctx, ev, msg.Value); procErr != nil {
		_ = w.eventRepo.MarkFailed(ctx, ev.Id, procErr.Error())
		zlog.Warn("ingest event failed",
			zap.Int64("eventId", ev.Id),
			zap.String("eventType", ev.EventType),
			zap.String("chatbotId", ev.ChatbotId),
			zap.Error(procErr))
		// 已记失败状态，不再要求 kafka 重投
		return nil
	}

	if err := w.eventRepo.MarkSucceeded(ctx, ev.Id); err != nil {
		zlog.Warn("ingest mark succeeded failed", zap.Int64("eventId", ev.Id), zap.Error(err))
		return err
	}
	return nil
}

func (w *IngestConsumerWorker) processEvent(ctx context.Context, ev *entity.IngestEvent, value []byte) error {
	switch strings.TrimSpace(ev.EventType) {
	case "document_ingest":
		var payload struct {
			DocumentID string `json:"document_id"`
		}
		raw := value
		if len(raw) == 0 {
			raw = []byte(ev.PayloadJson)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("事件负载解析失败: %w", err)
		}
		if payload.DocumentID == "" {
			return errors.New("事件负载缺少 document_id")
		}
		return w.processor.ProcessByID(ctx, payload.DocumentID)
	default:
		return fmt.Errorf("未知事件类型 %q", ev.EventType)
	}
}
