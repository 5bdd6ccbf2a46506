package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 50
	defaultRetryTimes = 3
	retryBaseDelay    = 500 * time.Millisecond
)

// BatchEmbedder 把底层 Embedder 包装成分批、带重试的版本。
// 整体要么全部成功（返回数量与输入一一对应），要么返回错误，
// 上层据此保证"部分失败就整体失败"的摄取语义。
type BatchEmbedder struct {
	inner      embedding.Embedder
	batchSize  int
	retryTimes int
}

func NewBatchEmbedder(inner embedding.Embedder, batchSize, retryTimes int) *BatchEmbedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if retryTimes <= 0 {
		retryTimes = defaultRetryTimes
	}
	return &BatchEmbedder{inner: inner, batchSize: batchSize, retryTimes: retryTimes}
}

func (b *BatchEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.embedBatch(ctx, texts[start:end], opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedding returned %d vectors for %d inputs: %w", len(out), len(texts), xerr.ErrEmbeddingProvider)
	}
	for i := range out {
		l2Normalize(out[i])
	}
	return out, nil
}

// l2Normalize 入库和查询向量都走统一归一，COSINE 和 IP 度量下打分一致
func l2Normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] *= inv
	}
}

func (b *BatchEmbedder) embedBatch(ctx context.Context, batch []string, opts ...embedding.Option) ([][]float64, error) {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 0; attempt <= b.retryTimes; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embedding canceled: %v: %w", ctx.Err(), xerr.ErrTimeout)
			case <-time.After(delay):
			}
			delay *= 2
		}

		vecs, err := b.inner.EmbedStrings(ctx, batch, opts...)
		if err == nil {
			if len(vecs) != len(batch) {
				return nil, fmt.Errorf("embedding batch size mismatch: got %d want %d: %w", len(vecs), len(batch), xerr.ErrEmbeddingProvider)
			}
			return vecs, nil
		}

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("embedding timed out: %v: %w", err, xerr.ErrTimeout)
		}
		lastErr = err
		zlog.Warn("embedding batch failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("batch", len(batch)),
			zap.Error(err))
	}

	return nil, fmt.Errorf("embedding failed after %d retries: %v: %w", b.retryTimes, lastErr, xerr.ErrEmbeddingProvider)
}

var _ embedding.Embedder = (*BatchEmbedder)(nil)
