package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ChatBase/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
)

// countingEmbedder 记录每次调用的批大小，可配置前 N 次失败
type countingEmbedder struct {
	mu        sync.Mutex
	batches   []int
	failFirst int
	calls     int
}

func (c *countingEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.batches = append(c.batches, len(texts))
	if c.calls <= c.failFirst {
		return nil, fmt.Errorf("provider hiccup %d", c.calls)
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(i)}
	}
	return out, nil
}

func TestBatchEmbedderSplitsBatches(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBatchEmbedder(inner, 10, 1)

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	vecs, err := b.EmbedStrings(context.Background(), texts)
	if err != nil {
		t.Fatalf("分批失败: %v", err)
	}
	if len(vecs) != 25 {
		t.Fatalf("返回数量应与输入一致，得到 %d", len(vecs))
	}
	want := []int{10, 10, 5}
	if len(inner.batches) != len(want) {
		t.Fatalf("期望 %d 个批次，得到 %v", len(want), inner.batches)
	}
	for i, n := range want {
		if inner.batches[i] != n {
			t.Fatalf("批次 %d 期望 %d 条，得到 %d", i, n, inner.batches[i])
		}
	}
}

func TestBatchEmbedderRetriesThenSucceeds(t *testing.T) {
	inner := &countingEmbedder{failFirst: 2}
	b := NewBatchEmbedder(inner, 10, 3)

	vecs, err := b.EmbedStrings(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("期望 2 个向量，得到 %d", len(vecs))
	}
	if inner.calls != 3 {
		t.Fatalf("期望 3 次调用（2 败 1 成），得到 %d", inner.calls)
	}
}

func TestBatchEmbedderExhaustsRetries(t *testing.T) {
	inner := &countingEmbedder{failFirst: 100}
	b := NewBatchEmbedder(inner, 10, 2)

	_, err := b.EmbedStrings(context.Background(), []string{"a"})
	if !errors.Is(err, xerr.ErrEmbeddingProvider) {
		t.Fatalf("重试耗尽应返回提供方错误，得到 %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("retryTimes=2 时应调用 3 次，得到 %d", inner.calls)
	}
}

func TestBatchEmbedderCanceledContext(t *testing.T) {
	inner := &countingEmbedder{failFirst: 100}
	b := NewBatchEmbedder(inner, 10, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.EmbedStrings(ctx, []string{"a"})
	if !errors.Is(err, xerr.ErrTimeout) {
		t.Fatalf("已取消的上下文应映射为超时错误，得到 %v", err)
	}
}

func TestBatchEmbedderEmptyInput(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBatchEmbedder(inner, 10, 1)
	vecs, err := b.EmbedStrings(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("空输入应直接返回: %v, %v", vecs, err)
	}
	if inner.calls != 0 {
		t.Fatalf("空输入不应调用底层")
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	m := NewMockEmbedder(8)
	a, err := m.EmbedStrings(context.Background(), []string{"same text"})
	if err != nil {
		t.Fatalf("mock 失败: %v", err)
	}
	b, _ := m.EmbedStrings(context.Background(), []string{"same text"})
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("同文本应得到同向量")
		}
	}
	c, _ := m.EmbedStrings(context.Background(), []string{"different text"})
	same := true
	for i := range a[0] {
		if a[0][i] != c[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("不同文本不应得到同向量")
	}
	if len(a[0]) != 8 {
		t.Fatalf("维度应为 8，得到 %d", len(a[0]))
	}
}
