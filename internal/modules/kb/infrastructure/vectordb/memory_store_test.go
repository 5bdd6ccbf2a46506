package vectordb

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"ChatBase/internal/modules/kb/domain/repository"
)

func item(id, chatbotID string, vec []float32) repository.VectorUpsertItem {
	return repository.VectorUpsertItem{
		ID:         id,
		Vector:     vec,
		ChatbotID:  chatbotID,
		SourceType: "document",
		SourceKey:  "doc-1",
		Version:    1,
		Content:    "content of " + id,
	}
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := []float32{1, 0, 0}

	if _, err := s.Upsert(ctx, []repository.VectorUpsertItem{
		item("a1", "bot-a", v),
		item("b1", "bot-b", v),
	}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	hits, err := s.Search(ctx, "bot-a", v, 10, 0)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a1" {
		t.Fatalf("bot-a 只应命中自己的向量: %+v", hits)
	}
	for _, h := range hits {
		if h.ChatbotID != "bot-a" {
			t.Fatalf("命中了其他租户的数据: %+v", h)
		}
	}
}

func TestMemoryStoreTopKAndOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	items := []repository.VectorUpsertItem{
		item("exact", "bot", []float32{1, 0, 0}),
		item("close", "bot", []float32{0.9, 0.1, 0}),
		item("far", "bot", []float32{0, 1, 0}),
	}
	if _, err := s.Upsert(ctx, items); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	hits, err := s.Search(ctx, "bot", []float32{1, 0, 0}, 2, 0)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("topK=2 应返回 2 条，得到 %d", len(hits))
	}
	if hits[0].ID != "exact" || hits[1].ID != "close" {
		t.Fatalf("应按相似度降序: %s, %s", hits[0].ID, hits[1].ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("分数应递减: %f vs %f", hits[0].Score, hits[1].Score)
	}
}

func TestMemoryStoreMinSimilarityFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{
		item("orthogonal", "bot", []float32{0, 1, 0}),
	})
	hits, err := s.Search(ctx, "bot", []float32{1, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("低于阈值的命中应被丢弃: %+v", hits)
	}
}

func TestMemoryStoreUpsertOverwritesByID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := item("x", "bot", []float32{1, 0, 0})
	first.Content = "old"
	second := item("x", "bot", []float32{1, 0, 0})
	second.Content = "new"

	_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{first})
	_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{second})

	hits, err := s.Search(ctx, "bot", []float32{1, 0, 0}, 10, 0)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("同 ID 重复写入应覆盖而不是堆积，得到 %d 条", len(hits))
	}
	if hits[0].Content != "new" {
		t.Fatalf("内容应是最新版本: %q", hits[0].Content)
	}
}

func TestMemoryStoreDeleteBySourceVersionCutoff(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := item("v1-0", "bot", []float32{1, 0, 0})
	old.Version = 1
	cur := item("v2-0", "bot", []float32{1, 0, 0})
	cur.Version = 2
	_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{old, cur})

	// 只清掉低于版本 2 的旧代次
	if err := s.DeleteBySource(ctx, "bot", "document", "doc-1", 2); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	hits, _ := s.Search(ctx, "bot", []float32{1, 0, 0}, 10, 0)
	if len(hits) != 1 || hits[0].ID != "v2-0" {
		t.Fatalf("应只保留新代次: %+v", hits)
	}

	// maxVersion <= 0 清掉整个来源
	if err := s.DeleteBySource(ctx, "bot", "document", "doc-1", 0); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	hits, _ = s.Search(ctx, "bot", []float32{1, 0, 0}, 10, 0)
	if len(hits) != 0 {
		t.Fatalf("来源应被清空: %+v", hits)
	}
}

func TestMemoryStoreDeleteByChatbot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{
		item("a1", "bot-a", []float32{1, 0, 0}),
		item("b1", "bot-b", []float32{1, 0, 0}),
	})
	if err := s.DeleteByChatbot(ctx, "bot-a"); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	hits, _ := s.Search(ctx, "bot-a", []float32{1, 0, 0}, 10, 0)
	if len(hits) != 0 {
		t.Fatalf("bot-a 应被清空")
	}
	hits, _ = s.Search(ctx, "bot-b", []float32{1, 0, 0}, 10, 0)
	if len(hits) != 1 {
		t.Fatalf("bot-b 不应受影响")
	}
}

func TestMemoryStoreUpsertValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Upsert(ctx, []repository.VectorUpsertItem{{ID: "", ChatbotID: "bot"}}); err == nil {
		t.Fatalf("缺 ID 应报错")
	}
	if _, err := s.Upsert(ctx, []repository.VectorUpsertItem{{ID: "x", ChatbotID: ""}}); err == nil {
		t.Fatalf("缺 ChatbotID 应报错")
	}
}

func TestMemoryStoreStableTieBreak(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		it := item(fmt.Sprintf("tie-%d", i), "bot", []float32{1, 0, 0})
		_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{it})
	}
	hits, _ := s.Search(ctx, "bot", []float32{1, 0, 0}, 5, 0)
	for i, h := range hits {
		if h.ID != fmt.Sprintf("tie-%d", i) {
			t.Fatalf("同分命中应按写入顺序: 位置 %d 是 %s", i, h.ID)
		}
	}
}

func TestMemoryStoreIsolationUnderConcurrentIngest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := []float32{1, 0, 0}

	_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{item("a-seed", "bot-a", v)})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, bot := range []string{"bot-a", "bot-b"} {
		wg.Add(1)
		go func(bot string) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				it := item(fmt.Sprintf("%s-%d", bot, i), bot, v)
				if _, err := s.Upsert(ctx, []repository.VectorUpsertItem{it}); err != nil {
					t.Errorf("并发写入失败: %v", err)
					return
				}
			}
		}(bot)
	}

	for i := 0; i < 200; i++ {
		hits, err := s.Search(ctx, "bot-a", v, 20, 0)
		if err != nil {
			t.Fatalf("并发检索失败: %v", err)
		}
		for _, h := range hits {
			if h.ChatbotID != "bot-a" {
				close(stop)
				wg.Wait()
				t.Fatalf("并发写入期间命中了其他租户: %+v", h)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestMemoryStoreResyncNeverLeavesGap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := []float32{1, 0, 0}

	seed := item("sheet-v1", "bot", v)
	seed.SourceType = "gsheet"
	seed.SourceKey = "sheet-1"
	seed.Version = 1
	_, _ = s.Upsert(ctx, []repository.VectorUpsertItem{seed})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// 换代重同步：先写新代次，再清旧代次
		for ver := int64(2); ; ver++ {
			select {
			case <-stop:
				return
			default:
			}
			next := item(fmt.Sprintf("sheet-v%d", ver), "bot", v)
			next.SourceType = "gsheet"
			next.SourceKey = "sheet-1"
			next.Version = ver
			if _, err := s.Upsert(ctx, []repository.VectorUpsertItem{next}); err != nil {
				t.Errorf("换代写入失败: %v", err)
				return
			}
			if err := s.DeleteBySource(ctx, "bot", "gsheet", "sheet-1", ver); err != nil {
				t.Errorf("旧代次清理失败: %v", err)
				return
			}
		}
	}()

	// 重同步进行中，任何一次查询都不能看到空结果
	for i := 0; i < 500; i++ {
		hits, err := s.Search(ctx, "bot", v, 10, 0)
		if err != nil {
			t.Fatalf("检索失败: %v", err)
		}
		if len(hits) == 0 {
			close(stop)
			wg.Wait()
			t.Fatalf("重同步期间出现了空窗（第 %d 次查询）", i)
		}
	}
	close(stop)
	wg.Wait()
}
