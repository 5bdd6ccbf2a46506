package vectordb

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/pkg/xerr"
)

// MemoryStore 进程内向量库，开发与测试用。
// 暴力余弦相似度，同分按写入顺序先到优先。
type MemoryStore struct {
	mu    sync.RWMutex
	items []memoryItem
	byID  map[string]int
	seq   int64
}

type memoryItem struct {
	repository.VectorUpsertItem
	order int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (s *MemoryStore) Upsert(ctx context.Context, items []repository.VectorUpsertItem) ([]string, error) {
	if len(items) == 0 {
		return []string{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			return nil, errors.New("upsert item missing ID")
		}
		if it.ChatbotID == "" {
			return nil, errors.New("upsert item missing ChatbotID")
		}
		if idx, ok := s.byID[it.ID]; ok {
			order := s.items[idx].order
			s.items[idx] = memoryItem{VectorUpsertItem: it, order: order}
		} else {
			s.seq++
			s.byID[it.ID] = len(s.items)
			s.items = append(s.items, memoryItem{VectorUpsertItem: it, order: s.seq})
		}
		ids = append(ids, it.ID)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeWhere(func(it memoryItem) bool {
		_, ok := drop[it.ID]
		return ok
	})
	return nil
}

func (s *MemoryStore) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	if chatbotID == "" {
		return errors.New("chatbotID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeWhere(func(it memoryItem) bool {
		return it.ChatbotID == chatbotID
	})
	return nil
}

func (s *MemoryStore) DeleteBySource(ctx context.Context, chatbotID, sourceType, sourceKey string, maxVersion int64) error {
	if chatbotID == "" {
		return errors.New("chatbotID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeWhere(func(it memoryItem) bool {
		return it.ChatbotID == chatbotID &&
			it.SourceType == sourceType &&
			it.SourceKey == sourceKey &&
			(maxVersion <= 0 || it.Version < maxVersion)
	})
	return nil
}

// removeWhere 调用方必须已持有写锁
func (s *MemoryStore) removeWhere(match func(memoryItem) bool) {
	kept := s.items[:0]
	for _, it := range s.items {
		if !match(it) {
			kept = append(kept, it)
		}
	}
	s.items = kept
	s.byID = make(map[string]int, len(s.items))
	for i, it := range s.items {
		s.byID[it.ID] = i
	}
}

func (s *MemoryStore) Search(ctx context.Context, chatbotID string, vector []float32, topK int, minSimilarity float64) ([]repository.VectorSearchHit, error) {
	if chatbotID == "" {
		return nil, errors.New("chatbotID is empty")
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	type scored struct {
		hit   repository.VectorSearchHit
		order int64
	}
	var results []scored
	for _, it := range s.items {
		if it.ChatbotID != chatbotID {
			continue
		}
		score := cosine(vector, it.Vector)
		if float64(score) < minSimilarity {
			continue
		}
		results = append(results, scored{
			hit: repository.VectorSearchHit{
				ID:            it.ID,
				Score:         score,
				ChatbotID:     it.ChatbotID,
				SourceType:    it.SourceType,
				SourceKey:     it.SourceKey,
				SequenceIndex: it.SequenceIndex,
				Version:       it.Version,
				Content:       it.Content,
				MetadataJSON:  it.MetadataJSON,
			},
			order: it.order,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].hit.Score != results[b].hit.Score {
			return results[a].hit.Score > results[b].hit.Score
		}
		return results[a].order < results[b].order
	})
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]repository.VectorSearchHit, 0, len(results))
	for _, r := range results {
		if r.hit.ChatbotID != chatbotID {
			return nil, xerr.ErrTenantIsolation
		}
		out = append(out, r.hit)
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ repository.VectorStore = (*MemoryStore)(nil)
