package pipeline

import (
	"context"
	"errors"
	"testing"

	"ChatBase/internal/modules/kb/domain/entity"
	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/chunking"
	"ChatBase/internal/modules/kb/infrastructure/embedding"
	"ChatBase/internal/modules/kb/infrastructure/vectordb"
	"ChatBase/pkg/xerr"
)

type fakeChunkRepo struct {
	rows      []entity.EmbeddingChunk
	failWrite bool
}

func (f *fakeChunkRepo) CreateBatch(ctx context.Context, chunks []entity.EmbeddingChunk) error {
	if f.failWrite {
		return errors.New("db write failed")
	}
	f.rows = append(f.rows, chunks...)
	return nil
}

func (f *fakeChunkRepo) ListBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) ([]entity.EmbeddingChunk, error) {
	var out []entity.EmbeddingChunk
	for _, r := range f.rows {
		if r.ChatbotId == chatbotID && r.SourceType == sourceType && r.SourceKey == sourceKey {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) DeleteBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) error {
	return f.DeleteBySourceBelowVersion(ctx, chatbotID, sourceType, sourceKey, 0)
}

func (f *fakeChunkRepo) DeleteBySourceBelowVersion(ctx context.Context, chatbotID, sourceType, sourceKey string, maxVersion int64) error {
	kept := f.rows[:0]
	for _, r := range f.rows {
		match := r.ChatbotId == chatbotID && r.SourceType == sourceType && r.SourceKey == sourceKey &&
			(maxVersion <= 0 || r.Version < maxVersion)
		if !match {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeChunkRepo) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	kept := f.rows[:0]
	for _, r := range f.rows {
		if r.ChatbotId != chatbotID {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeChunkRepo) CountBySource(ctx context.Context, chatbotID, sourceType, sourceKey string) (int64, error) {
	rows, _ := f.ListBySource(ctx, chatbotID, sourceType, sourceKey)
	return int64(len(rows)), nil
}

func (f *fakeChunkRepo) VectorIDsBySource(ctx context.Context, chatbotID, sourceType, sourceKey string, belowVersion int64) ([]string, error) {
	var out []string
	for _, r := range f.rows {
		if r.ChatbotId == chatbotID && r.SourceType == sourceType && r.SourceKey == sourceKey &&
			(belowVersion <= 0 || r.Version < belowVersion) {
			out = append(out, r.VectorId)
		}
	}
	return out, nil
}

var _ repository.ChunkRepository = (*fakeChunkRepo)(nil)

func newTestPipeline(t *testing.T, repo repository.ChunkRepository, vs repository.VectorStore) *IngestPipeline {
	t.Helper()
	p, err := NewIngestPipeline(repo, vs, embedding.NewMockEmbedder(8), chunking.NewTokenChunker(50, 10), 8)
	if err != nil {
		t.Fatalf("构建流水线失败: %v", err)
	}
	return p
}

func TestIngestDocumentEndToEnd(t *testing.T) {
	repo := &fakeChunkRepo{}
	vs := vectordb.NewMemoryStore()
	p := newTestPipeline(t, repo, vs)

	res, err := p.Ingest(context.Background(), IngestRequest{
		ChatbotID:  "bot-1",
		SourceType: entity.SourceTypeDocument,
		SourceKey:  "doc-1",
		Version:    1,
		FileType:   "csv",
		Data:       []byte("question,answer\nWhat is the refund window,30 days\nHow to contact support,email us\n"),
	})
	if err != nil {
		t.Fatalf("摄取失败: %v", err)
	}
	if res.Chunks == 0 || res.Tokens == 0 {
		t.Fatalf("应产生分块和 token 统计: %+v", res)
	}
	if len(res.VectorIDs) != res.Chunks {
		t.Fatalf("向量 ID 数应与分块数一致: %d vs %d", len(res.VectorIDs), res.Chunks)
	}
	if len(repo.rows) != res.Chunks {
		t.Fatalf("分块应全部落库: %d vs %d", len(repo.rows), res.Chunks)
	}

	// 摄取完成后内容可检索
	vecs, err := embedding.NewMockEmbedder(8).EmbedStrings(context.Background(), []string{repo.rows[0].Content})
	if err != nil {
		t.Fatalf("查询向量化失败: %v", err)
	}
	q := make([]float32, len(vecs[0]))
	for i, v := range vecs[0] {
		q[i] = float32(v)
	}
	hits, err := vs.Search(context.Background(), "bot-1", q, 3, 0)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("摄取后的内容应可检索")
	}
	if hits[0].Score < 0.999 {
		t.Fatalf("同文本相似度应接近 1，得到 %f", hits[0].Score)
	}
}

func TestIngestIdempotentSameVersion(t *testing.T) {
	repo := &fakeChunkRepo{}
	vs := vectordb.NewMemoryStore()
	p := newTestPipeline(t, repo, vs)

	req := IngestRequest{
		ChatbotID:  "bot-1",
		SourceType: entity.SourceTypeSheet,
		SourceKey:  "sheet-1",
		Version:    3,
		Blocks:     []string{"Columns: a | b", "[Row 2] a: 1 | b: 2"},
	}
	first, err := p.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("首次摄取失败: %v", err)
	}
	second, err := p.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("重复摄取失败: %v", err)
	}
	if first.Chunks != second.Chunks {
		t.Fatalf("重复摄取分块数应一致: %d vs %d", first.Chunks, second.Chunks)
	}
	for i := range first.VectorIDs {
		if first.VectorIDs[i] != second.VectorIDs[i] {
			t.Fatalf("向量 ID 应确定性生成，重复摄取覆盖而非堆积")
		}
	}
	if len(repo.rows) != first.Chunks {
		t.Fatalf("重复摄取后分块行不应翻倍: %d", len(repo.rows))
	}
}

func TestIngestRollsBackVectorsOnCommitFailure(t *testing.T) {
	repo := &fakeChunkRepo{failWrite: true}
	vs := vectordb.NewMemoryStore()
	p := newTestPipeline(t, repo, vs)

	_, err := p.Ingest(context.Background(), IngestRequest{
		ChatbotID:  "bot-1",
		SourceType: entity.SourceTypeDocument,
		SourceKey:  "doc-1",
		Version:    1,
		Blocks:     []string{"some content to embed"},
	})
	if err == nil {
		t.Fatalf("落库失败应让整次摄取失败")
	}

	vecs, _ := embedding.NewMockEmbedder(8).EmbedStrings(context.Background(), []string{"some content to embed"})
	q := make([]float32, len(vecs[0]))
	for i, v := range vecs[0] {
		q[i] = float32(v)
	}
	hits, _ := vs.Search(context.Background(), "bot-1", q, 10, 0)
	if len(hits) != 0 {
		t.Fatalf("落库失败后向量应被回收，得到 %d 条", len(hits))
	}
}

func TestIngestUnsupportedFormat(t *testing.T) {
	p := newTestPipeline(t, &fakeChunkRepo{}, vectordb.NewMemoryStore())
	_, err := p.Ingest(context.Background(), IngestRequest{
		ChatbotID:  "bot-1",
		SourceType: entity.SourceTypeDocument,
		SourceKey:  "doc-1",
		FileType:   "exe",
		Data:       []byte("binary"),
	})
	if !errors.Is(err, xerr.ErrUnsupportedFormat) {
		t.Fatalf("期望 ErrUnsupportedFormat，得到 %v", err)
	}
}

func TestIngestEmptyContent(t *testing.T) {
	p := newTestPipeline(t, &fakeChunkRepo{}, vectordb.NewMemoryStore())
	_, err := p.Ingest(context.Background(), IngestRequest{
		ChatbotID:  "bot-1",
		SourceType: entity.SourceTypeDocument,
		SourceKey:  "doc-1",
	})
	if !errors.Is(err, xerr.ErrCorruptFile) {
		t.Fatalf("空内容应判为损坏来源，得到 %v", err)
	}
}
