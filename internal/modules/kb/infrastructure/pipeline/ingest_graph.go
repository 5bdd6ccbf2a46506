package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ChatBase/internal/modules/kb/domain/entity"
	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/chunking"
	"ChatBase/internal/modules/kb/infrastructure/parser"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// ingestState 在图节点间传递；Err 一旦置位后续节点直接透传，
// 最终由 Commit 节点统一返回。
type ingestState struct {
	Req     *IngestRequest
	Start   time.Time
	Blocks  []string
	Chunks  []chunking.Chunk
	Vectors [][]float32
	IDs     []string
	Err     error
}

func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestRequest, *IngestResult], error) {
	const (
		Prepare = "Prepare"
		Parse   = "Parse"
		Chunk   = "Chunk"
		Embed   = "Embed"
		Upsert  = "Upsert"
		Commit  = "Commit"
	)

	g := compose.NewGraph[*IngestRequest, *IngestResult]()

	_ = g.AddLambdaNode(Prepare, compose.InvokableLambdaWithOption(p.prepareNode), compose.WithNodeName(Prepare))
	_ = g.AddLambdaNode(Parse, compose.InvokableLambdaWithOption(p.parseNode), compose.WithNodeName(Parse))
	_ = g.AddLambdaNode(Chunk, compose.InvokableLambdaWithOption(p.chunkNode), compose.WithNodeName(Chunk))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(Upsert, compose.InvokableLambdaWithOption(p.upsertNode), compose.WithNodeName(Upsert))
	_ = g.AddLambdaNode(Commit, compose.InvokableLambdaWithOption(p.commitNode), compose.WithNodeName(Commit))

	_ = g.AddEdge(compose.START, Prepare)
	_ = g.AddEdge(Prepare, Parse)
	_ = g.AddEdge(Parse, Chunk)
	_ = g.AddEdge(Chunk, Embed)
	_ = g.AddEdge(Embed, Upsert)
	_ = g.AddEdge(Upsert, Commit)
	_ = g.AddEdge(Commit, compose.END)

	return g.Compile(ctx, compose.WithGraphName("KBIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *IngestPipeline) prepareNode(ctx context.Context, req *IngestRequest, _ ...any) (*ingestState, error) {
	st := &ingestState{Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("nil request")
		return st, nil
	}
	st.Req = req
	if req.ChatbotID == "" || req.SourceType == "" || req.SourceKey == "" {
		st.Err = fmt.Errorf("ingest request missing identity fields")
		return st, nil
	}
	if req.Version <= 0 {
		req.Version = 1
	}
	if len(req.Data) == 0 && len(req.Blocks) == 0 {
		st.Err = fmt.Errorf("来源内容为空: %w", xerr.ErrCorruptFile)
	}
	return st, nil
}

func (p *IngestPipeline) parseNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st.Err != nil {
		return st, nil
	}
	if len(st.Req.Blocks) > 0 {
		st.Blocks = trimBlocks(st.Req.Blocks)
	} else {
		blocks, err := parser.Parse(st.Req.Data, st.Req.FileType)
		if err != nil {
			st.Err = err
			return st, nil
		}
		st.Blocks = trimBlocks(blocks)
	}
	if len(st.Blocks) == 0 {
		st.Err = fmt.Errorf("解析后无可用文本: %w", xerr.ErrCorruptFile)
	}
	return st, nil
}

func (p *IngestPipeline) chunkNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st.Err != nil {
		return st, nil
	}
	chunks, err := p.chunker.ChunkBlocks(ctx, st.Blocks)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Chunks = chunks
	if len(st.Chunks) == 0 {
		st.Err = fmt.Errorf("切分结果为空: %w", xerr.ErrCorruptFile)
	}
	return st, nil
}

func (p *IngestPipeline) embedNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st.Err != nil {
		return st, nil
	}
	texts := make([]string, len(st.Chunks))
	for i, c := range st.Chunks {
		texts[i] = c.Text
	}
	vecs, err := p.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if len(vecs) != len(texts) {
		st.Err = fmt.Errorf("向量数量不一致 got=%d want=%d: %w", len(vecs), len(texts), xerr.ErrEmbeddingProvider)
		return st, nil
	}
	st.Vectors = make([][]float32, len(vecs))
	for i, v := range vecs {
		if p.vectorDim > 0 && len(v) != p.vectorDim {
			st.Err = fmt.Errorf("向量维度不一致 got=%d want=%d: %w", len(v), p.vectorDim, xerr.ErrEmbeddingProvider)
			return st, nil
		}
		f32 := make([]float32, len(v))
		for j, x := range v {
			f32[j] = float32(x)
		}
		st.Vectors[i] = f32
	}
	return st, nil
}

func (p *IngestPipeline) upsertNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st.Err != nil {
		return st, nil
	}
	req := st.Req
	items := make([]repository.VectorUpsertItem, len(st.Chunks))
	ids := make([]string, len(st.Chunks))
	for i, c := range st.Chunks {
		id := vectorIDFor(req.ChatbotID, req.SourceType, req.SourceKey, req.Version, i)
		ids[i] = id
		items[i] = repository.VectorUpsertItem{
			ID:            id,
			Vector:        st.Vectors[i],
			ChatbotID:     req.ChatbotID,
			SourceType:    req.SourceType,
			SourceKey:     req.SourceKey,
			SequenceIndex: i,
			Version:       req.Version,
			Content:       c.Text,
			MetadataJSON:  buildChunkMeta(req, i, c.TokenCount),
		}
	}
	if _, err := p.vs.Upsert(ctx, items); err != nil {
		st.Err = err
		return st, nil
	}
	st.IDs = ids
	return st, nil
}

// commitNode 把块写入关系库。失败时回收本次写入的向量，
// 避免向量库里留下没有对应记录的数据。
func (p *IngestPipeline) commitNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	if st.Req == nil {
		return &IngestResult{}, normalizeIngestErr(st.Err)
	}
	req := st.Req
	res := &IngestResult{
		ChatbotID:  req.ChatbotID,
		SourceType: req.SourceType,
		SourceKey:  req.SourceKey,
		Version:    req.Version,
		Blocks:     len(st.Blocks),
		Chunks:     len(st.Chunks),
		VectorIDs:  st.IDs,
		DurationMs: time.Since(st.Start).Milliseconds(),
	}
	if st.Err != nil {
		return res, normalizeIngestErr(st.Err)
	}

	rows := make([]entity.EmbeddingChunk, len(st.Chunks))
	total := 0
	for i, c := range st.Chunks {
		total += c.TokenCount
		rows[i] = entity.EmbeddingChunk{
			ChatbotId:     req.ChatbotID,
			SourceType:    req.SourceType,
			SourceKey:     req.SourceKey,
			SequenceIndex: i,
			Version:       req.Version,
			Content:       c.Text,
			TokenCount:    c.TokenCount,
			VectorId:      st.IDs[i],
		}
	}
	res.Tokens = total

	if p.chunkRepo != nil {
		// 同来源重跑先清掉不高于当前代次的旧行，保持幂等
		if err := p.chunkRepo.DeleteBySourceBelowVersion(ctx, req.ChatbotID, req.SourceType, req.SourceKey, req.Version+1); err != nil {
			p.rollbackVectors(ctx, st.IDs)
			return res, fmt.Errorf("清理旧分块失败: %w", err)
		}
		if err := p.chunkRepo.CreateBatch(ctx, rows); err != nil {
			p.rollbackVectors(ctx, st.IDs)
			return res, fmt.Errorf("分块落库失败: %w", err)
		}
	}

	res.DurationMs = time.Since(st.Start).Milliseconds()
	zlog.Info("ingest completed",
		zap.String("chatbotId", req.ChatbotID),
		zap.String("sourceType", req.SourceType),
		zap.String("sourceKey", req.SourceKey),
		zap.Int64("version", req.Version),
		zap.Int("chunks", res.Chunks),
		zap.Int("tokens", res.Tokens),
		zap.Int64("durationMs", res.DurationMs))
	return res, nil
}

func (p *IngestPipeline) rollbackVectors(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := p.vs.DeleteByIDs(context.WithoutCancel(ctx), ids); err != nil {
		zlog.Error("rollback vectors failed", zap.Int("count", len(ids)), zap.Error(err))
	}
}

func normalizeIngestErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("摄取超时: %w", xerr.ErrTimeout)
	}
	return err
}
