package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/chunking"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/compose"
)

// IngestRequest 一次摄取任务：一个来源（文档或表格）的全部内容。
// Data 非空时先过解析器；Blocks 非空时认为内容已经格式化好（表格同步走这条路）。
type IngestRequest struct {
	ChatbotID  string
	SourceType string
	SourceKey  string
	Version    int64
	FileType   string
	Data       []byte
	Blocks     []string
}

type IngestResult struct {
	ChatbotID  string   `json:"chatbot_id"`
	SourceType string   `json:"source_type"`
	SourceKey  string   `json:"source_key"`
	Version    int64    `json:"version"`
	Blocks     int      `json:"blocks"`
	Chunks     int      `json:"chunks"`
	Tokens     int      `json:"tokens"`
	VectorIDs  []string `json:"vector_ids"`
	DurationMs int64    `json:"duration_ms"`
}

// IngestPipeline 摄取流水线：解析 -> 切分 -> 向量化 -> 向量库写入 -> 块落库。
// 向量化整体失败即整体失败；块落库失败会回滚已写入的向量，
// 保证一个来源要么全部可检索，要么完全不可见。
type IngestPipeline struct {
	chunkRepo repository.ChunkRepository
	vs        repository.VectorStore
	embedder  embedding.Embedder
	chunker   chunking.Strategy
	vectorDim int

	r compose.Runnable[*IngestRequest, *IngestResult]
}

func NewIngestPipeline(chunkRepo repository.ChunkRepository, vs repository.VectorStore, embedder embedding.Embedder, chunker chunking.Strategy, vectorDim int) (*IngestPipeline, error) {
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if chunker == nil {
		return nil, fmt.Errorf("chunker is nil")
	}
	p := &IngestPipeline{
		chunkRepo: chunkRepo,
		vs:        vs,
		embedder:  embedder,
		chunker:   chunker,
		vectorDim: vectorDim,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

func (p *IngestPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	return p.r.Invoke(ctx, &req)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// vectorIDFor 确定性向量 ID，同来源同代次同序号重复摄取会覆盖而不是堆积
func vectorIDFor(chatbotID, sourceType, sourceKey string, version int64, seq int) string {
	return "v_" + sha256Hex(fmt.Sprintf("%s|%s|%s|%d|%d", chatbotID, sourceType, sourceKey, version, seq))[:48]
}

func buildChunkMeta(req *IngestRequest, seq, tokens int) string {
	m := map[string]any{
		"source_type":    req.SourceType,
		"source_key":     req.SourceKey,
		"version":        req.Version,
		"sequence_index": seq,
		"token_count":    tokens,
	}
	bs, err := json.Marshal(m)
	if err != nil || len(bs) == 0 {
		return "{}"
	}
	return string(bs)
}

func trimBlocks(blocks []string) []string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b) == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}
