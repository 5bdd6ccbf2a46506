package chunking

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// RecursiveChunker 基于分隔符递归切分，适合自然段落类文本。
// 配置 chunkStrategy = "recursive" 时启用，token 统计仍用本包的分词器。
type RecursiveChunker struct {
	ChunkSize    int
	ChunkOverlap int

	initOnce sync.Once
	initErr  error
	impl     document.Transformer
}

func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = 400
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &RecursiveChunker{ChunkSize: size, ChunkOverlap: overlap}
}

func (c *RecursiveChunker) init(ctx context.Context) error {
	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.ChunkSize,
			OverlapSize: c.ChunkOverlap,
			Separators:  []string{"\n\n", "\n", "。", "！", "？", "；", ". ", " "},
			LenFunc:     CountTokens,
			KeepType:    recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.impl = impl
	})
	return c.initErr
}

func (c *RecursiveChunker) ChunkDocuments(ctx context.Context, blocks []string) ([]Chunk, error) {
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	if c.impl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	text := strings.Join(blocks, "\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	frags, err := c.impl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(frags))
	for _, f := range frags {
		if f == nil || strings.TrimSpace(f.Content) == "" {
			continue
		}
		out = append(out, Chunk{Text: f.Content, TokenCount: CountTokens(f.Content)})
	}
	return out, nil
}
