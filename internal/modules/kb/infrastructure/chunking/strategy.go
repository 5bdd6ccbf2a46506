package chunking

import "context"

// Strategy 切分策略的统一入口，流水线只依赖这一个方法
type Strategy interface {
	ChunkBlocks(ctx context.Context, blocks []string) ([]Chunk, error)
}

func (c *TokenChunker) ChunkBlocks(_ context.Context, blocks []string) ([]Chunk, error) {
	return c.Chunk(blocks), nil
}

func (c *RecursiveChunker) ChunkBlocks(ctx context.Context, blocks []string) ([]Chunk, error) {
	return c.ChunkDocuments(ctx, blocks)
}

// NewStrategy 按配置选择切分策略，未知名称退回滑动窗口
func NewStrategy(name string, size, overlap int) Strategy {
	switch name {
	case "recursive":
		return NewRecursiveChunker(size, overlap)
	default:
		return NewTokenChunker(size, overlap)
	}
}
