package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/cloudwego/eino/components/embedding"
)

// MockEmbedder 确定性伪向量，开发与测试用。
// 同一段文本永远得到同一个向量，相同文本检索时相似度为 1。
type MockEmbedder struct {
	Dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, t := range texts {
		result[i] = m.vectorFor(t)
	}
	return result, nil
}

func (m *MockEmbedder) vectorFor(text string) []float64 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, m.Dim)
	for j := 0; j < m.Dim; j++ {
		// 从哈希里循环取 4 字节映射到 [-1, 1]
		off := (j * 4) % (len(sum) - 4)
		u := binary.BigEndian.Uint32(sum[off : off+4])
		vec[j] = float64(u)/float64(1<<31) - 1
	}
	return vec
}

// 确保实现接口
var _ embedding.Embedder = (*MockEmbedder)(nil)
