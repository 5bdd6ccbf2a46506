package chunking

import "strings"

// Chunk 一个切片结果：原文子串加它的 token 数
type Chunk struct {
	Text       string
	TokenCount int
}

// TokenChunker 按 token 数滑动窗口切分文本。
// 窗口大小 MaxTokens，下一个窗口从上一个窗口结尾回退 OverlapTokens 个 token 开始，
// 相邻块之间有重叠而不是互斥分段。
type TokenChunker struct {
	MaxTokens     int
	OverlapTokens int
}

func NewTokenChunker(maxTokens, overlapTokens int) *TokenChunker {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 2
	}
	return &TokenChunker{MaxTokens: maxTokens, OverlapTokens: overlapTokens}
}

// Chunk 把有序文本块合并后切分。空输入返回零个块。
// 每个块都是合并文本的连续子串，按非重叠区间拼接可无损还原。
func (c *TokenChunker) Chunk(blocks []string) []Chunk {
	text := strings.Join(blocks, "\n")
	return c.ChunkText(text)
}

func (c *TokenChunker) ChunkText(text string) []Chunk {
	spans := tokenize(text)
	n := len(spans)
	if n == 0 {
		return nil
	}
	if n <= c.MaxTokens {
		return []Chunk{{Text: text, TokenCount: n}}
	}

	step := c.MaxTokens - c.OverlapTokens
	if step <= 0 {
		step = 1
	}

	var chunks []Chunk
	for i := 0; i < n; i += step {
		j := i + c.MaxTokens
		if j > n {
			j = n
		}
		chunks = append(chunks, Chunk{
			Text:       text[spans[i].Start:spans[j-1].End],
			TokenCount: j - i,
		})
		if j == n {
			break
		}
	}
	return chunks
}
