package chunking

import (
	"fmt"
	"strings"
	"testing"
)

func makeWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestTokenChunkerShortTextSingleChunk(t *testing.T) {
	c := NewTokenChunker(400, 50)
	chunks := c.ChunkText(makeWords(100))
	if len(chunks) != 1 {
		t.Fatalf("期望 1 个块，得到 %d", len(chunks))
	}
	if chunks[0].TokenCount != 100 {
		t.Fatalf("期望 100 token，得到 %d", chunks[0].TokenCount)
	}
}

func TestTokenChunkerSlidingWindow(t *testing.T) {
	// 900 token，窗口 400 重叠 50：步长 350，窗口起点 0/350/700
	c := NewTokenChunker(400, 50)
	chunks := c.ChunkText(makeWords(900))
	if len(chunks) != 3 {
		t.Fatalf("期望 3 个块，得到 %d", len(chunks))
	}
	wantCounts := []int{400, 400, 200}
	for i, want := range wantCounts {
		if chunks[i].TokenCount != want {
			t.Fatalf("块 %d 期望 %d token，得到 %d", i, want, chunks[i].TokenCount)
		}
	}
	// 相邻块有重叠：第二块开头的 50 个词是第一块结尾的 50 个词
	if !strings.HasPrefix(chunks[1].Text, "w350 ") {
		t.Fatalf("第二块应从 w350 开始，实际开头: %.30s", chunks[1].Text)
	}
	if !strings.Contains(chunks[0].Text, "w399") {
		t.Fatalf("第一块应覆盖到 w399")
	}
}

func TestTokenChunkerDeterministic(t *testing.T) {
	c := NewTokenChunker(100, 20)
	text := makeWords(500)
	a := c.ChunkText(text)
	b := c.ChunkText(text)
	if len(a) != len(b) {
		t.Fatalf("两次切分块数不同: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("块 %d 两次结果不同", i)
		}
	}
}

func TestTokenChunkerEmptyInput(t *testing.T) {
	c := NewTokenChunker(400, 50)
	if got := c.ChunkText(""); got != nil {
		t.Fatalf("空输入应返回 nil，得到 %v", got)
	}
	if got := c.ChunkText("   \n\t  "); got != nil {
		t.Fatalf("纯空白输入应返回 nil，得到 %v", got)
	}
}

func TestTokenChunkerOverlapClamp(t *testing.T) {
	c := NewTokenChunker(100, 200)
	if c.OverlapTokens != 50 {
		t.Fatalf("重叠超过窗口时应收敛到一半，得到 %d", c.OverlapTokens)
	}
}

func TestCountTokensMonotonic(t *testing.T) {
	if CountTokens("") != 0 {
		t.Fatalf("空文本 token 数应为 0")
	}
	if CountTokens("hello world") != 2 {
		t.Fatalf("两个词应为 2 token，得到 %d", CountTokens("hello world"))
	}
	short := CountTokens(makeWords(10))
	long := CountTokens(makeWords(20))
	if long <= short {
		t.Fatalf("更长文本 token 数不应减少: %d vs %d", short, long)
	}
}

func TestStrategyFallbackToTokenChunker(t *testing.T) {
	s := NewStrategy("nonsense", 100, 10)
	if _, ok := s.(*TokenChunker); !ok {
		t.Fatalf("未知策略名应退回滑动窗口切分")
	}
	s = NewStrategy("recursive", 100, 10)
	if _, ok := s.(*RecursiveChunker); !ok {
		t.Fatalf("recursive 应选中递归切分")
	}
}

// 把每个块去掉与前块重叠的 token 后按序拼接，必须无损还原原文
func reconstruct(t *testing.T, text string, c *TokenChunker) string {
	t.Helper()
	chunks := c.ChunkText(text)
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(chunks[0].Text)
	for _, ch := range chunks[1:] {
		sp := tokenize(ch.Text)
		if len(sp) <= c.OverlapTokens {
			t.Fatalf("后续块应多于 %d 个重叠 token，实际 %d", c.OverlapTokens, len(sp))
		}
		sb.WriteString(ch.Text[sp[c.OverlapTokens].Start:])
	}
	return sb.String()
}

func TestTokenChunkerReconstruction(t *testing.T) {
	texts := []string{
		makeWords(900),
		makeWords(37),
		"  leading whitespace " + makeWords(555),
		strings.ReplaceAll(makeWords(777), " ", "\n\t "),
	}
	for i, text := range texts {
		for _, c := range []*TokenChunker{
			NewTokenChunker(400, 50),
			NewTokenChunker(100, 20),
			NewTokenChunker(64, 0),
		} {
			if got := reconstruct(t, text, c); got != text {
				t.Fatalf("样本 %d 在窗口 %d/%d 下还原失败", i, c.MaxTokens, c.OverlapTokens)
			}
		}
	}
}
