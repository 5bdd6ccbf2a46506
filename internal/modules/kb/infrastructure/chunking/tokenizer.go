package chunking

import "unicode"

// span 标记一个 token 在原文中覆盖的字节区间 [Start, End)。
// 相邻 token 的区间首尾相接（token 间空白归入前一个区间），
// 因此把所有区间按序拼起来能无损还原原文。
type span struct {
	Start int
	End   int
}

// tokenize 确定性分词：token 为连续的非空白段。
// 同一段文本多次调用结果完全一致，token 数随文本长度单调不减。
func tokenize(text string) []span {
	var starts []int
	inToken := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			starts = append(starts, i)
			inToken = true
		}
	}
	if len(starts) == 0 {
		return nil
	}

	spans := make([]span, len(starts))
	for k := range starts {
		s := starts[k]
		if k == 0 {
			// 开头的空白并入第一个区间
			s = 0
		}
		e := len(text)
		if k+1 < len(starts) {
			e = starts[k+1]
		}
		spans[k] = span{Start: s, End: e}
	}
	return spans
}

// CountTokens 统计文本的 token 数
func CountTokens(text string) int {
	return len(tokenize(text))
}
