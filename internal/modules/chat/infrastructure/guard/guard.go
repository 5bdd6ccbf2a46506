package guard

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"ChatBase/pkg/xerr"
)

const (
	maxInputChars = 10000

	PolicyReject = "reject"
	PolicyStrip  = "strip"
)

// 指令注入特征。大小写不敏感，命中任意一条即判定为注入
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)new\s+instructions\s*:`),
	regexp.MustCompile(`(?i)^\s*system\s*:`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)\[INST\]`),
	regexp.MustCompile(`(?i)<<\s*SYS\s*>>`),
}

var wideWhitespaceRe = regexp.MustCompile(`\s{10,}`)

// Guard 对用户输入做净化和指令注入检测。
// reject 策略直接拒绝请求，strip 策略剥离命中片段继续作答。
type Guard struct {
	policy string
}

func NewGuard(policy string) *Guard {
	switch policy {
	case PolicyReject, PolicyStrip:
	default:
		policy = PolicyReject
	}
	return &Guard{policy: policy}
}

func (g *Guard) Policy() string { return g.policy }

// Sanitize 转义 HTML、剔除 NUL、压缩超长空白、截断超限输入。
// 对所有来源的输入统一执行，包括 webhook 渠道。
func Sanitize(input string) string {
	s := strings.ReplaceAll(input, "\x00", "")
	s = html.EscapeString(s)
	s = wideWhitespaceRe.ReplaceAllString(s, "     ")
	if len(s) > maxInputChars {
		// 截断点落在多字节字符中间会产生非法 UTF-8，回退到字符边界
		cut := maxInputChars
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}

// DetectInjection 返回命中的注入特征，未命中返回空串
func DetectInjection(input string) string {
	for _, re := range injectionPatterns {
		if m := re.FindString(input); m != "" {
			return m
		}
	}
	return ""
}

// Check 净化输入并执行注入策略，返回可进入提示词的安全文本
func (g *Guard) Check(input string) (string, error) {
	s := Sanitize(input)
	if s == "" {
		return "", xerr.New(xerr.BadRequest, "消息内容不能为空")
	}
	if hit := DetectInjection(s); hit != "" {
		if g.policy == PolicyReject {
			return "", fmt.Errorf("检测到指令注入 %q: %w", hit, xerr.ErrPromptInjection)
		}
		for _, re := range injectionPatterns {
			s = re.ReplaceAllString(s, "")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", fmt.Errorf("剥离注入内容后输入为空: %w", xerr.ErrPromptInjection)
		}
	}
	return s, nil
}
