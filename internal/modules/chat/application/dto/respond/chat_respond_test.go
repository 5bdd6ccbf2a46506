package respond

import (
	"encoding/json"
	"strings"
	"testing"
)

// 前端和渠道侧按 response 字段取回答，改名会静默破坏所有调用方
func TestChatRespondWireFieldNames(t *testing.T) {
	b, err := json.Marshal(ChatRespond{ConversationID: "c1", Answer: "hi"})
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"response":"hi"`) {
		t.Fatalf("回答应以 response 字段输出: %s", s)
	}
	if !strings.Contains(s, `"conversation_id":"c1"`) {
		t.Fatalf("会话 ID 字段不对: %s", s)
	}
}
