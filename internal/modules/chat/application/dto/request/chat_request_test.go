package request

import (
	"encoding/json"
	"testing"
)

// 小部件以 session_id 作为会话关联键
func TestWidgetChatRequestWireFieldNames(t *testing.T) {
	var req WidgetChatRequest
	if err := json.Unmarshal([]byte(`{"session_id":"visitor-1","message":"hello"}`), &req); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if req.SessionKey != "visitor-1" {
		t.Fatalf("session_id 没有映射到会话键: %+v", req)
	}
}
