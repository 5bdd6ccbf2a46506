package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockChatModel 确定性回声模型：取最后一条用户消息原样复述。
// 流式输出按词切片，能驱动完整的 SSE 链路。
type MockChatModel struct{}

func NewMockChatModel() *MockChatModel {
	return &MockChatModel{}
}

func (m *MockChatModel) answer(in []*schema.Message) string {
	for i := len(in) - 1; i >= 0; i-- {
		if in[i] != nil && in[i].Role == schema.User {
			return fmt.Sprintf("mock answer: %s", in[i].Content)
		}
	}
	return "mock answer"
}

func (m *MockChatModel) Generate(ctx context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return schema.AssistantMessage(m.answer(in), nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.SplitAfter(m.answer(in), " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}
