package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ChatBase/internal/modules/chat/application/dto/respond"
	chatRepo "ChatBase/internal/modules/chat/domain/repository"
	"ChatBase/internal/modules/chat/infrastructure/guard"
	kbRepo "ChatBase/internal/modules/kb/domain/repository"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// AnswerRequest 一次问答。会话由应用层预先解析，这里只消费 ConversationID
type AnswerRequest struct {
	ConversationID string
	ChatbotID      string
	SystemPrompt   string
	Question       string
	TopK           int
}

// AnswerResult 问答结果
type AnswerResult struct {
	ConversationID string
	Answer         string
	Sources        []respond.SourceRef
	EmbeddingMs    int64
	SearchMs       int64
	LLMMs          int64
	TotalMs        int64
	Err            error
}

type AnswerOptions struct {
	TopK             int
	MinSimilarity    float64
	HistoryLimit     int
	MaxContextTokens int
}

// AnswerPipeline 问答流水线：净化 -> 检索 -> 历史 -> 组装提示词 -> 生成 -> 落库。
// 流式场景手工跑前四个节点拿到 StreamReader，收尾再执行落库节点。
type AnswerPipeline struct {
	msgRepo   chatRepo.MessageRepository
	convRepo  chatRepo.ConversationRepository
	vs        kbRepo.VectorStore
	embedder  embedding.Embedder
	chatModel model.BaseChatModel
	guard     *guard.Guard
	opts      AnswerOptions

	// 同一会话的 user/assistant 成对落库要串行，跨会话互不影响
	mu        sync.Mutex
	convLocks map[string]*sync.Mutex

	r compose.Runnable[*AnswerRequest, *AnswerResult]
}

func NewAnswerPipeline(msgRepo chatRepo.MessageRepository, convRepo chatRepo.ConversationRepository, vs kbRepo.VectorStore, embedder embedding.Embedder, chatModel model.BaseChatModel, g *guard.Guard, opts AnswerOptions) (*AnswerPipeline, error) {
	if msgRepo == nil || convRepo == nil || vs == nil || embedder == nil || chatModel == nil {
		return nil, fmt.Errorf("required dependencies are nil")
	}
	if g == nil {
		g = guard.NewGuard(guard.PolicyReject)
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 2000
	}

	p := &AnswerPipeline{
		msgRepo:   msgRepo,
		convRepo:  convRepo,
		vs:        vs,
		embedder:  embedder,
		chatModel: chatModel,
		guard:     g,
		opts:      opts,
		convLocks: make(map[string]*sync.Mutex),
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Execute 非流式问答
func (p *AnswerPipeline) Execute(ctx context.Context, req *AnswerRequest) (*AnswerResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	res, err := p.r.Invoke(ctx, req)
	if err != nil {
		return res, err
	}
	if res != nil && res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

// ExecuteStream 流式问答：跑到提示词组装，返回模型流和中间状态。
// 调用方读完（或中断）后用 PersistStreamResult 收尾。
func (p *AnswerPipeline) ExecuteStream(ctx context.Context, req *AnswerRequest) (*schema.StreamReader[*schema.Message], *answerState, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("request is nil")
	}

	st, err := p.guardNode(ctx, req)
	if err != nil || st.Err != nil {
		return nil, nil, firstError(err, st.Err)
	}
	st, err = p.retrieveNode(ctx, st)
	if err != nil || st.Err != nil {
		return nil, nil, firstError(err, st.Err)
	}
	st, err = p.historyNode(ctx, st)
	if err != nil || st.Err != nil {
		return nil, nil, firstError(err, st.Err)
	}
	st, err = p.buildPromptNode(ctx, st)
	if err != nil || st.Err != nil {
		return nil, nil, firstError(err, st.Err)
	}

	msgs := make([]*schema.Message, len(st.PromptMsgs))
	for i := range st.PromptMsgs {
		msgs[i] = &st.PromptMsgs[i]
	}
	llmStart := time.Now()
	sr, err := p.chatModel.Stream(ctx, msgs)
	if err != nil {
		return nil, nil, err
	}
	st.LLMStart = llmStart
	return sr, st, nil
}

// PersistStreamResult 流式收尾。连接中断时传入已产出的部分回答，
// 依然完整落库，刷新页面后历史可见。
func (p *AnswerPipeline) PersistStreamResult(ctx context.Context, st *answerState, fullAnswer string) (*AnswerResult, error) {
	st.Answer = fullAnswer
	if !st.LLMStart.IsZero() {
		st.LLMMs = time.Since(st.LLMStart).Milliseconds()
	}
	res, err := p.persistNode(ctx, st)
	if err != nil {
		return nil, err
	}
	if res != nil && res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func (p *AnswerPipeline) lockFor(conversationID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lk, ok := p.convLocks[conversationID]
	if !ok {
		lk = &sync.Mutex{}
		p.convLocks[conversationID] = lk
	}
	return lk
}

func (p *AnswerPipeline) Sources(st *answerState) []respond.SourceRef {
	if st == nil {
		return nil
	}
	return st.Sources
}

func firstError(err1, err2 error) error {
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return fmt.Errorf("unknown error")
}
