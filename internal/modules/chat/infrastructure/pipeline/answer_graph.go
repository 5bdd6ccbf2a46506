package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ChatBase/internal/modules/chat/application/dto/respond"
	chatEntity "ChatBase/internal/modules/chat/domain/entity"
	"ChatBase/internal/modules/kb/infrastructure/chunking"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const maxSourceRefs = 3

const noContextNotice = "知识库中没有与本问题相关的内容。如实告知用户你没有找到相关资料，不要编造答案。"

// answerState 在图节点间传递
type answerState struct {
	Req        *AnswerRequest
	Question   string // 净化后的问题
	Hits       []contextHit
	Sources    []respond.SourceRef
	History    []chatEntity.Message
	PromptMsgs []schema.Message
	Answer     string

	Start       time.Time
	LLMStart    time.Time
	EmbeddingMs int64
	SearchMs    int64
	LLMMs       int64
	Err         error
}

type contextHit struct {
	SourceType string
	SourceKey  string
	Score      float32
	Content    string
}

func (p *AnswerPipeline) buildGraph(ctx context.Context) (compose.Runnable[*AnswerRequest, *AnswerResult], error) {
	const (
		Guard       = "Guard"
		Retrieve    = "Retrieve"
		History     = "History"
		BuildPrompt = "BuildPrompt"
		Generate    = "Generate"
		Persist     = "Persist"
	)

	g := compose.NewGraph[*AnswerRequest, *AnswerResult]()

	_ = g.AddLambdaNode(Guard, compose.InvokableLambdaWithOption(p.guardNode), compose.WithNodeName(Guard))
	_ = g.AddLambdaNode(Retrieve, compose.InvokableLambdaWithOption(p.retrieveNode), compose.WithNodeName(Retrieve))
	_ = g.AddLambdaNode(History, compose.InvokableLambdaWithOption(p.historyNode), compose.WithNodeName(History))
	_ = g.AddLambdaNode(BuildPrompt, compose.InvokableLambdaWithOption(p.buildPromptNode), compose.WithNodeName(BuildPrompt))
	_ = g.AddLambdaNode(Generate, compose.InvokableLambdaWithOption(p.generateNode), compose.WithNodeName(Generate))
	_ = g.AddLambdaNode(Persist, compose.InvokableLambdaWithOption(p.persistNode), compose.WithNodeName(Persist))

	_ = g.AddEdge(compose.START, Guard)
	_ = g.AddEdge(Guard, Retrieve)
	_ = g.AddEdge(Retrieve, History)
	_ = g.AddEdge(History, BuildPrompt)
	_ = g.AddEdge(BuildPrompt, Generate)
	_ = g.AddEdge(Generate, Persist)
	_ = g.AddEdge(Persist, compose.END)

	return g.Compile(ctx, compose.WithGraphName("RAGAnswerPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// Node 1: Guard 净化输入并检测注入
func (p *AnswerPipeline) guardNode(ctx context.Context, req *AnswerRequest, _ ...any) (*answerState, error) {
	st := &answerState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("nil request")
		return st, nil
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		st.Err = fmt.Errorf("conversation_id is required")
		return st, nil
	}
	if strings.TrimSpace(req.ChatbotID) == "" {
		st.Err = fmt.Errorf("chatbot_id is required")
		return st, nil
	}
	q, err := p.guard.Check(req.Question)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Question = q
	return st, nil
}

// Node 2: Retrieve 向量化问题并检索本机器人的知识库
func (p *AnswerPipeline) retrieveNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	embedStart := time.Now()
	vecs, err := p.embedder.EmbedStrings(ctx, []string{st.Question})
	if err != nil {
		st.Err = err
		return st, nil
	}
	if len(vecs) != 1 {
		st.Err = fmt.Errorf("查询向量数量异常 got=%d: %w", len(vecs), xerr.ErrEmbeddingProvider)
		return st, nil
	}
	st.EmbeddingMs = time.Since(embedStart).Milliseconds()

	query := make([]float32, len(vecs[0]))
	for i, v := range vecs[0] {
		query[i] = float32(v)
	}

	topK := st.Req.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}

	searchStart := time.Now()
	hits, err := p.vs.Search(ctx, st.Req.ChatbotID, query, topK, p.opts.MinSimilarity)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.SearchMs = time.Since(searchStart).Milliseconds()

	for _, h := range hits {
		st.Hits = append(st.Hits, contextHit{
			SourceType: h.SourceType,
			SourceKey:  h.SourceKey,
			Score:      h.Score,
			Content:    h.Content,
		})
	}
	for i, h := range st.Hits {
		if i >= maxSourceRefs {
			break
		}
		st.Sources = append(st.Sources, respond.SourceRef{
			SourceType: h.SourceType,
			SourceKey:  h.SourceKey,
			Score:      h.Score,
			Content:    truncateRunes(h.Content, 200),
		})
	}

	zlog.Info("answer retrieve done",
		zap.String("conversationId", st.Req.ConversationID),
		zap.Int("hits", len(st.Hits)),
		zap.Int64("embeddingMs", st.EmbeddingMs),
		zap.Int64("searchMs", st.SearchMs))
	return st, nil
}

// Node 3: History 加载最近的对话历史，时间升序
func (p *AnswerPipeline) historyNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}
	history, err := p.msgRepo.ListRecent(ctx, st.Req.ConversationID, p.opts.HistoryLimit)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.History = history
	return st, nil
}

// Node 4: BuildPrompt 系统提示词 + 检索上下文 + 历史 + 当前问题
func (p *AnswerPipeline) buildPromptNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	msgs := make([]schema.Message, 0, len(st.History)+3)
	msgs = append(msgs, schema.Message{Role: schema.System, Content: st.Req.SystemPrompt})

	usedTokens := 0
	if len(st.Hits) > 0 {
		block := "以下是知识库中检索到的相关内容，回答必须基于这些内容：\n" + p.buildContextBlock(st.Hits)
		usedTokens = chunking.CountTokens(block)
		msgs = append(msgs, schema.Message{Role: schema.System, Content: block})
	} else {
		// 未命中时显式告知模型，而不是留空任其发挥
		msgs = append(msgs, schema.Message{Role: schema.System, Content: noContextNotice})
	}

	// 历史只能用检索上下文剩下的预算，超了先砍最旧的轮次，
	// 检索到的内容永远优先于历史
	for _, m := range trimHistoryToBudget(st.History, p.opts.MaxContextTokens-usedTokens) {
		role := schema.User
		if m.Role == chatEntity.RoleAssistant {
			role = schema.Assistant
		}
		msgs = append(msgs, schema.Message{Role: role, Content: m.Content})
	}

	msgs = append(msgs, schema.Message{Role: schema.User, Content: st.Question})
	st.PromptMsgs = msgs
	return st, nil
}

// trimHistoryToBudget 从最新往回保留落在预算内的消息，返回值保持时间升序
func trimHistoryToBudget(history []chatEntity.Message, budget int) []chatEntity.Message {
	if budget <= 0 {
		return nil
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := chunking.CountTokens(history[i].Content)
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return history[start:]
}

// buildContextBlock 按得分顺序拼接片段，超出 token 预算即止
func (p *AnswerPipeline) buildContextBlock(hits []contextHit) string {
	var sb strings.Builder
	used := 0
	for i, h := range hits {
		block := fmt.Sprintf("[%d] (%s/%s, 相关度 %.3f)\n%s\n", i+1, h.SourceType, h.SourceKey, h.Score, h.Content)
		n := chunking.CountTokens(block)
		if used+n > p.opts.MaxContextTokens && used > 0 {
			break
		}
		sb.WriteString(block)
		used += n
	}
	return sb.String()
}

// Node 5: Generate 调用生成模型（非流式）
func (p *AnswerPipeline) generateNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	msgs := make([]*schema.Message, len(st.PromptMsgs))
	for i := range st.PromptMsgs {
		msgs[i] = &st.PromptMsgs[i]
	}

	llmStart := time.Now()
	resp, err := p.chatModel.Generate(ctx, msgs)
	if err != nil {
		st.Err = fmt.Errorf("生成失败: %v: %w", err, xerr.ErrGenerationProvider)
		return st, nil
	}
	st.Answer = resp.Content
	st.LLMMs = time.Since(llmStart).Milliseconds()
	return st, nil
}

// Node 6: Persist 落库用户消息和助手消息，并刷新会话时间。
// 落库失败只记日志，回答已经产出，不让用户白等一次生成。
func (p *AnswerPipeline) persistNode(ctx context.Context, st *answerState, _ ...any) (*AnswerResult, error) {
	if st == nil {
		return &AnswerResult{Err: fmt.Errorf("nil state")}, nil
	}
	if st.Err != nil {
		return p.buildResult(st), nil
	}

	// 成对写入，其他请求不得插队
	lk := p.lockFor(st.Req.ConversationID)
	lk.Lock()
	defer lk.Unlock()

	now := time.Now()
	userMsg := &chatEntity.Message{
		ConversationId: st.Req.ConversationID,
		Role:           chatEntity.RoleUser,
		Content:        st.Question,
		CreatedAt:      now,
	}
	if err := p.msgRepo.Create(ctx, userMsg); err != nil {
		zlog.Error("persist user message failed", zap.String("conversationId", st.Req.ConversationID), zap.Error(err))
	}

	sourcesJSON := "[]"
	if len(st.Sources) > 0 {
		if b, err := json.Marshal(st.Sources); err == nil {
			sourcesJSON = string(b)
		}
	}
	asstMsg := &chatEntity.Message{
		ConversationId: st.Req.ConversationID,
		Role:           chatEntity.RoleAssistant,
		Content:        st.Answer,
		SourcesJson:    sourcesJSON,
		CreatedAt:      now,
	}
	if err := p.msgRepo.Create(ctx, asstMsg); err != nil {
		zlog.Error("persist assistant message failed", zap.String("conversationId", st.Req.ConversationID), zap.Error(err))
	}

	if err := p.convRepo.Touch(ctx, st.Req.ConversationID); err != nil {
		zlog.Error("touch conversation failed", zap.String("conversationId", st.Req.ConversationID), zap.Error(err))
	}

	return p.buildResult(st), nil
}

func (p *AnswerPipeline) buildResult(st *answerState) *AnswerResult {
	return &AnswerResult{
		ConversationID: st.Req.ConversationID,
		Answer:         st.Answer,
		Sources:        st.Sources,
		EmbeddingMs:    st.EmbeddingMs,
		SearchMs:       st.SearchMs,
		LLMMs:          st.LLMMs,
		TotalMs:        time.Since(st.Start).Milliseconds(),
		Err:            st.Err,
	}
}

func truncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
