package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ChatBase/internal/modules/chat/domain/entity"
	kbRequest "ChatBase/internal/modules/kb/application/dto/request"
	kbRespond "ChatBase/internal/modules/kb/application/dto/respond"
	kbService "ChatBase/internal/modules/kb/application/service"
	kbEntity "ChatBase/internal/modules/kb/domain/entity"
	"ChatBase/pkg/xerr"
)

type fakeConvRepo struct {
	mu    sync.Mutex
	convs map[string]*entity.Conversation
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[string]*entity.Conversation)}
}

func (r *fakeConvRepo) Create(ctx context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conv
	r.convs[conv.Id] = &cp
	return nil
}

func (r *fakeConvRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.convs[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeConvRepo) GetBySessionKey(ctx context.Context, chatbotID, sessionKey string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.ChatbotId == chatbotID && c.SessionKey == sessionKey {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeConvRepo) ListByChatbot(ctx context.Context, chatbotID string, limit, offset int) ([]entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.Conversation
	for _, c := range r.convs {
		if c.ChatbotId == chatbotID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) Touch(ctx context.Context, id string) error { return nil }

func (r *fakeConvRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, id)
	return nil
}

func (r *fakeConvRepo) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.convs {
		if c.ChatbotId == chatbotID {
			delete(r.convs, id)
		}
	}
	return nil
}

type fakeMsgRepo struct {
	msgs map[string][]entity.Message
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{msgs: make(map[string][]entity.Message)}
}

func (r *fakeMsgRepo) Create(ctx context.Context, msg *entity.Message) error {
	r.msgs[msg.ConversationId] = append(r.msgs[msg.ConversationId], *msg)
	return nil
}

func (r *fakeMsgRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]entity.Message, error) {
	all := r.msgs[conversationID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *fakeMsgRepo) ListAll(ctx context.Context, conversationID string) ([]entity.Message, error) {
	return r.msgs[conversationID], nil
}

// stubBotSvc 只认一个拥有者和一组机器人
type stubBotSvc struct {
	owner string
	bots  map[string]*kbEntity.Chatbot
}

func (s *stubBotSvc) Create(ctx context.Context, ownerID string, req kbRequest.CreateChatbotRequest) (*kbRespond.ChatbotInfo, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBotSvc) Get(ctx context.Context, ownerID, chatbotID string) (*kbRespond.ChatbotInfo, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBotSvc) List(ctx context.Context, ownerID string) ([]kbRespond.ChatbotInfo, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBotSvc) Update(ctx context.Context, ownerID, chatbotID string, req kbRequest.UpdateChatbotRequest) (*kbRespond.ChatbotInfo, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBotSvc) Delete(ctx context.Context, ownerID, chatbotID string) error {
	return errors.New("not implemented")
}
func (s *stubBotSvc) OwnedBot(ctx context.Context, ownerID, chatbotID string) (*kbEntity.Chatbot, error) {
	bot, ok := s.bots[chatbotID]
	if !ok || ownerID != s.owner {
		return nil, xerr.ErrChatbotNotFound
	}
	return bot, nil
}
func (s *stubBotSvc) PublicBot(ctx context.Context, chatbotID string) (*kbEntity.Chatbot, error) {
	bot, ok := s.bots[chatbotID]
	if !ok {
		return nil, xerr.ErrChatbotNotFound
	}
	return bot, nil
}
func (s *stubBotSvc) BindConversationCleaner(convs kbService.ConversationCleaner) {}

func newTestConvService() (ConversationService, *fakeConvRepo, *fakeMsgRepo) {
	convRepo := newFakeConvRepo()
	msgRepo := newFakeMsgRepo()
	botSvc := &stubBotSvc{
		owner: "owner-1",
		bots:  map[string]*kbEntity.Chatbot{"bot-1": {Id: "bot-1", OwnerId: "owner-1"}},
	}
	return NewConversationService(convRepo, msgRepo, botSvc), convRepo, msgRepo
}

func TestEnsureOwnedLazyCreate(t *testing.T) {
	svc, _, _ := newTestConvService()
	conv, err := svc.EnsureOwned(context.Background(), "bot-1", "")
	if err != nil {
		t.Fatalf("懒创建失败: %v", err)
	}
	if conv.Id == "" || conv.ChatbotId != "bot-1" || conv.Source != entity.SourceDashboard {
		t.Fatalf("新会话字段不对: %+v", conv)
	}

	again, err := svc.EnsureOwned(context.Background(), "bot-1", conv.Id)
	if err != nil {
		t.Fatalf("按 ID 续接失败: %v", err)
	}
	if again.Id != conv.Id {
		t.Fatalf("应续接同一会话")
	}
}

func TestEnsureOwnedWrongChatbot(t *testing.T) {
	svc, convRepo, _ := newTestConvService()
	_ = convRepo.Create(context.Background(), &entity.Conversation{Id: "conv-x", ChatbotId: "bot-other"})

	_, err := svc.EnsureOwned(context.Background(), "bot-1", "conv-x")
	if !errors.Is(err, xerr.ErrConversationNotFound) {
		t.Fatalf("别的机器人的会话应按不存在处理，得到 %v", err)
	}
	_, err = svc.EnsureOwned(context.Background(), "bot-1", "no-such")
	if !errors.Is(err, xerr.ErrConversationNotFound) {
		t.Fatalf("未知会话应按不存在处理，得到 %v", err)
	}
}

func TestEnsureBySessionKeyContinues(t *testing.T) {
	svc, _, _ := newTestConvService()
	first, err := svc.EnsureBySessionKey(context.Background(), "bot-1", "visitor-42", entity.SourceWidget)
	if err != nil {
		t.Fatalf("按 session_key 创建失败: %v", err)
	}
	second, err := svc.EnsureBySessionKey(context.Background(), "bot-1", "visitor-42", entity.SourceWidget)
	if err != nil {
		t.Fatalf("按 session_key 续接失败: %v", err)
	}
	if first.Id != second.Id {
		t.Fatalf("同 session_key 应续接同一会话: %s vs %s", first.Id, second.Id)
	}

	other, err := svc.EnsureBySessionKey(context.Background(), "bot-1", "visitor-43", entity.SourceWidget)
	if err != nil {
		t.Fatalf("新 session_key 创建失败: %v", err)
	}
	if other.Id == first.Id {
		t.Fatalf("不同 session_key 不应复用会话")
	}
}

func TestEnsureBySessionKeyEmpty(t *testing.T) {
	svc, _, _ := newTestConvService()
	if _, err := svc.EnsureBySessionKey(context.Background(), "bot-1", "  ", entity.SourceWidget); err == nil {
		t.Fatalf("空 session_key 应被拒绝")
	}
}

func TestEnsureBySessionKeyConcurrent(t *testing.T) {
	svc, convRepo, _ := newTestConvService()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.EnsureBySessionKey(context.Background(), "bot-1", "racer", entity.SourceWidget)
		}()
	}
	wg.Wait()
	convs, _ := convRepo.ListByChatbot(context.Background(), "bot-1", 100, 0)
	if len(convs) != 1 {
		t.Fatalf("并发首条消息只应创建一个会话，得到 %d", len(convs))
	}
}

func TestHistoryOwnershipChain(t *testing.T) {
	svc, convRepo, msgRepo := newTestConvService()
	_ = convRepo.Create(context.Background(), &entity.Conversation{Id: "conv-1", ChatbotId: "bot-1"})
	_ = msgRepo.Create(context.Background(), &entity.Message{ConversationId: "conv-1", Role: entity.RoleUser, Content: "hi"})
	_ = msgRepo.Create(context.Background(), &entity.Message{ConversationId: "conv-1", Role: entity.RoleAssistant, Content: "hello", SourcesJson: `[{"source_type":"document","source_key":"doc-1","score":0.9,"content":"snippet"}]`})

	msgs, err := svc.History(context.Background(), "owner-1", "conv-1")
	if err != nil {
		t.Fatalf("拉取历史失败: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("期望 2 条消息，得到 %d", len(msgs))
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].SourceKey != "doc-1" {
		t.Fatalf("引用应被反序列化: %+v", msgs[1].Sources)
	}

	// 非拥有者看不到历史
	if _, err := svc.History(context.Background(), "intruder", "conv-1"); !errors.Is(err, xerr.ErrConversationNotFound) {
		t.Fatalf("非拥有者应拿到会话不存在，得到 %v", err)
	}
}

func TestDeleteByChatbotCascade(t *testing.T) {
	svc, convRepo, _ := newTestConvService()
	_ = convRepo.Create(context.Background(), &entity.Conversation{Id: "c1", ChatbotId: "bot-1"})
	_ = convRepo.Create(context.Background(), &entity.Conversation{Id: "c2", ChatbotId: "bot-1"})
	_ = convRepo.Create(context.Background(), &entity.Conversation{Id: "c3", ChatbotId: "bot-2"})

	if err := svc.DeleteByChatbot(context.Background(), "bot-1"); err != nil {
		t.Fatalf("级联删除失败: %v", err)
	}
	if convs, _ := convRepo.ListByChatbot(context.Background(), "bot-1", 100, 0); len(convs) != 0 {
		t.Fatalf("bot-1 的会话应被清空")
	}
	if convs, _ := convRepo.ListByChatbot(context.Background(), "bot-2", 100, 0); len(convs) != 1 {
		t.Fatalf("bot-2 的会话不应受影响")
	}
}
