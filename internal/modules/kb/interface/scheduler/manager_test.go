package scheduler

import (
	"context"
	"testing"
	"time"

	"ChatBase/internal/modules/kb/application/dto/request"
	"ChatBase/internal/modules/kb/application/dto/respond"
	"ChatBase/internal/modules/kb/domain/entity"
)

type stubSheetRepo struct {
	due []entity.GoogleSheet
}

func (r *stubSheetRepo) Create(ctx context.Context, sheet *entity.GoogleSheet) error { return nil }
func (r *stubSheetRepo) GetByID(ctx context.Context, id string) (*entity.GoogleSheet, error) {
	return nil, nil
}
func (r *stubSheetRepo) ListByChatbot(ctx context.Context, chatbotID string) ([]entity.GoogleSheet, error) {
	return nil, nil
}
func (r *stubSheetRepo) ListDueForSync(ctx context.Context, limit int) ([]entity.GoogleSheet, error) {
	return r.due, nil
}
func (r *stubSheetRepo) Update(ctx context.Context, sheet *entity.GoogleSheet) error { return nil }
func (r *stubSheetRepo) Delete(ctx context.Context, id string) error                 { return nil }

// recordingSheetService 记录 SyncByID 入口处拿到的 context 状态
type recordingSheetService struct {
	ctxErrs chan error
}

func (s *recordingSheetService) Add(ctx context.Context, ownerID, chatbotID string, req request.AddSheetRequest) (*respond.SheetInfo, error) {
	return nil, nil
}
func (s *recordingSheetService) List(ctx context.Context, ownerID, chatbotID string) ([]respond.SheetInfo, error) {
	return nil, nil
}
func (s *recordingSheetService) Sync(ctx context.Context, ownerID, chatbotID, sheetID string) (*respond.SyncResult, error) {
	return nil, nil
}
func (s *recordingSheetService) Delete(ctx context.Context, ownerID, chatbotID, sheetID string) error {
	return nil
}
func (s *recordingSheetService) SyncByID(ctx context.Context, sheetID string) (*respond.SyncResult, error) {
	s.ctxErrs <- ctx.Err()
	return &respond.SyncResult{SheetId: sheetID}, nil
}

func TestPollAndSyncRunsWithLiveContext(t *testing.T) {
	repo := &stubSheetRepo{due: []entity.GoogleSheet{{Id: "sheet-1"}, {Id: "sheet-2"}}}
	svc := &recordingSheetService{ctxErrs: make(chan error, len(repo.due))}
	m := NewSheetSyncManager(repo, svc, 1)

	m.pollAndSync()

	for range repo.due {
		select {
		case err := <-svc.ctxErrs:
			if err != nil {
				t.Fatalf("定时同步拿到的 context 已取消: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("定时同步没有被触发")
		}
	}
}
