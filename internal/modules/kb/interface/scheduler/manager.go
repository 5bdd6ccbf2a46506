package scheduler

import (
	"context"
	"fmt"
	"time"

	"ChatBase/internal/modules/kb/application/service"
	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const syncBatchSize = 10

// SheetSyncManager 周期性拉取到期的公开表格并触发同步。
// 并发安全由 SheetService 内部的同步锁保证，这里只管调度。
type SheetSyncManager struct {
	cron      *cron.Cron
	sheetRepo repository.SheetRepository
	sheetSvc  service.SheetService
}

func NewSheetSyncManager(repo repository.SheetRepository, svc service.SheetService, pollMinutes int) *SheetSyncManager {
	if pollMinutes <= 0 {
		pollMinutes = 1
	}
	m := &SheetSyncManager{
		cron:      cron.New(),
		sheetRepo: repo,
		sheetSvc:  svc,
	}
	_, _ = m.cron.AddFunc(fmt.Sprintf("@every %dm", pollMinutes), m.pollAndSync)
	return m
}

func (m *SheetSyncManager) Start() {
	m.cron.Start()
	zlog.Info("Sheet Sync Scheduler started")
}

func (m *SheetSyncManager) Stop() {
	m.cron.Stop()
}

func (m *SheetSyncManager) pollAndSync() {
	listCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	sheets, err := m.sheetRepo.ListDueForSync(listCtx, syncBatchSize)
	cancel()
	if err != nil {
		zlog.Error("list due sheets failed", zap.Error(err))
		return
	}
	for i := range sheets {
		sheet := sheets[i]
		// 每个同步自己挂超时，不能共用本轮的 context，
		// pollAndSync 返回后它们还在跑
		go func() {
			defer func() {
				if r := recover(); r != nil {
					zlog.Error("sheet sync panic", zap.String("sheetId", sheet.Id), zap.Any("panic", r))
				}
			}()
			syncCtx, syncCancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer syncCancel()
			if _, err := m.sheetSvc.SyncByID(syncCtx, sheet.Id); err != nil {
				zlog.Warn("scheduled sheet sync failed", zap.String("sheetId", sheet.Id), zap.Error(err))
			}
		}()
	}
}
