package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	kbRequest "ChatBase/internal/modules/kb/application/dto/request"
	kbRespond "ChatBase/internal/modules/kb/application/dto/respond"
	"ChatBase/internal/modules/kb/domain/entity"
	kbRepo "ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/gsheets"
	"ChatBase/internal/modules/kb/infrastructure/parser"
	"ChatBase/internal/modules/kb/infrastructure/pipeline"
	"ChatBase/pkg/redis"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sheetSyncLockTTL = 5 * time.Minute

type SheetService interface {
	Add(ctx context.Context, ownerID, chatbotID string, req kbRequest.AddSheetRequest) (*kbRespond.SheetInfo, error)
	List(ctx context.Context, ownerID, chatbotID string) ([]kbRespond.SheetInfo, error)
	// Sync 手动触发，受最小间隔限制
	Sync(ctx context.Context, ownerID, chatbotID, sheetID string) (*kbRespond.SyncResult, error)
	Delete(ctx context.Context, ownerID, chatbotID, sheetID string) error

	// SyncByID 调度器入口，不做归属校验和间隔限制
	SyncByID(ctx context.Context, sheetID string) (*kbRespond.SyncResult, error)
}

type SheetServiceOptions struct {
	DefaultIntervalMinutes int
	MinIntervalMinutes     int
	FetchTimeoutSeconds    int
}

type sheetService struct {
	botSvc    ChatbotService
	botRepo   kbRepo.ChatbotRepository
	sheetRepo kbRepo.SheetRepository
	chunkRepo kbRepo.ChunkRepository
	vs        kbRepo.VectorStore
	fetcher   *gsheets.Fetcher
	pipe      *pipeline.IngestPipeline
	notifier  StatusNotifier
	opts      SheetServiceOptions

	// redis 不可用时退化为进程内锁
	localMu    sync.Mutex
	localLocks map[string]struct{}
}

func NewSheetService(botSvc ChatbotService, botRepo kbRepo.ChatbotRepository, sheetRepo kbRepo.SheetRepository, chunkRepo kbRepo.ChunkRepository, vs kbRepo.VectorStore, fetcher *gsheets.Fetcher, pipe *pipeline.IngestPipeline, notifier StatusNotifier, opts SheetServiceOptions) SheetService {
	if opts.DefaultIntervalMinutes <= 0 {
		opts.DefaultIntervalMinutes = 60
	}
	if opts.MinIntervalMinutes <= 0 {
		opts.MinIntervalMinutes = 5
	}
	if opts.FetchTimeoutSeconds <= 0 {
		opts.FetchTimeoutSeconds = 30
	}
	return &sheetService{
		botSvc:     botSvc,
		botRepo:    botRepo,
		sheetRepo:  sheetRepo,
		chunkRepo:  chunkRepo,
		vs:         vs,
		fetcher:    fetcher,
		pipe:       pipe,
		notifier:   notifier,
		opts:       opts,
		localLocks: make(map[string]struct{}),
	}
}

func (s *sheetService) Add(ctx context.Context, ownerID, chatbotID string, req kbRequest.AddSheetRequest) (*kbRespond.SheetInfo, error) {
	bot, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID)
	if err != nil {
		return nil, err
	}
	sheetID, _, err := gsheets.ParseSheetURL(req.SheetURL)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.SheetName)
	if name == "" {
		name = sheetID
	}
	interval := req.SyncIntervalMinutes
	if interval <= 0 {
		interval = s.opts.DefaultIntervalMinutes
	}
	if interval < s.opts.MinIntervalMinutes {
		interval = s.opts.MinIntervalMinutes
	}

	now := time.Now()
	sheet := &entity.GoogleSheet{
		Id:                  uuid.NewString(),
		ChatbotId:           bot.Id,
		SheetUrl:            strings.TrimSpace(req.SheetURL),
		SheetName:           name,
		AccessMode:          entity.SheetAccessPublic,
		Status:              entity.SheetStatusPending,
		SyncIntervalMinutes: interval,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.sheetRepo.Create(ctx, sheet); err != nil {
		return nil, err
	}

	// 首次同步失败不回滚绑定，表格保留 error 状态等下一轮
	if _, err := s.syncSheet(ctx, sheet); err != nil {
		zlog.Warn("initial sheet sync failed", zap.String("sheetId", sheet.Id), zap.Error(err))
	}

	fresh, _ := s.sheetRepo.GetByID(ctx, sheet.Id)
	if fresh != nil {
		sheet = fresh
	}
	info := toSheetInfo(sheet)
	return &info, nil
}

func (s *sheetService) List(ctx context.Context, ownerID, chatbotID string) ([]kbRespond.SheetInfo, error) {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return nil, err
	}
	sheets, err := s.sheetRepo.ListByChatbot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	out := make([]kbRespond.SheetInfo, 0, len(sheets))
	for i := range sheets {
		out = append(out, toSheetInfo(&sheets[i]))
	}
	return out, nil
}

func (s *sheetService) Sync(ctx context.Context, ownerID, chatbotID, sheetID string) (*kbRespond.SyncResult, error) {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return nil, err
	}
	sheet, err := s.ownedSheet(ctx, chatbotID, sheetID)
	if err != nil {
		return nil, err
	}
	if sheet.LastSyncedAt.Valid {
		minGap := time.Duration(s.opts.MinIntervalMinutes) * time.Minute
		if since := time.Since(sheet.LastSyncedAt.Time); since < minGap {
			return nil, xerr.New(xerr.TooManyRequests, "同步过于频繁，请稍后再试")
		}
	}
	return s.syncSheet(ctx, sheet)
}

func (s *sheetService) SyncByID(ctx context.Context, sheetID string) (*kbRespond.SyncResult, error) {
	sheet, err := s.sheetRepo.GetByID(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return nil, xerr.New(xerr.NotFound, "表格不存在")
	}
	return s.syncSheet(ctx, sheet)
}

func (s *sheetService) Delete(ctx context.Context, ownerID, chatbotID, sheetID string) error {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return err
	}
	sheet, err := s.ownedSheet(ctx, chatbotID, sheetID)
	if err != nil {
		return err
	}
	if err := s.vs.DeleteBySource(ctx, chatbotID, entity.SourceTypeSheet, sheet.Id, 0); err != nil {
		return err
	}
	if err := s.chunkRepo.DeleteBySource(ctx, chatbotID, entity.SourceTypeSheet, sheet.Id); err != nil {
		return err
	}
	return s.sheetRepo.Delete(ctx, sheet.Id)
}

// syncSheet 拉取、对比哈希、必要时重嵌入。
// 新代次完全写入后才删旧代次，同步期间检索始终有完整数据可命中。
func (s *sheetService) syncSheet(ctx context.Context, sheet *entity.GoogleSheet) (*kbRespond.SyncResult, error) {
	if !s.tryLock(ctx, sheet.Id) {
		return nil, xerr.New(xerr.TooManyRequests, "该表格正在同步中")
	}
	defer s.unlock(ctx, sheet.Id)

	start := time.Now()
	res := &kbRespond.SyncResult{SheetId: sheet.Id, Version: sheet.Version}

	sheetKey, gid, err := gsheets.ParseSheetURL(sheet.SheetUrl)
	if err != nil {
		s.markSheetError(ctx, sheet, err)
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(s.opts.FetchTimeoutSeconds)*time.Second)
	rows, err := s.fetcher.FetchRows(fetchCtx, sheetKey, gid)
	cancel()
	if err != nil {
		s.markSheetError(ctx, sheet, err)
		return nil, err
	}

	blocks := parser.FormatSheetRows(rows)
	if len(blocks) == 0 {
		err := errors.New("表格没有可用内容")
		s.markSheetError(ctx, sheet, err)
		return nil, err
	}

	sum := sha256.Sum256([]byte(strings.Join(blocks, "\n")))
	hash := hex.EncodeToString(sum[:])
	now := time.Now()

	if hash == sheet.LastDataHash && sheet.Status == entity.SheetStatusSynced {
		sheet.LastSyncedAt = sql.NullTime{Time: now, Valid: true}
		sheet.UpdatedAt = now
		if err := s.sheetRepo.Update(ctx, sheet); err != nil {
			return nil, err
		}
		res.Changed = false
		res.DurationMs = time.Since(start).Milliseconds()
		return res, nil
	}

	newVersion := sheet.Version + 1
	ingestRes, err := s.pipe.Ingest(ctx, pipeline.IngestRequest{
		ChatbotID:  sheet.ChatbotId,
		SourceType: entity.SourceTypeSheet,
		SourceKey:  sheet.Id,
		Version:    newVersion,
		Blocks:     blocks,
	})
	if err != nil {
		s.markSheetError(ctx, sheet, err)
		return nil, err
	}

	// 新代次已可检索，清理旧代次
	if err := s.vs.DeleteBySource(ctx, sheet.ChatbotId, entity.SourceTypeSheet, sheet.Id, newVersion); err != nil {
		zlog.Error("cleanup old sheet vectors failed", zap.String("sheetId", sheet.Id), zap.Error(err))
	}
	if err := s.chunkRepo.DeleteBySourceBelowVersion(ctx, sheet.ChatbotId, entity.SourceTypeSheet, sheet.Id, newVersion); err != nil {
		zlog.Error("cleanup old sheet chunks failed", zap.String("sheetId", sheet.Id), zap.Error(err))
	}

	sheet.Status = entity.SheetStatusSynced
	sheet.FailReason = ""
	sheet.LastDataHash = hash
	sheet.LastSyncedAt = sql.NullTime{Time: now, Valid: true}
	sheet.Version = newVersion
	sheet.UpdatedAt = now
	if err := s.sheetRepo.Update(ctx, sheet); err != nil {
		return nil, err
	}
	s.promoteBot(ctx, sheet.ChatbotId)

	res.Changed = true
	res.Chunks = ingestRes.Chunks
	res.Version = newVersion
	res.DurationMs = time.Since(start).Milliseconds()
	s.notifyStatus(ctx, sheet, true)
	zlog.Info("sheet synced",
		zap.String("sheetId", sheet.Id),
		zap.String("chatbotId", sheet.ChatbotId),
		zap.Int64("version", newVersion),
		zap.Int("chunks", res.Chunks),
		zap.Int64("durationMs", res.DurationMs))
	return res, nil
}

func (s *sheetService) markSheetError(ctx context.Context, sheet *entity.GoogleSheet, cause error) {
	sheet.Status = entity.SheetStatusError
	sheet.FailReason = truncateReason(cause.Error())
	sheet.UpdatedAt = time.Now()
	if err := s.sheetRepo.Update(ctx, sheet); err != nil {
		zlog.Error("mark sheet error failed", zap.String("sheetId", sheet.Id), zap.Error(err))
	}
	s.notifyStatus(ctx, sheet, false)
}

func (s *sheetService) notifyStatus(ctx context.Context, sheet *entity.GoogleSheet, changed bool) {
	if s.notifier == nil {
		return
	}
	bot, err := s.botRepo.GetByID(ctx, sheet.ChatbotId)
	if err != nil || bot == nil {
		return
	}
	s.notifier.NotifyOwner(bot.OwnerId, SheetStatusEvent{
		Type:      "sheet_status",
		SheetID:   sheet.Id,
		ChatbotID: sheet.ChatbotId,
		Status:    sheet.Status,
		Changed:   changed,
		Version:   sheet.Version,
	})
}

func (s *sheetService) promoteBot(ctx context.Context, chatbotID string) {
	bot, err := s.botRepo.GetByID(ctx, chatbotID)
	if err != nil || bot == nil || bot.Status != entity.ChatbotStatusDraft {
		return
	}
	if err := s.botRepo.UpdateStatus(ctx, chatbotID, entity.ChatbotStatusReady); err != nil {
		zlog.Warn("promote chatbot failed", zap.String("chatbotId", chatbotID), zap.Error(err))
	}
}

func (s *sheetService) ownedSheet(ctx context.Context, chatbotID, sheetID string) (*entity.GoogleSheet, error) {
	sheet, err := s.sheetRepo.GetByID(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if sheet == nil || sheet.ChatbotId != chatbotID {
		return nil, xerr.New(xerr.NotFound, "表格不存在")
	}
	return sheet, nil
}

func (s *sheetService) tryLock(ctx context.Context, sheetID string) bool {
	if redis.IsConnected() {
		ok, err := redis.SetNX(ctx, "kb:sheet_sync:"+sheetID, 1, sheetSyncLockTTL)
		if err == nil {
			return ok
		}
		zlog.Warn("sheet sync lock via redis failed", zap.String("sheetId", sheetID), zap.Error(err))
	}
	s.localMu.Lock()
	defer s.localMu.Unlock()
	if _, held := s.localLocks[sheetID]; held {
		return false
	}
	s.localLocks[sheetID] = struct{}{}
	return true
}

func (s *sheetService) unlock(ctx context.Context, sheetID string) {
	if redis.IsConnected() {
		_, _ = redis.Del(ctx, "kb:sheet_sync:"+sheetID)
	}
	s.localMu.Lock()
	delete(s.localLocks, sheetID)
	s.localMu.Unlock()
}

func truncateReason(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}

func toSheetInfo(sheet *entity.GoogleSheet) kbRespond.SheetInfo {
	info := kbRespond.SheetInfo{
		Id:                  sheet.Id,
		ChatbotId:           sheet.ChatbotId,
		SheetUrl:            sheet.SheetUrl,
		SheetName:           sheet.SheetName,
		Status:              sheet.Status,
		FailReason:          sheet.FailReason,
		SyncIntervalMinutes: sheet.SyncIntervalMinutes,
		CreatedAt:           sheet.CreatedAt,
	}
	if sheet.LastSyncedAt.Valid {
		info.LastSyncedAt = sheet.LastSyncedAt.Time.Format(time.RFC3339)
	}
	return info
}
