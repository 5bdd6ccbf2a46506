package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kbRespond "ChatBase/internal/modules/kb/application/dto/respond"
	"ChatBase/internal/modules/kb/domain/entity"
	kbRepo "ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/parser"
	"ChatBase/internal/modules/kb/infrastructure/pipeline"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	IngestModeSync  = "sync"
	IngestModeKafka = "kafka"

	EventTypeDocumentIngest = "document_ingest"
)

// DocumentIngestPayload 发件箱事件负载
type DocumentIngestPayload struct {
	DocumentID string `json:"document_id"`
	ChatbotID  string `json:"chatbot_id"`
	FilePath   string `json:"file_path"`
}

type DocumentService interface {
	Upload(ctx context.Context, ownerID, chatbotID, filename string, data []byte) (*kbRespond.UploadResult, error)
	Get(ctx context.Context, ownerID, chatbotID, documentID string) (*kbRespond.DocumentInfo, error)
	List(ctx context.Context, ownerID, chatbotID string) ([]kbRespond.DocumentInfo, error)
	Delete(ctx context.Context, ownerID, chatbotID, documentID string) error

	// ProcessByID 消费端入口，按文档 ID 跑完整摄取
	ProcessByID(ctx context.Context, documentID string) error
}

type DocumentServiceOptions struct {
	Mode           string
	TimeoutSeconds int
	MaxFileSizeMB  int
	UploadDir      string
}

type documentService struct {
	botSvc    ChatbotService
	botRepo   kbRepo.ChatbotRepository
	docRepo   kbRepo.DocumentRepository
	chunkRepo kbRepo.ChunkRepository
	eventRepo kbRepo.IngestEventRepository
	vs        kbRepo.VectorStore
	pipe      *pipeline.IngestPipeline
	notifier  StatusNotifier
	opts      DocumentServiceOptions
}

func NewDocumentService(botSvc ChatbotService, botRepo kbRepo.ChatbotRepository, docRepo kbRepo.DocumentRepository, chunkRepo kbRepo.ChunkRepository, eventRepo kbRepo.IngestEventRepository, vs kbRepo.VectorStore, pipe *pipeline.IngestPipeline, notifier StatusNotifier, opts DocumentServiceOptions) DocumentService {
	if opts.Mode == "" {
		opts.Mode = IngestModeSync
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 120
	}
	if opts.MaxFileSizeMB <= 0 {
		opts.MaxFileSizeMB = 20
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	return &documentService{botSvc: botSvc, botRepo: botRepo, docRepo: docRepo, chunkRepo: chunkRepo, eventRepo: eventRepo, vs: vs, pipe: pipe, notifier: notifier, opts: opts}
}

func (s *documentService) Upload(ctx context.Context, ownerID, chatbotID, filename string, data []byte) (*kbRespond.UploadResult, error) {
	bot, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, xerr.New(xerr.BadRequest, "文件内容为空")
	}
	if len(data) > s.opts.MaxFileSizeMB<<20 {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("文件超过 %dMB 上限", s.opts.MaxFileSizeMB))
	}
	fileType := parser.FileTypeFromName(filename)
	if !parser.IsSupportedType(fileType) {
		return nil, fmt.Errorf("不支持的文件类型 %q: %w", fileType, xerr.ErrUnsupportedFormat)
	}

	now := time.Now()
	doc := &entity.Document{
		Id:        uuid.NewString(),
		ChatbotId: bot.Id,
		Filename:  filepath.Base(filename),
		FileType:  fileType,
		FileSize:  int64(len(data)),
		Status:    entity.DocStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	path, err := s.saveBlob(doc.Id, fileType, data)
	if err != nil {
		return nil, err
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	if s.opts.Mode == IngestModeKafka && s.eventRepo != nil {
		payload, _ := json.Marshal(DocumentIngestPayload{DocumentID: doc.Id, ChatbotID: bot.Id, FilePath: path})
		ev := &entity.IngestEvent{
			EventType:     EventTypeDocumentIngest,
			ChatbotId:     bot.Id,
			PayloadJson:   string(payload),
			DedupKey:      "doc_" + doc.Id,
			PublishStatus: kbRepo.PublishStatusPending,
			Status:        kbRepo.EventStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.eventRepo.Create(ctx, ev); err != nil {
			return nil, err
		}
		return &kbRespond.UploadResult{DocumentId: doc.Id, Status: entity.DocStatusPending}, nil
	}

	start := time.Now()
	if err := s.process(ctx, doc, data); err != nil {
		return nil, err
	}
	fresh, _ := s.docRepo.GetByID(ctx, doc.Id)
	res := &kbRespond.UploadResult{DocumentId: doc.Id, Status: entity.DocStatusReady, DurationMs: time.Since(start).Milliseconds()}
	if fresh != nil {
		res.Status = fresh.Status
		res.ChunkCount = fresh.ChunkCount
	}
	return res, nil
}

func (s *documentService) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("文档 %s 不存在", documentID)
	}
	if doc.Status == entity.DocStatusReady {
		return nil
	}
	data, err := os.ReadFile(s.blobPath(doc.Id, doc.FileType))
	if err != nil {
		_, _ = s.docRepo.UpdateStatus(ctx, doc.Id, doc.Status, entity.DocStatusError, "原始文件不可读")
		return fmt.Errorf("读取原始文件失败: %w", err)
	}
	return s.process(ctx, doc, data)
}

// process 状态推进 pending -> processing -> ready|error。
// processing 抢占失败说明另一个 worker 在处理，直接放弃。
func (s *documentService) process(ctx context.Context, doc *entity.Document, data []byte) error {
	claimed, err := s.docRepo.UpdateStatus(ctx, doc.Id, entity.DocStatusPending, entity.DocStatusProcessing, "")
	if err != nil {
		return err
	}
	if !claimed {
		// error 状态允许重跑
		claimed, err = s.docRepo.UpdateStatus(ctx, doc.Id, entity.DocStatusError, entity.DocStatusProcessing, "")
		if err != nil {
			return err
		}
		if !claimed {
			zlog.Warn("document already claimed", zap.String("documentId", doc.Id))
			return nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.opts.TimeoutSeconds)*time.Second)
	defer cancel()

	res, err := s.pipe.Ingest(runCtx, pipeline.IngestRequest{
		ChatbotID:  doc.ChatbotId,
		SourceType: entity.SourceTypeDocument,
		SourceKey:  doc.Id,
		Version:    1,
		FileType:   doc.FileType,
		Data:       data,
	})
	if err != nil {
		reason := err.Error()
		var ce *xerr.CodeError
		if errors.As(err, &ce) {
			reason = ce.Message
		}
		if _, uErr := s.docRepo.UpdateStatus(ctx, doc.Id, entity.DocStatusProcessing, entity.DocStatusError, reason); uErr != nil {
			zlog.Error("mark document error failed", zap.String("documentId", doc.Id), zap.Error(uErr))
		}
		s.notifyStatus(ctx, doc, entity.DocStatusError, 0, reason)
		return err
	}

	if err := s.docRepo.SetChunkCount(ctx, doc.Id, res.Chunks); err != nil {
		return err
	}
	if _, err := s.docRepo.UpdateStatus(ctx, doc.Id, entity.DocStatusProcessing, entity.DocStatusReady, ""); err != nil {
		return err
	}
	s.promoteBot(ctx, doc.ChatbotId)
	s.notifyStatus(ctx, doc, entity.DocStatusReady, res.Chunks, "")
	return nil
}

func (s *documentService) notifyStatus(ctx context.Context, doc *entity.Document, status string, chunks int, reason string) {
	if s.notifier == nil {
		return
	}
	bot, err := s.botRepo.GetByID(ctx, doc.ChatbotId)
	if err != nil || bot == nil {
		return
	}
	s.notifier.NotifyOwner(bot.OwnerId, DocumentStatusEvent{
		Type:       "document_status",
		DocumentID: doc.Id,
		ChatbotID:  doc.ChatbotId,
		Status:     status,
		ChunkCount: chunks,
		FailReason: reason,
	})
}

// promoteBot 第一份资料就绪后机器人从 draft 变为 ready
func (s *documentService) promoteBot(ctx context.Context, chatbotID string) {
	bot, err := s.botRepo.GetByID(ctx, chatbotID)
	if err != nil || bot == nil || bot.Status != entity.ChatbotStatusDraft {
		return
	}
	if err := s.botRepo.UpdateStatus(ctx, chatbotID, entity.ChatbotStatusReady); err != nil {
		zlog.Warn("promote chatbot failed", zap.String("chatbotId", chatbotID), zap.Error(err))
	}
}

func (s *documentService) Get(ctx context.Context, ownerID, chatbotID, documentID string) (*kbRespond.DocumentInfo, error) {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return nil, err
	}
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.ChatbotId != chatbotID {
		return nil, xerr.New(xerr.NotFound, "文档不存在")
	}
	info := toDocumentInfo(doc)
	return &info, nil
}

func (s *documentService) List(ctx context.Context, ownerID, chatbotID string) ([]kbRespond.DocumentInfo, error) {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return nil, err
	}
	docs, err := s.docRepo.ListByChatbot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	out := make([]kbRespond.DocumentInfo, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentInfo(&docs[i]))
	}
	return out, nil
}

func (s *documentService) Delete(ctx context.Context, ownerID, chatbotID, documentID string) error {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return err
	}
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.ChatbotId != chatbotID {
		return xerr.New(xerr.NotFound, "文档不存在")
	}
	if err := s.vs.DeleteBySource(ctx, chatbotID, entity.SourceTypeDocument, documentID, 0); err != nil {
		return err
	}
	if err := s.chunkRepo.DeleteBySource(ctx, chatbotID, entity.SourceTypeDocument, documentID); err != nil {
		return err
	}
	if err := s.docRepo.Delete(ctx, documentID); err != nil {
		return err
	}
	_ = os.Remove(s.blobPath(documentID, doc.FileType))
	return nil
}

func (s *documentService) saveBlob(docID, fileType string, data []byte) (string, error) {
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("创建上传目录失败: %w", err)
	}
	path := s.blobPath(docID, fileType)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("文件落盘失败: %w", err)
	}
	return path, nil
}

func (s *documentService) blobPath(docID, fileType string) string {
	return filepath.Join(s.opts.UploadDir, docID+"."+fileType)
}

func toDocumentInfo(doc *entity.Document) kbRespond.DocumentInfo {
	info := kbRespond.DocumentInfo{
		Id:         doc.Id,
		ChatbotId:  doc.ChatbotId,
		Filename:   doc.Filename,
		FileType:   doc.FileType,
		FileSize:   doc.FileSize,
		Status:     doc.Status,
		FailReason: doc.FailReason,
		ChunkCount: doc.ChunkCount,
		CreatedAt:  doc.CreatedAt,
	}
	if doc.ReadyAt.Valid {
		info.ReadyAt = doc.ReadyAt.Time.Format(time.RFC3339)
	}
	return info
}
