package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"ChatBase/internal/modules/chat/application/dto/request"
	"ChatBase/internal/modules/chat/application/dto/respond"
	"ChatBase/internal/modules/chat/domain/entity"
	chatRepo "ChatBase/internal/modules/chat/domain/repository"
	kbService "ChatBase/internal/modules/kb/application/service"
	"ChatBase/pkg/xerr"

	"github.com/google/uuid"
)

// IntegrationService 外部渠道绑定（whatsapp / telegram）
type IntegrationService interface {
	Upsert(ctx context.Context, ownerID, chatbotID string, req request.UpsertIntegrationRequest) (*respond.IntegrationInfo, error)
	List(ctx context.Context, ownerID, chatbotID string) ([]respond.IntegrationInfo, error)
	Delete(ctx context.Context, ownerID, chatbotID, platform string) error

	// GetActive webhook 入口查询已启用的绑定，未绑定或停用返回 nil
	GetActive(ctx context.Context, chatbotID, platform string) (*entity.Integration, error)
}

type integrationService struct {
	integRepo chatRepo.IntegrationRepository
	botSvc    kbService.ChatbotService
}

func NewIntegrationService(integRepo chatRepo.IntegrationRepository, botSvc kbService.ChatbotService) IntegrationService {
	return &integrationService{integRepo: integRepo, botSvc: botSvc}
}

func (s *integrationService) Upsert(ctx context.Context, ownerID, chatbotID string, req request.UpsertIntegrationRequest) (*respond.IntegrationInfo, error) {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return nil, err
	}

	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if platform != entity.SourceWhatsapp && platform != entity.SourceTelegram {
		return nil, xerr.New(xerr.BadRequest, "不支持的渠道平台")
	}

	configJSON := strings.TrimSpace(req.ConfigJson)
	if configJSON == "" {
		configJSON = "{}"
	}
	if !json.Valid([]byte(configJSON)) {
		return nil, xerr.New(xerr.BadRequest, "config_json 不是合法的 JSON")
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := time.Now()
	integ := &entity.Integration{
		Id:         uuid.NewString(),
		ChatbotId:  chatbotID,
		Platform:   platform,
		ConfigJson: configJSON,
		IsActive:   isActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, err := s.integRepo.GetByPlatform(ctx, chatbotID, platform); err != nil {
		return nil, err
	} else if existing != nil {
		integ.Id = existing.Id
		integ.CreatedAt = existing.CreatedAt
	}
	if err := s.integRepo.Upsert(ctx, integ); err != nil {
		return nil, err
	}
	return toIntegrationInfo(integ), nil
}

func (s *integrationService) List(ctx context.Context, ownerID, chatbotID string) ([]respond.IntegrationInfo, error) {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return nil, err
	}
	integs, err := s.integRepo.ListByChatbot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	infos := make([]respond.IntegrationInfo, 0, len(integs))
	for i := range integs {
		infos = append(infos, *toIntegrationInfo(&integs[i]))
	}
	return infos, nil
}

func (s *integrationService) Delete(ctx context.Context, ownerID, chatbotID, platform string) error {
	if _, err := s.botSvc.OwnedBot(ctx, ownerID, chatbotID); err != nil {
		return err
	}
	integ, err := s.integRepo.GetByPlatform(ctx, chatbotID, strings.ToLower(strings.TrimSpace(platform)))
	if err != nil {
		return err
	}
	if integ == nil {
		return xerr.New(xerr.NotFound, "渠道绑定不存在")
	}
	return s.integRepo.Delete(ctx, integ.Id)
}

func (s *integrationService) GetActive(ctx context.Context, chatbotID, platform string) (*entity.Integration, error) {
	integ, err := s.integRepo.GetByPlatform(ctx, chatbotID, platform)
	if err != nil {
		return nil, err
	}
	if integ == nil || !integ.IsActive {
		return nil, nil
	}
	return integ, nil
}

func toIntegrationInfo(integ *entity.Integration) *respond.IntegrationInfo {
	return &respond.IntegrationInfo{
		Id:        integ.Id,
		ChatbotId: integ.ChatbotId,
		Platform:  integ.Platform,
		IsActive:  integ.IsActive,
		CreatedAt: integ.CreatedAt,
	}
}
