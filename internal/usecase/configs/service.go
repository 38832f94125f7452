package configs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
	"sublead/internal/usecase/entitlement"
	"sublead/internal/usecase/notify"
)

var (
	// ErrICPLimit возвращается при попытке создать профиль сверх лимита.
	// Текст показывается пользователю как есть.
	ErrICPLimit = fmt.Errorf("You can only create up to %d products per account. Please delete an existing product before creating a new one.", domain.MaxICPsPerUser)

	ErrNameRequired        = errors.New("product name is required")
	ErrDescriptionRequired = errors.New("product description is required")
	ErrWebsiteInvalid      = errors.New("website must be a valid URL")
)

// Input — параметры создания и обновления профиля.
type Input struct {
	Name        string
	Website     string
	Description string
	PainPoints  string
	Keywords    []string
	Subreddits  []string
}

// Service управляет профилями идеального клиента пользователя.
type Service struct {
	repo        domain.ICPRepo
	agent       domain.AgentGateway
	entitlement *entitlement.Service
	notifier    *notify.Service
	log         zerolog.Logger
}

// NewService создаёт сервис профилей.
func NewService(repo domain.ICPRepo, agent domain.AgentGateway, ent *entitlement.Service, notifier *notify.Service, log zerolog.Logger) *Service {
	return &Service{repo: repo, agent: agent, entitlement: ent, notifier: notifier, log: log}
}

func validate(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Website = strings.TrimSpace(in.Website)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return in, ErrNameRequired
	}
	if in.Description == "" {
		return in, ErrDescriptionRequired
	}
	u, err := url.Parse(in.Website)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return in, ErrWebsiteInvalid
	}
	// Массивы сохраняются в порядке ввода, без дедупликации.
	if in.Keywords == nil {
		in.Keywords = []string{}
	}
	if in.Subreddits == nil {
		in.Subreddits = []string{}
	}
	return in, nil
}

// Create создаёт профиль. Лимит лидов зависит от подписки, мониторинг
// включён сразу. Уведомление скрейпера не блокирует создание.
func (s *Service) Create(ctx context.Context, userID string, in Input) (domain.ICP, error) {
	in, err := validate(in)
	if err != nil {
		return domain.ICP{}, err
	}
	count, err := s.repo.CountUserICPs(ctx, userID)
	if err != nil {
		return domain.ICP{}, fmt.Errorf("подсчёт профилей: %w", err)
	}
	if count >= domain.MaxICPsPerUser {
		return domain.ICP{}, ErrICPLimit
	}
	sub := s.entitlement.CheckSubscription(ctx, userID)
	icp, err := s.repo.CreateICP(ctx, domain.ICP{
		UserID:  userID,
		Name:    in.Name,
		Website: in.Website,
		Data: domain.ICPData{
			Keywords:    in.Keywords,
			Subreddits:  in.Subreddits,
			PainPoints:  in.PainPoints,
			Description: in.Description,
		},
		MonitoringEnabled: true,
		LeadLimit:         domain.ICPLeadLimitFor(sub.IsSubscribed),
	})
	if err != nil {
		return domain.ICP{}, fmt.Errorf("создание профиля: %w", err)
	}
	metrics.ConfigMutations.WithLabelValues("create").Inc()
	s.notifyChange(ctx, userID, icp.ID, domain.ConfigActionCreate)
	return icp, nil
}

// Update обновляет профиль. Чужой или отсутствующий профиль выглядит
// одинаково — domain.ErrNotFound.
func (s *Service) Update(ctx context.Context, userID string, id int64, in Input) (domain.ICP, error) {
	in, err := validate(in)
	if err != nil {
		return domain.ICP{}, err
	}
	icp, err := s.repo.UpdateICP(ctx, domain.ICP{
		ID:      id,
		UserID:  userID,
		Name:    in.Name,
		Website: in.Website,
		Data: domain.ICPData{
			Keywords:    in.Keywords,
			Subreddits:  in.Subreddits,
			PainPoints:  in.PainPoints,
			Description: in.Description,
		},
	})
	if err != nil {
		return domain.ICP{}, fmt.Errorf("обновление профиля: %w", err)
	}
	metrics.ConfigMutations.WithLabelValues("update").Inc()
	s.notifyChange(ctx, userID, icp.ID, domain.ConfigActionUpdate)
	return icp, nil
}

// Delete удаляет профиль вместе с лидами в одной транзакции.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	if err := s.repo.DeleteICP(ctx, userID, id); err != nil {
		return fmt.Errorf("удаление профиля: %w", err)
	}
	metrics.ConfigMutations.WithLabelValues("delete").Inc()
	s.notifyChange(ctx, userID, id, domain.ConfigActionDelete)
	return nil
}

// Get возвращает профиль пользователя.
func (s *Service) Get(ctx context.Context, userID string, id int64) (domain.ICP, error) {
	return s.repo.GetICP(ctx, userID, id)
}

// List возвращает профили пользователя.
func (s *Service) List(ctx context.Context, userID string) ([]domain.ICP, error) {
	return s.repo.ListUserICPs(ctx, userID)
}

// DisableMonitoring останавливает мониторинг всех профилей пользователя.
func (s *Service) DisableMonitoring(ctx context.Context, userID string) error {
	changed, err := s.repo.SetMonitoringForUser(ctx, userID, false)
	if err != nil {
		return fmt.Errorf("остановка мониторинга: %w", err)
	}
	if len(changed) == 0 {
		return nil
	}
	metrics.MonitoringTransitions.WithLabelValues("disabled").Inc()
	for _, icp := range changed {
		s.notifyChange(ctx, userID, icp.ID, domain.ConfigActionUpdate)
	}
	return nil
}

// Seed запускает первичный набор лидов для профиля через агент-сервис
// и помечает профиль засеянным.
func (s *Service) Seed(ctx context.Context, userID string, id int64) error {
	icp, err := s.repo.GetICP(ctx, userID, id)
	if err != nil {
		return err
	}
	if icp.Seeded {
		return nil
	}
	if err := s.agent.TriggerInitialSeeding(ctx, icp.ID); err != nil {
		return fmt.Errorf("запуск первичного набора: %w", err)
	}
	if err := s.repo.MarkSeeded(ctx, icp.ID); err != nil {
		return fmt.Errorf("отметка засева: %w", err)
	}
	return nil
}

func (s *Service) notifyChange(ctx context.Context, userID string, icpID int64, action domain.ConfigChangeAction) {
	if err := s.notifier.ConfigChanged(ctx, userID, icpID, action); err != nil {
		s.log.Warn().Err(err).Int64("icp_id", icpID).Msg("configs: уведомление скрейпера не доставлено")
	}
}
