package leads

import (
	"context"
	"errors"
	"fmt"

	"sublead/internal/domain"
	"sublead/internal/usecase/entitlement"
)

// ErrBadStatus возвращается при неизвестном статусе лида.
var ErrBadStatus = errors.New("invalid lead status")

// Service отдаёт пользователю его лиды и меняет их статусы.
type Service struct {
	repo        domain.LeadRepo
	entitlement *entitlement.Service
}

// NewService создаёт сервис лидов.
func NewService(repo domain.LeadRepo, ent *entitlement.Service) *Service {
	return &Service{repo: repo, entitlement: ent}
}

// List возвращает лиды пользователя от новых к старым. Без подписки
// выборка ограничена FreeLeadDisplayCap строками.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Lead, error) {
	limit := 0
	if sub := s.entitlement.CheckSubscription(ctx, userID); !sub.IsSubscribed {
		limit = domain.FreeLeadDisplayCap
	}
	items, err := s.repo.ListUserLeads(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("выборка лидов: %w", err)
	}
	return items, nil
}

// Count возвращает число лидов пользователя по всем профилям.
func (s *Service) Count(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUserLeads(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("подсчёт лидов: %w", err)
	}
	return count, nil
}

// UpdateStatus меняет статус лида. Чужой лид неотличим от отсутствующего.
func (s *Service) UpdateStatus(ctx context.Context, userID string, leadID int64, status domain.LeadStatus) error {
	if !domain.ValidLeadStatus(status) {
		return ErrBadStatus
	}
	if err := s.repo.UpdateLeadStatus(ctx, userID, leadID, status); err != nil {
		return fmt.Errorf("смена статуса лида: %w", err)
	}
	return nil
}
