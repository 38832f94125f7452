package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
)

// Service сообщает внешнему скрейперу об изменении конфигурации двумя
// каналами: поднимает флаг scraper_refresh_needed (его агент опрашивает)
// и публикует типизированное событие для notifier-воркера.
type Service struct {
	flags domain.FlagRepo
	queue domain.ConfigChangeQueue
	log   zerolog.Logger
}

// NewService создаёт сервис уведомлений.
func NewService(flags domain.FlagRepo, queue domain.ConfigChangeQueue, log zerolog.Logger) *Service {
	return &Service{flags: flags, queue: queue, log: log}
}

// ConfigChanged фиксирует изменение профиля. Ошибка доставки не должна
// блокировать основную операцию — вызывающий только логирует её.
func (s *Service) ConfigChanged(ctx context.Context, userID string, icpID int64, action domain.ConfigChangeAction) error {
	if err := s.flags.SetFlag(ctx, domain.FlagScraperRefreshNeeded, true,
		"Trigger scraper to refresh ICP configurations"); err != nil {
		metrics.ConfigNotifyFailures.Inc()
		return fmt.Errorf("установка флага: %w", err)
	}
	if s.queue == nil {
		return nil
	}
	event := domain.ConfigChangeEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		ICPID:      icpID,
		Action:     action,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, event); err != nil {
		metrics.ConfigNotifyFailures.Inc()
		return fmt.Errorf("публикация события: %w", err)
	}
	return nil
}

// SkipPollPeriod просит скрейпер пропустить текущий цикл опроса.
func (s *Service) SkipPollPeriod(ctx context.Context) error {
	return s.flags.SetFlag(ctx, domain.FlagSkipPollPeriod, true,
		"Skip current poll period and move to next cycle immediately")
}

// ScraperPaused сообщает, остановлен ли скрейпер.
func (s *Service) ScraperPaused(ctx context.Context) (bool, error) {
	return s.flags.GetFlag(ctx, domain.FlagScraperPaused)
}
