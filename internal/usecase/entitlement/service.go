package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
	"sublead/internal/usecase/notify"
)

// Ключи кэша подписки. Формат разделяется с биллингом.
func CustomerIDKey(userID string) string {
	return fmt.Sprintf("user:%s:stripe-customer-id", userID)
}

func SubStatusKey(customerID string) string {
	return fmt.Sprintf("stripe:customer:%s:sub-status", customerID)
}

func CustomerUserKey(customerID string) string {
	return fmt.Sprintf("stripe-customer:%s:user-id", customerID)
}

// Service отвечает на вопросы «подписан ли пользователь» и «не упёрся ли
// он в лимит лидов», и переключает мониторинг профилей по ответу.
type Service struct {
	cache    domain.Cache
	icps     domain.ICPRepo
	leads    domain.LeadRepo
	notifier *notify.Service
	log      zerolog.Logger
}

// NewService создаёт сервис.
func NewService(cache domain.Cache, icps domain.ICPRepo, leads domain.LeadRepo, notifier *notify.Service, log zerolog.Logger) *Service {
	return &Service{cache: cache, icps: icps, leads: leads, notifier: notifier, log: log}
}

// CheckSubscription возвращает статус подписки из кэша.
// Любой сбой трактуется как отсутствие подписки: платные возможности
// закрываются, а не открываются, при недоступном кэше.
func (s *Service) CheckSubscription(ctx context.Context, userID string) domain.SubscriptionStatus {
	customerID, err := s.cache.Get(ctx, CustomerIDKey(userID))
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.log.Warn().Err(err).Msg("entitlement: кэш customer-id недоступен")
		}
		return domain.SubscriptionStatus{IsSubscribed: false}
	}
	raw, err := s.cache.Get(ctx, SubStatusKey(string(customerID)))
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.log.Warn().Err(err).Msg("entitlement: кэш статуса подписки недоступен")
		}
		return domain.SubscriptionStatus{IsSubscribed: false}
	}
	var state domain.SubscriptionState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log.Warn().Err(err).Msg("entitlement: не удалось разобрать состояние подписки")
		return domain.SubscriptionStatus{IsSubscribed: false}
	}
	return domain.SubscriptionStatus{IsSubscribed: state.Active()}
}

// CheckLeadLimit сравнивает число лидов с лимитом тарифа и переключает
// мониторинг профилей. Гистерезис: выключенный мониторинг включается
// обратно только когда лидов меньше 95% лимита, диапазон [95%, 100%)
// не трогает состояние.
func (s *Service) CheckLeadLimit(ctx context.Context, userID string) (domain.LeadLimitStatus, error) {
	subscription := s.CheckSubscription(ctx, userID)

	count, err := s.leads.CountUserLeads(ctx, userID)
	if err != nil {
		return domain.LeadLimitStatus{}, fmt.Errorf("подсчёт лидов: %w", err)
	}

	limit := domain.LeadLimitFor(subscription.IsSubscribed)
	status := domain.LeadLimitStatus{
		LeadCount:    count,
		Limit:        limit,
		IsAtLimit:    count >= limit,
		IsSubscribed: subscription.IsSubscribed,
	}

	switch {
	case subscription.IsSubscribed:
		// Оплаченная подписка снимает паузу безусловно.
		if err := s.setMonitoring(ctx, userID, true); err != nil {
			return domain.LeadLimitStatus{}, err
		}
	case status.IsAtLimit:
		if err := s.setMonitoring(ctx, userID, false); err != nil {
			return domain.LeadLimitStatus{}, err
		}
	case float64(count) < domain.ResumeFraction*float64(limit):
		if err := s.setMonitoring(ctx, userID, true); err != nil {
			return domain.LeadLimitStatus{}, err
		}
	}
	return status, nil
}

func (s *Service) setMonitoring(ctx context.Context, userID string, enabled bool) error {
	changed, err := s.icps.SetMonitoringForUser(ctx, userID, enabled)
	if err != nil {
		return fmt.Errorf("переключение мониторинга: %w", err)
	}
	if len(changed) == 0 {
		return nil
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	metrics.MonitoringTransitions.WithLabelValues(state).Inc()
	for _, icp := range changed {
		if err := s.notifier.ConfigChanged(ctx, userID, icp.ID, domain.ConfigActionUpdate); err != nil {
			// Уведомление не откатывает переключение мониторинга.
			s.log.Warn().Err(err).Int64("icp", icp.ID).Msg("entitlement: скрейпер не уведомлён")
		}
	}
	return nil
}
