package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
	"sublead/internal/usecase/entitlement"
)

// Кэш подписки живёт без TTL: вебхуки Stripe — единственный источник
// изменений, и каждое событие перезаписывает состояние целиком.
const cacheTTL = 0 * time.Second

// allowedEvents — события Stripe, после которых пересинхронизируется
// состояние подписки. Остальные подтверждаются и игнорируются.
var allowedEvents = map[string]struct{}{
	"checkout.session.completed":           {},
	"customer.subscription.created":        {},
	"customer.subscription.updated":        {},
	"customer.subscription.deleted":        {},
	"customer.subscription.paused":         {},
	"customer.subscription.resumed":        {},
	"customer.subscription.trial_will_end": {},
	"invoice.paid":                         {},
	"invoice.payment_failed":               {},
	"invoice.payment_action_required":      {},
	"invoice.upcoming":                     {},
	"invoice.marked_uncollectible":         {},
	"invoice.payment_succeeded":            {},
	"payment_intent.succeeded":             {},
	"payment_intent.payment_failed":        {},
	"payment_intent.canceled":              {},
}

// Service связывает учётные записи со Stripe: создание checkout-сессий
// и синхронизация состояния подписки по вебхукам.
type Service struct {
	payments domain.PaymentGateway
	cache    domain.Cache
	icps     domain.ICPRepo
	priceID  string
	log      zerolog.Logger
}

// NewService создаёт биллинг-сервис.
func NewService(payments domain.PaymentGateway, cache domain.Cache, icps domain.ICPRepo, priceID string, log zerolog.Logger) *Service {
	return &Service{payments: payments, cache: cache, icps: icps, priceID: priceID, log: log}
}

// CreateCheckoutSession возвращает URL оплаты подписки. Клиент Stripe
// создаётся при первом обращении и запоминается в кэше вместе с обратной
// привязкой customer → user для вебхуков.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email string) (string, error) {
	customerID, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}
	_, url, err := s.payments.CreateCheckoutSession(ctx, customerID, s.priceID, 1)
	if err != nil {
		return "", fmt.Errorf("создание checkout-сессии: %w", err)
	}
	metrics.CheckoutSessions.Inc()
	return url, nil
}

func (s *Service) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	cached, err := s.cache.Get(ctx, entitlement.CustomerIDKey(userID))
	if err == nil {
		return string(cached), nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return "", fmt.Errorf("чтение customer-id: %w", err)
	}
	customerID, err := s.payments.CreateCustomer(ctx, email, userID)
	if err != nil {
		return "", fmt.Errorf("создание клиента: %w", err)
	}
	if err := s.cache.Set(ctx, entitlement.CustomerIDKey(userID), []byte(customerID), cacheTTL); err != nil {
		return "", fmt.Errorf("сохранение customer-id: %w", err)
	}
	if err := s.cache.Set(ctx, entitlement.CustomerUserKey(customerID), []byte(userID), cacheTTL); err != nil {
		return "", fmt.Errorf("сохранение привязки клиента: %w", err)
	}
	return customerID, nil
}

// HandleWebhook проверяет подпись события и синхронизирует состояние
// подписки. Неизвестные типы событий подтверждаются без обработки.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("разбор вебхука: %w", err)
	}
	metrics.WebhookEvents.WithLabelValues(event.Type).Inc()
	if _, ok := allowedEvents[event.Type]; !ok {
		return nil
	}
	if event.CustomerID == "" {
		s.log.Warn().Str("type", event.Type).Msg("billing: событие без customer-id")
		return nil
	}
	return s.SyncSubscription(ctx, event.CustomerID)
}

// SyncSubscription перечитывает последнюю подписку клиента из Stripe,
// кладёт её состояние в кэш и выравнивает lead_limit профилей владельца.
func (s *Service) SyncSubscription(ctx context.Context, customerID string) error {
	state, found, err := s.payments.LatestSubscription(ctx, customerID)
	if err != nil {
		return fmt.Errorf("чтение подписки: %w", err)
	}
	if !found {
		state = domain.SubscriptionState{Status: "none"}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("сериализация состояния: %w", err)
	}
	if err := s.cache.Set(ctx, entitlement.SubStatusKey(customerID), raw, cacheTTL); err != nil {
		return fmt.Errorf("сохранение состояния: %w", err)
	}

	userID, err := s.cache.Get(ctx, entitlement.CustomerUserKey(customerID))
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			s.log.Warn().Str("customer_id", customerID).Msg("billing: привязка клиента не найдена")
			return nil
		}
		return fmt.Errorf("чтение привязки клиента: %w", err)
	}
	limit := domain.ICPLeadLimitFor(state.Active())
	if err := s.icps.SetLeadLimitForUser(ctx, string(userID), limit); err != nil {
		return fmt.Errorf("обновление lead_limit: %w", err)
	}
	return nil
}
