package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
	"sublead/internal/usecase/entitlement"
)

type memCache struct {
	values map[string][]byte
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.values[key] = value
	return nil
}
func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := c.values[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return value, nil
}
func (c *memCache) Delete(_ context.Context, key string) error { return nil }

type stubICPRepo struct {
	leadLimits map[string]int
}

func (s *stubICPRepo) CreateICP(_ context.Context, icp domain.ICP) (domain.ICP, error) {
	return icp, nil
}
func (s *stubICPRepo) UpdateICP(_ context.Context, icp domain.ICP) (domain.ICP, error) {
	return icp, nil
}
func (s *stubICPRepo) DeleteICP(context.Context, string, int64) error { return nil }
func (s *stubICPRepo) GetICP(context.Context, string, int64) (domain.ICP, error) {
	return domain.ICP{}, domain.ErrNotFound
}
func (s *stubICPRepo) ListUserICPs(context.Context, string) ([]domain.ICP, error) { return nil, nil }
func (s *stubICPRepo) CountUserICPs(context.Context, string) (int, error)         { return 0, nil }
func (s *stubICPRepo) SetMonitoringForUser(context.Context, string, bool) ([]domain.ICP, error) {
	return nil, nil
}
func (s *stubICPRepo) SetLeadLimitForUser(_ context.Context, userID string, leadLimit int) error {
	if s.leadLimits == nil {
		s.leadLimits = map[string]int{}
	}
	s.leadLimits[userID] = leadLimit
	return nil
}
func (s *stubICPRepo) MarkSeeded(context.Context, int64) error { return nil }

type stubPayments struct {
	customers    int
	sessions     int
	subscription domain.SubscriptionState
	hasSub       bool
	event        domain.PaymentEvent
	parseErr     error
}

func (s *stubPayments) CreateCustomer(context.Context, string, string) (string, error) {
	s.customers++
	return "cus_new", nil
}
func (s *stubPayments) CreateCheckoutSession(context.Context, string, string, int64) (string, string, error) {
	s.sessions++
	return "cs_1", "https://checkout.stripe.test/cs_1", nil
}
func (s *stubPayments) LatestSubscription(context.Context, string) (domain.SubscriptionState, bool, error) {
	return s.subscription, s.hasSub, nil
}
func (s *stubPayments) ParseWebhook([]byte, string) (domain.PaymentEvent, error) {
	return s.event, s.parseErr
}

func newFixture(payments *stubPayments) (*Service, *memCache, *stubICPRepo) {
	cache := &memCache{values: map[string][]byte{}}
	icps := &stubICPRepo{}
	service := NewService(payments, cache, icps, "price_1", zerolog.Nop())
	return service, cache, icps
}

func TestCheckoutCreatesCustomerOnce(t *testing.T) {
	payments := &stubPayments{}
	service, cache, _ := newFixture(payments)

	url, err := service.CreateCheckoutSession(context.Background(), "user-1", "u@example.com")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if url == "" {
		t.Fatalf("ожидали URL сессии")
	}
	if payments.customers != 1 {
		t.Fatalf("клиент должен создаваться при первом обращении")
	}
	if string(cache.values[entitlement.CustomerIDKey("user-1")]) != "cus_new" {
		t.Fatalf("customer-id должен попасть в кэш")
	}
	if string(cache.values[entitlement.CustomerUserKey("cus_new")]) != "user-1" {
		t.Fatalf("обратная привязка должна попасть в кэш")
	}

	if _, err := service.CreateCheckoutSession(context.Background(), "user-1", "u@example.com"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if payments.customers != 1 {
		t.Fatalf("повторный checkout не должен создавать клиента заново")
	}
	if payments.sessions != 2 {
		t.Fatalf("ожидали две сессии, получили %d", payments.sessions)
	}
}

func TestWebhookSyncsSubscription(t *testing.T) {
	payments := &stubPayments{
		subscription: domain.SubscriptionState{SubscriptionID: "sub_1", Status: "active"},
		hasSub:       true,
		event:        domain.PaymentEvent{Type: "customer.subscription.updated", CustomerID: "cus_1"},
	}
	service, cache, icps := newFixture(payments)
	cache.values[entitlement.CustomerUserKey("cus_1")] = []byte("user-1")

	if err := service.HandleWebhook(context.Background(), []byte("{}"), "sig"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	raw, ok := cache.values[entitlement.SubStatusKey("cus_1")]
	if !ok {
		t.Fatalf("состояние подписки должно попасть в кэш")
	}
	var state domain.SubscriptionState
	if err := json.Unmarshal(raw, &state); err != nil || state.Status != "active" {
		t.Fatalf("ожидали статус active в кэше: %s", raw)
	}
	if icps.leadLimits["user-1"] != domain.SubscribedICPLeadLimit {
		t.Fatalf("lead_limit должен подняться до %d, получили %d", domain.SubscribedICPLeadLimit, icps.leadLimits["user-1"])
	}
}

func TestWebhookCancelledSubscriptionLowersLimit(t *testing.T) {
	payments := &stubPayments{
		subscription: domain.SubscriptionState{SubscriptionID: "sub_1", Status: "canceled"},
		hasSub:       true,
		event:        domain.PaymentEvent{Type: "customer.subscription.deleted", CustomerID: "cus_1"},
	}
	service, cache, icps := newFixture(payments)
	cache.values[entitlement.CustomerUserKey("cus_1")] = []byte("user-1")

	if err := service.HandleWebhook(context.Background(), []byte("{}"), "sig"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if icps.leadLimits["user-1"] != domain.FreeLeadLimit {
		t.Fatalf("отмена подписки должна вернуть лимит %d, получили %d", domain.FreeLeadLimit, icps.leadLimits["user-1"])
	}
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	payments := &stubPayments{event: domain.PaymentEvent{Type: "product.created", CustomerID: "cus_1"}}
	service, cache, icps := newFixture(payments)

	if err := service.HandleWebhook(context.Background(), []byte("{}"), "sig"); err != nil {
		t.Fatalf("неизвестный тип события подтверждается без ошибки: %v", err)
	}
	if len(cache.values) != 0 || len(icps.leadLimits) != 0 {
		t.Fatalf("неизвестное событие не должно ничего менять")
	}
}

func TestWebhookBadSignature(t *testing.T) {
	payments := &stubPayments{parseErr: errors.New("bad signature")}
	service, _, _ := newFixture(payments)
	if err := service.HandleWebhook(context.Background(), []byte("{}"), "sig"); err == nil {
		t.Fatalf("ожидали ошибку проверки подписи")
	}
}
