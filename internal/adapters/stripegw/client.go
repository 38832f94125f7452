package stripegw

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
)

// Gateway реализует domain.PaymentGateway поверх Stripe.
type Gateway struct {
	webhookSecret string
	appURL        string
}

// New настраивает Stripe SDK и создаёт шлюз.
func New(secretKey, webhookSecret, appURL string) *Gateway {
	stripe.Key = secretKey
	return &Gateway{webhookSecret: webhookSecret, appURL: appURL}
}

// CreateCustomer заводит клиента Stripe с ссылкой на пользователя.
func (g *Gateway) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("userId", userID)

	start := time.Now()
	cust, err := customer.New(params)
	metrics.ObserveNetworkRequest("stripe", "customer_create", "customers", start, err)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession создаёт сессию оплаты подписки.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, customerID, priceID string, quantity int64) (string, string, error) {
	if quantity <= 0 {
		quantity = 1
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL: stripe.String(g.appURL + "/api/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(g.appURL + "/"),
	}
	params.Context = ctx

	start := time.Now()
	sess, err := session.New(params)
	metrics.ObserveNetworkRequest("stripe", "checkout_session_create", "checkout", start, err)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

// LatestSubscription возвращает состояние последней подписки клиента.
func (g *Gateway) LatestSubscription(ctx context.Context, customerID string) (domain.SubscriptionState, bool, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.AddExpand("data.default_payment_method")

	start := time.Now()
	iter := subscription.List(params)
	if !iter.Next() {
		err := iter.Err()
		metrics.ObserveNetworkRequest("stripe", "subscription_list", "subscriptions", start, err)
		if err != nil {
			return domain.SubscriptionState{}, false, fmt.Errorf("list subscriptions: %w", err)
		}
		return domain.SubscriptionState{Status: "none"}, false, nil
	}
	metrics.ObserveNetworkRequest("stripe", "subscription_list", "subscriptions", start, nil)

	sub := iter.Subscription()
	state := domain.SubscriptionState{
		SubscriptionID:     sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		state.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.DefaultPaymentMethod != nil && sub.DefaultPaymentMethod.Card != nil {
		state.PaymentBrand = string(sub.DefaultPaymentMethod.Card.Brand)
		state.PaymentLast4 = sub.DefaultPaymentMethod.Card.Last4
	}
	return state, true, nil
}

// ParseWebhook проверяет подпись и извлекает клиента из события.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("verify webhook signature: %w", err)
	}
	var object struct {
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("decode webhook object: %w", err)
	}
	return domain.PaymentEvent{Type: string(event.Type), CustomerID: object.Customer}, nil
}

var _ domain.PaymentGateway = (*Gateway)(nil)
