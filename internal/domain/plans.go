package domain

// Пороговые значения тарифов. Бесплатный тариф ограничен по числу лидов
// и ответов, активная подписка поднимает лимиты.
const (
	// MaxICPsPerUser — максимум профилей на учётную запись.
	MaxICPsPerUser = 3

	// FreeLeadLimit — порог лидов, после которого мониторинг
	// бесплатного пользователя останавливается.
	FreeLeadLimit = 100

	// SubscribedLeadLimit — порог лидов для активной подписки.
	SubscribedLeadLimit = 500

	// SubscribedICPLeadLimit — значение icps.lead_limit при активной подписке.
	SubscribedICPLeadLimit = 9999

	// FreeMonthlyReplies — месячная квота генераций ответов без подписки.
	FreeMonthlyReplies = 10

	// FreeLeadDisplayCap — сколько строк лидов отдаём бесплатному
	// пользователю при выборке.
	FreeLeadDisplayCap = 500

	// ResumeFraction — гистерезис: мониторинг включается обратно только
	// когда лидов меньше 95% лимита, чтобы флаг не дребезжал на границе.
	ResumeFraction = 0.95
)

// SubscriptionStatus — результат проверки подписки.
type SubscriptionStatus struct {
	IsSubscribed bool `json:"isSubscribed"`
}

// SubscriptionState — кэшированное состояние подписки Stripe.
// status == "active" означает действующую подписку, "none" — её отсутствие.
type SubscriptionState struct {
	SubscriptionID     string `json:"subscriptionId,omitempty"`
	Status             string `json:"status"`
	PriceID            string `json:"priceId,omitempty"`
	CurrentPeriodStart int64  `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   int64  `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool   `json:"cancelAtPeriodEnd,omitempty"`
	PaymentBrand       string `json:"paymentBrand,omitempty"`
	PaymentLast4       string `json:"paymentLast4,omitempty"`
}

// Active сообщает, действует ли подписка.
func (s SubscriptionState) Active() bool {
	return s.Status == "active"
}

// LeadLimitFor возвращает порог лидов для статуса подписки.
func LeadLimitFor(subscribed bool) int {
	if subscribed {
		return SubscribedLeadLimit
	}
	return FreeLeadLimit
}

// ICPLeadLimitFor возвращает значение icps.lead_limit для статуса подписки.
func ICPLeadLimitFor(subscribed bool) int {
	if subscribed {
		return SubscribedICPLeadLimit
	}
	return FreeLeadLimit
}

// LeadLimitStatus — результат проверки лимита лидов.
type LeadLimitStatus struct {
	LeadCount    int  `json:"leadCount"`
	Limit        int  `json:"limit"`
	IsAtLimit    bool `json:"isAtLimit"`
	IsSubscribed bool `json:"isSubscribed"`
}
