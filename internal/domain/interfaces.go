package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound возвращается, когда запись отсутствует или принадлежит
	// другому пользователю. Наружу оба случая выглядят одинаково.
	ErrNotFound = errors.New("record not found")

	// ErrCacheMiss возвращается кэшем при отсутствии ключа.
	ErrCacheMiss = errors.New("cache miss")
)

// RedditTokens — токены Reddit OAuth, сохраняемые на учётной записи.
type RedditTokens struct {
	AccessToken  string
	RefreshToken string
	Username     string
	ExpiresAt    time.Time
}

// AccountRepo управляет учётными записями.
type AccountRepo interface {
	// EnsureAccount создаёт запись при первом обращении и возвращает
	// признак того, что запись была создана.
	EnsureAccount(ctx context.Context, userID string) (Account, bool, error)
	GetByUserID(ctx context.Context, userID string) (Account, error)
	SaveRedditTokens(ctx context.Context, userID string, tokens RedditTokens) error
	ClearRedditTokens(ctx context.Context, userID string) error
	MarkICPsVisited(ctx context.Context, userID string) error
	MarkWelcomeEmailSent(ctx context.Context, userID string) error
}

// ICPRepo управляет профилями идеального клиента.
type ICPRepo interface {
	CreateICP(ctx context.Context, icp ICP) (ICP, error)
	UpdateICP(ctx context.Context, icp ICP) (ICP, error)
	// DeleteICP удаляет профиль вместе с его лидами в одной транзакции.
	DeleteICP(ctx context.Context, userID string, id int64) error
	GetICP(ctx context.Context, userID string, id int64) (ICP, error)
	ListUserICPs(ctx context.Context, userID string) ([]ICP, error)
	CountUserICPs(ctx context.Context, userID string) (int, error)
	// SetMonitoringForUser переключает мониторинг у всех профилей
	// пользователя и возвращает профили, у которых значение изменилось.
	SetMonitoringForUser(ctx context.Context, userID string, enabled bool) ([]ICP, error)
	SetLeadLimitForUser(ctx context.Context, userID string, leadLimit int) error
	MarkSeeded(ctx context.Context, id int64) error
}

// LeadRepo управляет лидами (постами Reddit).
type LeadRepo interface {
	// ListUserLeads возвращает лиды пользователя от новых к старым.
	// limit <= 0 означает выборку без ограничения.
	ListUserLeads(ctx context.Context, userID string, limit int) ([]Lead, error)
	CountUserLeads(ctx context.Context, userID string) (int, error)
	// UpdateLeadStatus меняет статус лида с проверкой принадлежности.
	UpdateLeadStatus(ctx context.Context, userID string, leadID int64, status LeadStatus) error
}

// FlagRepo управляет системными флагами (upsert по ключу).
type FlagRepo interface {
	SetFlag(ctx context.Context, key string, value bool, description string) error
	GetFlag(ctx context.Context, key string) (bool, error)
}

// UsageRepo управляет счётчиками использования.
type UsageRepo interface {
	// GetMonthly возвращает счётчики за месяц; при отсутствии строки —
	// нулевые значения без ошибки.
	GetMonthly(ctx context.Context, userID string, month, year int) (UsageTracking, error)
	// IncrementReplies атомарно увеличивает счётчик ответов, создавая
	// строку месяца при необходимости, и возвращает новое значение.
	IncrementReplies(ctx context.Context, userID string, month, year int) (int, error)
}

// Cache — простое TTL-хранилище ключ/значение.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get возвращает ErrCacheMiss при отсутствии ключа.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// URLAnalysis — результат анализа сайта агент-сервисом.
type URLAnalysis struct {
	Keywords       []string `json:"keywords"`
	Subreddits     []string `json:"subreddits"`
	ICPDescription string   `json:"icp_description"`
}

// SuggestionSet — ключевые слова и сабреддиты по описанию продукта.
type SuggestionSet struct {
	Keywords   []string `json:"keywords"`
	Subreddits []string `json:"subreddits"`
}

// SubredditCheck — результат проверки существования сабреддита.
type SubredditCheck struct {
	IsValid      bool   `json:"is_valid"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// LeadSearchResult — итог принудительного поиска лидов.
type LeadSearchResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	LeadsFound int    `json:"leads_found"`
}

// UsageStats — агрегированная статистика, которую считает агент-сервис.
type UsageStats struct {
	MonthlyQualifiedLeads int  `json:"monthly_qualified_leads"`
	MonthlyLeadLimit      int  `json:"monthly_lead_limit"`
	IsSubscribed          bool `json:"is_subscribed"`
}

// ScrapeSchedule — время следующего прохода скрейпера.
type ScrapeSchedule struct {
	NextRunTime         string  `json:"next_run_time"`
	SecondsUntilNextRun float64 `json:"seconds_until_next_run"`
}

// AgentGateway описывает HTTP-интерфейс внешнего агент-сервиса.
type AgentGateway interface {
	AnalyzeURL(ctx context.Context, url string, keywordCount, subredditCount int) (URLAnalysis, error)
	GenerateSuggestions(ctx context.Context, description, painPoints string) (SuggestionSet, error)
	ValidateSubreddit(ctx context.Context, name string) (SubredditCheck, error)
	GenerateReply(ctx context.Context, redditPost, productDescription string) (string, error)
	TriggerLeadSearch(ctx context.Context, userID string, limit int) (LeadSearchResult, error)
	NotifyConfigChange(ctx context.Context, event ConfigChangeEvent) error
	UsageStatsFor(ctx context.Context, userID string) (UsageStats, error)
	NextScrapeTime(ctx context.Context) (ScrapeSchedule, error)
	TriggerScrape(ctx context.Context) error
	TriggerInitialSeeding(ctx context.Context, icpID int64) error
}

// PaymentEvent — нормализованное событие платёжного провайдера.
type PaymentEvent struct {
	Type       string
	CustomerID string
}

// PaymentGateway описывает операции платёжного провайдера.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID string, quantity int64) (sessionID, url string, err error)
	// LatestSubscription возвращает состояние последней подписки клиента;
	// второе значение false, если подписок нет.
	LatestSubscription(ctx context.Context, customerID string) (SubscriptionState, bool, error)
	// ParseWebhook проверяет подпись и разбирает событие вебхука.
	ParseWebhook(payload []byte, signature string) (PaymentEvent, error)
}

// RedditAuthGateway описывает OAuth-обмен с Reddit.
type RedditAuthGateway interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (RedditTokens, error)
}
