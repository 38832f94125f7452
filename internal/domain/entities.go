package domain

import "time"

// Account описывает учётную запись пользователя SubLead.
// user_id — subject внешнего провайдера аутентификации.
type Account struct {
	ID                   int64
	UserID               string
	WelcomeEmailSent     bool
	HasVisitedICPs       bool
	RedditAccessToken    string
	RedditRefreshToken   string
	RedditUsername       string
	RedditTokenExpiresAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RedditConnected сообщает, привязан ли Reddit-аккаунт.
func (a Account) RedditConnected() bool {
	return a.RedditAccessToken != ""
}

// ICPData хранит описательные поля профиля в JSON-документе icps.data.
type ICPData struct {
	Keywords    []string `json:"keywords"`
	Subreddits  []string `json:"subreddits"`
	PainPoints  string   `json:"painPoints"`
	Description string   `json:"description"`
}

// ICP описывает профиль идеального клиента («продукт»).
type ICP struct {
	ID                int64
	UserID            string
	Name              string
	Website           string
	Data              ICPData
	MonitoringEnabled bool
	LeadLimit         int
	Seeded            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LeadStatus описывает статус обработки лида пользователем.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusSeen      LeadStatus = "seen"
	LeadStatusResponded LeadStatus = "responded"
)

// ValidLeadStatus проверяет, что статус входит в допустимый набор.
func ValidLeadStatus(s LeadStatus) bool {
	switch s {
	case LeadStatusNew, LeadStatusSeen, LeadStatusResponded:
		return true
	}
	return false
}

// LeadAnalysis содержит разбор поста скоринговым агентом:
// пять факторов с обоснованиями и выявленные боли.
type LeadAnalysis struct {
	PainPoints                     string `json:"painPoints"`
	ProductFitScore                int    `json:"productFitScore"`
	IntentSignalsScore             int    `json:"intentSignalsScore"`
	UrgencyIndicatorsScore         int    `json:"urgencyIndicatorsScore"`
	DecisionAuthorityScore         int    `json:"decisionAuthorityScore"`
	EngagementQualityScore         int    `json:"engagementQualityScore"`
	ProductFitJustification        string `json:"productFitJustification"`
	IntentSignalsJustification     string `json:"intentSignalsJustification"`
	UrgencyIndicatorsJustification string `json:"urgencyIndicatorsJustification"`
	DecisionAuthorityJustification string `json:"decisionAuthorityJustification"`
	EngagementQualityJustification string `json:"engagementQualityJustification"`
}

// Lead представляет пост Reddit, сопоставленный с ICP и оценённый агентом.
// submission_id уникален — ключ идемпотентной загрузки скрейпером.
type Lead struct {
	ID              int64
	ICPID           int64
	SubmissionID    string
	Subreddit       string
	Title           string
	Content         string
	URL             string
	LeadQuality     int
	Analysis        *LeadAnalysis
	Status          LeadStatus
	RedditCreatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SystemFlag — булева настройка-сигнал для внешнего скрейпера.
type SystemFlag struct {
	Key         string
	Value       bool
	Description string
	UpdatedAt   time.Time
}

// Известные ключи системных флагов.
const (
	FlagScraperRefreshNeeded = "scraper_refresh_needed"
	FlagSkipPollPeriod       = "skip_poll_period"
	FlagScraperPaused        = "scraper_paused"
)

// UsageTracking — счётчики использования за календарный месяц.
type UsageTracking struct {
	ID               int64
	UserID           string
	Month            int
	Year             int
	RepliesGenerated int
	QualifiedLeads   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
