package replies

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
	"sublead/internal/usecase/entitlement"
	"sublead/internal/usecase/notify"
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
func (c *memCache) Delete(_ context.Context, key string) error {
	delete(c.values, key)
	return nil
}

type stubICPRepo struct {
	icp domain.ICP
}

func (s *stubICPRepo) CreateICP(_ context.Context, icp domain.ICP) (domain.ICP, error) {
	return icp, nil
}
func (s *stubICPRepo) UpdateICP(_ context.Context, icp domain.ICP) (domain.ICP, error) {
	return icp, nil
}
func (s *stubICPRepo) DeleteICP(context.Context, string, int64) error { return nil }
func (s *stubICPRepo) GetICP(_ context.Context, userID string, id int64) (domain.ICP, error) {
	if s.icp.ID == id && s.icp.UserID == userID {
		return s.icp, nil
	}
	return domain.ICP{}, domain.ErrNotFound
}
func (s *stubICPRepo) ListUserICPs(context.Context, string) ([]domain.ICP, error) { return nil, nil }
func (s *stubICPRepo) CountUserICPs(context.Context, string) (int, error)         { return 0, nil }
func (s *stubICPRepo) SetMonitoringForUser(context.Context, string, bool) ([]domain.ICP, error) {
	return nil, nil
}
func (s *stubICPRepo) SetLeadLimitForUser(context.Context, string, int) error { return nil }
func (s *stubICPRepo) MarkSeeded(context.Context, int64) error                { return nil }

type stubLeadRepo struct{}

func (stubLeadRepo) ListUserLeads(context.Context, string, int) ([]domain.Lead, error) {
	return nil, nil
}
func (stubLeadRepo) CountUserLeads(context.Context, string) (int, error) { return 0, nil }
func (stubLeadRepo) UpdateLeadStatus(context.Context, string, int64, domain.LeadStatus) error {
	return nil
}

type stubUsageRepo struct {
	replies    int
	increments int
}

func (s *stubUsageRepo) GetMonthly(context.Context, string, int, int) (domain.UsageTracking, error) {
	return domain.UsageTracking{RepliesGenerated: s.replies}, nil
}
func (s *stubUsageRepo) IncrementReplies(context.Context, string, int, int) (int, error) {
	s.increments++
	s.replies++
	return s.replies, nil
}

type stubAgent struct {
	reply        string
	descriptions []string
}

func (a *stubAgent) GenerateReply(_ context.Context, _, productDescription string) (string, error) {
	a.descriptions = append(a.descriptions, productDescription)
	return a.reply, nil
}
func (*stubAgent) AnalyzeURL(context.Context, string, int, int) (domain.URLAnalysis, error) {
	return domain.URLAnalysis{}, nil
}
func (*stubAgent) GenerateSuggestions(context.Context, string, string) (domain.SuggestionSet, error) {
	return domain.SuggestionSet{}, nil
}
func (*stubAgent) ValidateSubreddit(context.Context, string) (domain.SubredditCheck, error) {
	return domain.SubredditCheck{}, nil
}
func (*stubAgent) TriggerLeadSearch(context.Context, string, int) (domain.LeadSearchResult, error) {
	return domain.LeadSearchResult{}, nil
}
func (*stubAgent) NotifyConfigChange(context.Context, domain.ConfigChangeEvent) error { return nil }
func (*stubAgent) UsageStatsFor(context.Context, string) (domain.UsageStats, error) {
	return domain.UsageStats{}, nil
}
func (*stubAgent) NextScrapeTime(context.Context) (domain.ScrapeSchedule, error) {
	return domain.ScrapeSchedule{}, nil
}
func (*stubAgent) TriggerScrape(context.Context) error                { return nil }
func (*stubAgent) TriggerInitialSeeding(context.Context, int64) error { return nil }

type stubFlagRepo struct{}

func (stubFlagRepo) SetFlag(context.Context, string, bool, string) error { return nil }
func (stubFlagRepo) GetFlag(context.Context, string) (bool, error)       { return false, nil }

func newFixture(subscribed bool, used int) (*Service, *stubUsageRepo, *stubAgent) {
	cache := &memCache{values: map[string][]byte{}}
	if subscribed {
		cache.values[entitlement.CustomerIDKey("user-1")] = []byte("cus_1")
		cache.values[entitlement.SubStatusKey("cus_1")] = []byte(`{"status":"active"}`)
	}
	icps := &stubICPRepo{icp: domain.ICP{
		ID:      7,
		UserID:  "user-1",
		Name:    "Acme",
		Website: "https://acme.io",
		Data:    domain.ICPData{Description: "B2B lead tooling"},
	}}
	usage := &stubUsageRepo{replies: used}
	agent := &stubAgent{reply: "generated reply"}
	notifier := notify.NewService(stubFlagRepo{}, nil, zerolog.Nop())
	ent := entitlement.NewService(cache, icps, stubLeadRepo{}, notifier, zerolog.Nop())
	return NewService(icps, usage, agent, ent), usage, agent
}

func TestGenerateRefusesAtQuota(t *testing.T) {
	service, usage, _ := newFixture(false, domain.FreeMonthlyReplies)
	result, err := service.Generate(context.Background(), "user-1", 7, "нужен инструмент для лидов")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Success {
		t.Fatalf("ожидали отказ на квоте")
	}
	if !result.ShowUpgradeDialog {
		t.Fatalf("отказ должен предлагать подписку")
	}
	if result.RepliesUsed != domain.FreeMonthlyReplies || result.MonthlyLimit != domain.FreeMonthlyReplies {
		t.Fatalf("ожидали счётчики %d/%d, получили %d/%d",
			domain.FreeMonthlyReplies, domain.FreeMonthlyReplies, result.RepliesUsed, result.MonthlyLimit)
	}
	if usage.increments != 0 {
		t.Fatalf("отказ не должен увеличивать счётчик")
	}
}

func TestGenerateIncrementsAfterSuccess(t *testing.T) {
	service, usage, _ := newFixture(false, domain.FreeMonthlyReplies-1)
	result, err := service.Generate(context.Background(), "user-1", 7, "пост")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !result.Success || result.Reply != "generated reply" {
		t.Fatalf("ожидали успешную генерацию, получили %+v", result)
	}
	if usage.increments != 1 {
		t.Fatalf("успех должен увеличить счётчик ровно один раз")
	}
}

func TestGenerateSubscribedIgnoresQuota(t *testing.T) {
	service, usage, _ := newFixture(true, domain.FreeMonthlyReplies*3)
	result, err := service.Generate(context.Background(), "user-1", 7, "пост")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !result.Success {
		t.Fatalf("подписка не должна упираться в квоту")
	}
	if usage.increments != 1 {
		t.Fatalf("учёт ведётся и для подписчиков")
	}
}

func TestGenerateDescriptionFallback(t *testing.T) {
	service, _, agent := newFixture(false, 0)
	if _, err := service.Generate(context.Background(), "user-1", 7, "пост"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if agent.descriptions[0] != "B2B lead tooling" {
		t.Fatalf("ожидали описание профиля, получили %q", agent.descriptions[0])
	}

	// Профиль без описания подменяется шаблоном из имени и сайта.
	icps := &stubICPRepo{icp: domain.ICP{ID: 7, UserID: "user-1", Name: "Acme", Website: "https://acme.io"}}
	agent2 := &stubAgent{reply: "generated reply"}
	notifier := notify.NewService(stubFlagRepo{}, nil, zerolog.Nop())
	ent := entitlement.NewService(&memCache{values: map[string][]byte{}}, icps, stubLeadRepo{}, notifier, zerolog.Nop())
	fallback := NewService(icps, &stubUsageRepo{}, agent2, ent)
	if _, err := fallback.Generate(context.Background(), "user-1", 7, "пост"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if agent2.descriptions[0] != "Product: Acme (https://acme.io)" {
		t.Fatalf("ожидали запасное описание, получили %q", agent2.descriptions[0])
	}
}

func TestGetUsage(t *testing.T) {
	service, _, _ := newFixture(false, 4)
	usage, err := service.GetUsage(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if usage.RepliesGenerated != 4 || usage.MonthlyLimit != domain.FreeMonthlyReplies {
		t.Fatalf("ожидали 4/%d, получили %d/%d", domain.FreeMonthlyReplies, usage.RepliesGenerated, usage.MonthlyLimit)
	}
	if usage.IsSubscribed {
		t.Fatalf("без подписки признак должен быть ложным")
	}
}
