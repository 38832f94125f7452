package configs

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
	"sublead/internal/usecase/entitlement"
	"sublead/internal/usecase/notify"
)

type memCache struct{}

func (memCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (memCache) Get(context.Context, string) ([]byte, error)              { return nil, domain.ErrCacheMiss }
func (memCache) Delete(context.Context, string) error                     { return nil }

type stubICPRepo struct {
	icps    []domain.ICP
	nextID  int64
	deleted []int64
}

func (s *stubICPRepo) CreateICP(_ context.Context, icp domain.ICP) (domain.ICP, error) {
	s.nextID++
	icp.ID = s.nextID
	s.icps = append(s.icps, icp)
	return icp, nil
}
func (s *stubICPRepo) UpdateICP(_ context.Context, icp domain.ICP) (domain.ICP, error) {
	for i, existing := range s.icps {
		if existing.ID == icp.ID && existing.UserID == icp.UserID {
			icp.MonitoringEnabled = existing.MonitoringEnabled
			icp.LeadLimit = existing.LeadLimit
			s.icps[i] = icp
			return icp, nil
		}
	}
	return domain.ICP{}, domain.ErrNotFound
}
func (s *stubICPRepo) DeleteICP(_ context.Context, userID string, id int64) error {
	for i, existing := range s.icps {
		if existing.ID == id && existing.UserID == userID {
			s.icps = append(s.icps[:i], s.icps[i+1:]...)
			s.deleted = append(s.deleted, id)
			return nil
		}
	}
	return domain.ErrNotFound
}
func (s *stubICPRepo) GetICP(_ context.Context, userID string, id int64) (domain.ICP, error) {
	for _, existing := range s.icps {
		if existing.ID == id && existing.UserID == userID {
			return existing, nil
		}
	}
	return domain.ICP{}, domain.ErrNotFound
}
func (s *stubICPRepo) ListUserICPs(_ context.Context, userID string) ([]domain.ICP, error) {
	var out []domain.ICP
	for _, existing := range s.icps {
		if existing.UserID == userID {
			out = append(out, existing)
		}
	}
	return out, nil
}
func (s *stubICPRepo) CountUserICPs(_ context.Context, userID string) (int, error) {
	items, _ := s.ListUserICPs(context.Background(), userID)
	return len(items), nil
}
func (s *stubICPRepo) SetMonitoringForUser(_ context.Context, userID string, enabled bool) ([]domain.ICP, error) {
	var changed []domain.ICP
	for i, existing := range s.icps {
		if existing.UserID == userID && existing.MonitoringEnabled != enabled {
			s.icps[i].MonitoringEnabled = enabled
			changed = append(changed, s.icps[i])
		}
	}
	return changed, nil
}
func (s *stubICPRepo) SetLeadLimitForUser(context.Context, string, int) error { return nil }
func (s *stubICPRepo) MarkSeeded(_ context.Context, id int64) error {
	for i, existing := range s.icps {
		if existing.ID == id {
			s.icps[i].Seeded = true
		}
	}
	return nil
}

type stubLeadRepo struct{}

func (stubLeadRepo) ListUserLeads(context.Context, string, int) ([]domain.Lead, error) {
	return nil, nil
}
func (stubLeadRepo) CountUserLeads(context.Context, string) (int, error) { return 0, nil }
func (stubLeadRepo) UpdateLeadStatus(context.Context, string, int64, domain.LeadStatus) error {
	return nil
}

type stubFlagRepo struct {
	flags map[string]bool
}

func (s *stubFlagRepo) SetFlag(_ context.Context, key string, value bool, _ string) error {
	if s.flags == nil {
		s.flags = map[string]bool{}
	}
	s.flags[key] = value
	return nil
}
func (s *stubFlagRepo) GetFlag(_ context.Context, key string) (bool, error) {
	return s.flags[key], nil
}

type stubAgent struct {
	seeded []int64
}

func (stubAgent) AnalyzeURL(context.Context, string, int, int) (domain.URLAnalysis, error) {
	return domain.URLAnalysis{}, nil
}
func (stubAgent) GenerateSuggestions(context.Context, string, string) (domain.SuggestionSet, error) {
	return domain.SuggestionSet{}, nil
}
func (stubAgent) ValidateSubreddit(context.Context, string) (domain.SubredditCheck, error) {
	return domain.SubredditCheck{}, nil
}
func (stubAgent) GenerateReply(context.Context, string, string) (string, error) { return "", nil }
func (stubAgent) TriggerLeadSearch(context.Context, string, int) (domain.LeadSearchResult, error) {
	return domain.LeadSearchResult{}, nil
}
func (stubAgent) NotifyConfigChange(context.Context, domain.ConfigChangeEvent) error { return nil }
func (stubAgent) UsageStatsFor(context.Context, string) (domain.UsageStats, error) {
	return domain.UsageStats{}, nil
}
func (stubAgent) NextScrapeTime(context.Context) (domain.ScrapeSchedule, error) {
	return domain.ScrapeSchedule{}, nil
}
func (stubAgent) TriggerScrape(context.Context) error { return nil }
func (a *stubAgent) TriggerInitialSeeding(_ context.Context, icpID int64) error {
	a.seeded = append(a.seeded, icpID)
	return nil
}

func newFixture() (*Service, *stubICPRepo, *stubFlagRepo) {
	repo := &stubICPRepo{}
	flags := &stubFlagRepo{}
	notifier := notify.NewService(flags, nil, zerolog.Nop())
	ent := entitlement.NewService(memCache{}, repo, stubLeadRepo{}, notifier, zerolog.Nop())
	service := NewService(repo, &stubAgent{}, ent, notifier, zerolog.Nop())
	return service, repo, flags
}

func validInput() Input {
	return Input{
		Name:        "Acme",
		Website:     "https://acme.io",
		Description: "B2B lead tooling",
	}
}

func TestCreateDefaults(t *testing.T) {
	service, _, flags := newFixture()
	icp, err := service.Create(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !icp.MonitoringEnabled {
		t.Fatalf("новый профиль должен мониториться")
	}
	if icp.LeadLimit != domain.FreeLeadLimit {
		t.Fatalf("ожидали лимит %d без подписки, получили %d", domain.FreeLeadLimit, icp.LeadLimit)
	}
	if icp.Data.Keywords == nil || icp.Data.Subreddits == nil {
		t.Fatalf("пустые массивы не должны превращаться в nil")
	}
	if !flags.flags[domain.FlagScraperRefreshNeeded] {
		t.Fatalf("создание должно поднимать флаг обновления")
	}
}

func TestCreateValidation(t *testing.T) {
	service, repo, _ := newFixture()
	cases := map[string]Input{
		"без имени":     {Website: "https://acme.io", Description: "d"},
		"без описания":  {Name: "Acme", Website: "https://acme.io"},
		"кривой сайт":   {Name: "Acme", Website: "not a url", Description: "d"},
		"без схемы URL": {Name: "Acme", Website: "acme.io", Description: "d"},
	}
	for name, input := range cases {
		if _, err := service.Create(context.Background(), "user-1", input); err == nil {
			t.Fatalf("%s: ожидали ошибку валидации", name)
		}
	}
	if len(repo.icps) != 0 {
		t.Fatalf("невалидный ввод не должен создавать строк")
	}
}

func TestCreateFourthRejected(t *testing.T) {
	service, repo, _ := newFixture()
	for i := 0; i < domain.MaxICPsPerUser; i++ {
		if _, err := service.Create(context.Background(), "user-1", validInput()); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	_, err := service.Create(context.Background(), "user-1", validInput())
	if !errors.Is(err, ErrICPLimit) {
		t.Fatalf("ожидали ErrICPLimit, получили %v", err)
	}
	if len(repo.icps) != domain.MaxICPsPerUser {
		t.Fatalf("отказ не должен вставлять строку")
	}
}

func TestUpdateRoundTripsArrays(t *testing.T) {
	service, _, _ := newFixture()
	created, err := service.Create(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	input := validInput()
	input.Keywords = []string{"crm", "sales", "crm"}
	input.Subreddits = []string{"r/sales", "r/startups"}
	updated, err := service.Update(context.Background(), "user-1", created.ID, input)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Порядок и дубликаты сохраняются как ввёл пользователь.
	if !reflect.DeepEqual(updated.Data.Keywords, input.Keywords) {
		t.Fatalf("ожидали %v, получили %v", input.Keywords, updated.Data.Keywords)
	}
	if !reflect.DeepEqual(updated.Data.Subreddits, input.Subreddits) {
		t.Fatalf("ожидали %v, получили %v", input.Subreddits, updated.Data.Subreddits)
	}
}

func TestUpdateForeignICP(t *testing.T) {
	service, _, _ := newFixture()
	created, _ := service.Create(context.Background(), "user-1", validInput())
	if _, err := service.Update(context.Background(), "user-2", created.ID, validInput()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("чужой профиль должен выглядеть отсутствующим, получили %v", err)
	}
}

func TestDeleteNotifies(t *testing.T) {
	service, repo, flags := newFixture()
	created, _ := service.Create(context.Background(), "user-1", validInput())
	flags.flags = map[string]bool{}
	if err := service.Delete(context.Background(), "user-1", created.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(repo.icps) != 0 {
		t.Fatalf("профиль должен быть удалён")
	}
	if !flags.flags[domain.FlagScraperRefreshNeeded] {
		t.Fatalf("удаление должно поднимать флаг обновления")
	}
}

func TestSeedOnlyOnce(t *testing.T) {
	repo := &stubICPRepo{}
	flags := &stubFlagRepo{}
	agent := &stubAgent{}
	notifier := notify.NewService(flags, nil, zerolog.Nop())
	ent := entitlement.NewService(memCache{}, repo, stubLeadRepo{}, notifier, zerolog.Nop())
	service := NewService(repo, agent, ent, notifier, zerolog.Nop())

	created, _ := service.Create(context.Background(), "user-1", validInput())
	if err := service.Seed(context.Background(), "user-1", created.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := service.Seed(context.Background(), "user-1", created.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(agent.seeded) != 1 {
		t.Fatalf("повторный засев не должен дёргать агента, вызовов: %d", len(agent.seeded))
	}
}
