package replies

import (
	"context"
	"fmt"
	"time"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
	"sublead/internal/usecase/entitlement"
)

// Result — итог генерации ответа. При исчерпанной квоте Success=false
// и ShowUpgradeDialog=true, текст ответа пустой.
type Result struct {
	Success           bool   `json:"success"`
	Reply             string `json:"reply,omitempty"`
	Error             string `json:"error,omitempty"`
	ShowUpgradeDialog bool   `json:"showUpgradeDialog,omitempty"`
	RepliesUsed       int    `json:"repliesUsed,omitempty"`
	MonthlyLimit      int    `json:"monthlyLimit,omitempty"`
}

// Usage — месячные счётчики для клиента.
type Usage struct {
	RepliesGenerated int  `json:"repliesGenerated"`
	MonthlyLimit     int  `json:"monthlyLimit"`
	IsSubscribed     bool `json:"isSubscribed"`
}

// Service генерирует ответы на посты Reddit через агент-сервис
// и ведёт месячную квоту бесплатного тарифа.
type Service struct {
	icps        domain.ICPRepo
	usage       domain.UsageRepo
	agent       domain.AgentGateway
	entitlement *entitlement.Service
	now         func() time.Time
}

// NewService создаёт сервис ответов.
func NewService(icps domain.ICPRepo, usage domain.UsageRepo, agent domain.AgentGateway, ent *entitlement.Service) *Service {
	return &Service{icps: icps, usage: usage, agent: agent, entitlement: ent, now: time.Now}
}

// Generate создаёт ответ на пост от имени продукта. Без подписки после
// десятого ответа в месяце квота закрыта: отказ без инкремента счётчика.
func (s *Service) Generate(ctx context.Context, userID string, icpID int64, redditPost string) (Result, error) {
	now := s.now().UTC()
	month, year := int(now.Month()), now.Year()

	sub := s.entitlement.CheckSubscription(ctx, userID)
	if !sub.IsSubscribed {
		tracking, err := s.usage.GetMonthly(ctx, userID, month, year)
		if err != nil {
			return Result{}, fmt.Errorf("чтение счётчиков: %w", err)
		}
		if tracking.RepliesGenerated >= domain.FreeMonthlyReplies {
			metrics.RepliesRefused.Inc()
			return Result{
				Success:           false,
				Error:             "Monthly reply limit reached",
				ShowUpgradeDialog: true,
				RepliesUsed:       tracking.RepliesGenerated,
				MonthlyLimit:      domain.FreeMonthlyReplies,
			}, nil
		}
	}

	icp, err := s.icps.GetICP(ctx, userID, icpID)
	if err != nil {
		return Result{}, err
	}
	description := icp.Data.Description
	if description == "" {
		description = fmt.Sprintf("Product: %s (%s)", icp.Name, icp.Website)
	}

	reply, err := s.agent.GenerateReply(ctx, redditPost, description)
	if err != nil {
		return Result{}, fmt.Errorf("генерация ответа: %w", err)
	}

	// Инкремент только после успешной генерации; upsert атомарный.
	if _, err := s.usage.IncrementReplies(ctx, userID, month, year); err != nil {
		return Result{}, fmt.Errorf("учёт ответа: %w", err)
	}
	metrics.RepliesGenerated.Inc()
	return Result{Success: true, Reply: reply}, nil
}

// GetUsage возвращает месячные счётчики пользователя.
// Отсутствующая строка месяца означает ноль ответов.
func (s *Service) GetUsage(ctx context.Context, userID string) (Usage, error) {
	now := s.now().UTC()
	tracking, err := s.usage.GetMonthly(ctx, userID, int(now.Month()), now.Year())
	if err != nil {
		return Usage{}, fmt.Errorf("чтение счётчиков: %w", err)
	}
	sub := s.entitlement.CheckSubscription(ctx, userID)
	return Usage{
		RepliesGenerated: tracking.RepliesGenerated,
		MonthlyLimit:     domain.FreeMonthlyReplies,
		IsSubscribed:     sub.IsSubscribed,
	}, nil
}
