package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"sublead/internal/domain"
	httpinfra "sublead/internal/infra/http"
	"sublead/internal/usecase/billing"
	"sublead/internal/usecase/configs"
	"sublead/internal/usecase/entitlement"
	"sublead/internal/usecase/leads"
	"sublead/internal/usecase/notify"
	"sublead/internal/usecase/redditauth"
	"sublead/internal/usecase/replies"
)

// api держит сервисы и вешает обработчики на роутер.
type api struct {
	accounts    domain.AccountRepo
	agent       domain.AgentGateway
	configs     *configs.Service
	leads       *leads.Service
	replies     *replies.Service
	billing     *billing.Service
	entitlement *entitlement.Service
	notifier    *notify.Service
	reddit      *redditauth.Service
	log         zerolog.Logger
}

func (a *api) routes(r chi.Router, jwtSecret string) {
	r.Route("/api/v1", func(r chi.Router) {
		// Публичные точки: вебхук Stripe и коллбэк Reddit OAuth.
		r.Post("/billing/webhook", a.handleStripeWebhook)
		r.Get("/auth/reddit/callback", a.handleRedditCallback)

		r.Group(func(protected chi.Router) {
			protected.Use(httpinfra.AuthMiddleware(jwtSecret))
			protected.Use(a.ensureAccount)

			protected.Get("/configs", a.handleListConfigs)
			protected.Post("/configs", a.handleCreateConfig)
			protected.Get("/configs/{id}", a.handleGetConfig)
			protected.Put("/configs/{id}", a.handleUpdateConfig)
			protected.Delete("/configs/{id}", a.handleDeleteConfig)
			protected.Post("/configs/{id}/seed", a.handleSeedConfig)
			protected.Post("/configs/disable-monitoring", a.handleDisableMonitoring)

			protected.Get("/leads", a.handleListLeads)
			protected.Get("/leads/count", a.handleCountLeads)
			protected.Patch("/leads/{id}/status", a.handleLeadStatus)
			protected.Post("/leads/search", a.handleLeadSearch)

			protected.Get("/subscription", a.handleSubscription)
			protected.Get("/lead-limit", a.handleLeadLimit)
			protected.Get("/usage", a.handleUsage)
			protected.Post("/replies", a.handleGenerateReply)
			protected.Post("/billing/checkout", a.handleCheckout)

			protected.Get("/auth/reddit", a.handleRedditConnect)
			protected.Get("/auth/reddit/status", a.handleRedditStatus)
			protected.Delete("/auth/reddit", a.handleRedditDisconnect)

			protected.Post("/tools/analyze-url", a.handleAnalyzeURL)
			protected.Post("/tools/suggestions", a.handleSuggestions)
			protected.Post("/tools/validate-subreddit", a.handleValidateSubreddit)

			protected.Get("/scheduler/next-scrape-time", a.handleNextScrapeTime)
			protected.Post("/scheduler/force-scrape", a.handleForceScrape)
			protected.Get("/scraper/status", a.handleScraperStatus)
			protected.Post("/scraper/skip-poll", a.handleSkipPoll)

			protected.Post("/account/icps-visited", a.handleICPsVisited)
		})
	})
}

// ensureAccount создаёт учётную запись при первом аутентифицированном
// запросе. Upsert по user_id, повторные вызовы ничего не меняют.
func (a *api) ensureAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := a.accounts.EnsureAccount(r.Context(), httpinfra.UserID(r)); err != nil {
			a.log.Error().Err(err).Msg("api: ensure account")
			httpinfra.WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- configs ---

type configRequest struct {
	Name        string   `json:"name"`
	Website     string   `json:"website"`
	Description string   `json:"description"`
	PainPoints  string   `json:"painPoints"`
	Keywords    []string `json:"keywords"`
	Subreddits  []string `json:"subreddits"`
}

type configResponse struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Website           string    `json:"website"`
	Description       string    `json:"description"`
	PainPoints        string    `json:"painPoints"`
	Keywords          []string  `json:"keywords"`
	Subreddits        []string  `json:"subreddits"`
	MonitoringEnabled bool      `json:"monitoringEnabled"`
	LeadLimit         int       `json:"leadLimit"`
	Seeded            bool      `json:"seeded"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toConfigResponse(icp domain.ICP) configResponse {
	return configResponse{
		ID:                icp.ID,
		Name:              icp.Name,
		Website:           icp.Website,
		Description:       icp.Data.Description,
		PainPoints:        icp.Data.PainPoints,
		Keywords:          icp.Data.Keywords,
		Subreddits:        icp.Data.Subreddits,
		MonitoringEnabled: icp.MonitoringEnabled,
		LeadLimit:         icp.LeadLimit,
		Seeded:            icp.Seeded,
		CreatedAt:         icp.CreatedAt,
		UpdatedAt:         icp.UpdatedAt,
	}
}

func (a *api) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	items, err := a.configs.List(r.Context(), httpinfra.UserID(r))
	if err != nil {
		a.log.Error().Err(err).Msg("api: list configs")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to fetch products")
		return
	}
	resp := make([]configResponse, 0, len(items))
	for _, icp := range items {
		resp = append(resp, toConfigResponse(icp))
	}
	httpinfra.WriteJSON(w, http.StatusOK, resp)
}

func (a *api) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	icp, err := a.configs.Create(r.Context(), httpinfra.UserID(r), configs.Input(req))
	if err != nil {
		a.writeConfigError(w, err, "Failed to create product")
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, toConfigResponse(icp))
}

func (a *api) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	icp, err := a.configs.Get(r.Context(), httpinfra.UserID(r), id)
	if err != nil {
		a.writeConfigError(w, err, "Failed to fetch product")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toConfigResponse(icp))
}

func (a *api) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	icp, err := a.configs.Update(r.Context(), httpinfra.UserID(r), id, configs.Input(req))
	if err != nil {
		a.writeConfigError(w, err, "Failed to update product")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toConfigResponse(icp))
}

func (a *api) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.configs.Delete(r.Context(), httpinfra.UserID(r), id); err != nil {
		a.writeConfigError(w, err, "Failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSeedConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.configs.Seed(r.Context(), httpinfra.UserID(r), id); err != nil {
		a.writeConfigError(w, err, "Failed to start lead seeding")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *api) handleDisableMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := a.configs.DisableMonitoring(r.Context(), httpinfra.UserID(r)); err != nil {
		a.log.Error().Err(err).Msg("api: disable monitoring")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to disable monitoring")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeConfigError переводит ошибки сервиса профилей в HTTP-ответы.
// Ошибки валидации показываются как есть, остальное скрывается.
func (a *api) writeConfigError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, configs.ErrICPLimit),
		errors.Is(err, configs.ErrNameRequired),
		errors.Is(err, configs.ErrDescriptionRequired),
		errors.Is(err, configs.ErrWebsiteInvalid):
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "Product not found")
	default:
		a.log.Error().Err(err).Msg("api: config operation")
		httpinfra.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// --- leads ---

type leadResponse struct {
	ID              int64                `json:"id"`
	ICPID           int64                `json:"icpId"`
	SubmissionID    string               `json:"submissionId"`
	Subreddit       string               `json:"subreddit"`
	Title           string               `json:"title"`
	Content         string               `json:"content"`
	URL             string               `json:"url"`
	LeadQuality     int                  `json:"leadQuality"`
	Analysis        *domain.LeadAnalysis `json:"analysis,omitempty"`
	Status          domain.LeadStatus    `json:"status"`
	RedditCreatedAt *time.Time           `json:"redditCreatedAt,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
}

func (a *api) handleListLeads(w http.ResponseWriter, r *http.Request) {
	items, err := a.leads.List(r.Context(), httpinfra.UserID(r))
	if err != nil {
		a.log.Error().Err(err).Msg("api: list leads")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to fetch leads")
		return
	}
	resp := make([]leadResponse, 0, len(items))
	for _, lead := range items {
		resp = append(resp, leadResponse{
			ID:              lead.ID,
			ICPID:           lead.ICPID,
			SubmissionID:    lead.SubmissionID,
			Subreddit:       lead.Subreddit,
			Title:           lead.Title,
			Content:         lead.Content,
			URL:             lead.URL,
			LeadQuality:     lead.LeadQuality,
			Analysis:        lead.Analysis,
			Status:          lead.Status,
			RedditCreatedAt: lead.RedditCreatedAt,
			CreatedAt:       lead.CreatedAt,
		})
	}
	httpinfra.WriteJSON(w, http.StatusOK, resp)
}

func (a *api) handleCountLeads(w http.ResponseWriter, r *http.Request) {
	count, err := a.leads.Count(r.Context(), httpinfra.UserID(r))
	if err != nil {
		a.log.Error().Err(err).Msg("api: count leads")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to count leads")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (a *api) handleLeadStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status domain.LeadStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	err := a.leads.UpdateStatus(r.Context(), httpinfra.UserID(r), id, req.Status)
	switch {
	case err == nil:
		httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, leads.ErrBadStatus):
		httpinfra.WriteError(w, http.StatusBadRequest, "Invalid status value")
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "Lead not found")
	default:
		a.log.Error().Err(err).Msg("api: lead status")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to update lead")
	}
}

func (a *api) handleLeadSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	// Тело необязательно.
	_ = json.NewDecoder(r.Body).Decode(&req)
	result, err := a.agent.TriggerLeadSearch(r.Context(), httpinfra.UserID(r), req.Limit)
	if err != nil {
		a.log.Error().Err(err).Msg("api: lead search")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to search for leads")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, result)
}

// --- entitlement / usage / replies ---

func (a *api) handleSubscription(w http.ResponseWriter, r *http.Request) {
	httpinfra.WriteJSON(w, http.StatusOK, a.entitlement.CheckSubscription(r.Context(), httpinfra.UserID(r)))
}

func (a *api) handleLeadLimit(w http.ResponseWriter, r *http.Request) {
	status, err := a.entitlement.CheckLeadLimit(r.Context(), httpinfra.UserID(r))
	if err != nil {
		a.log.Error().Err(err).Msg("api: lead limit")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to check lead limit")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, status)
}

func (a *api) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := a.replies.GetUsage(r.Context(), httpinfra.UserID(r))
	if err != nil {
		a.log.Error().Err(err).Msg("api: usage")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, usage)
}

func (a *api) handleGenerateReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ICPID      int64  `json:"icpId"`
		RedditPost string `json:"redditPost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RedditPost == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "redditPost is required")
		return
	}
	result, err := a.replies.Generate(r.Context(), httpinfra.UserID(r), req.ICPID, req.RedditPost)
	switch {
	case err == nil:
		httpinfra.WriteJSON(w, http.StatusOK, result)
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "Product not found")
	default:
		a.log.Error().Err(err).Msg("api: generate reply")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to generate reply")
	}
}

// --- billing ---

func (a *api) handleCheckout(w http.ResponseWriter, r *http.Request) {
	url, err := a.billing.CreateCheckoutSession(r.Context(), httpinfra.UserID(r), httpinfra.UserEmail(r))
	if err != nil {
		a.log.Error().Err(err).Msg("api: checkout")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *api) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	if err := a.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		a.log.Error().Err(err).Msg("api: stripe webhook")
		httpinfra.WriteError(w, http.StatusBadRequest, "Webhook processing failed")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// --- reddit oauth ---

func (a *api) handleRedditConnect(w http.ResponseWriter, r *http.Request) {
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{
		"url": a.reddit.AuthorizeURL(httpinfra.UserID(r)),
	})
}

func (a *api) handleRedditCallback(w http.ResponseWriter, r *http.Request) {
	target := a.reddit.HandleCallback(r.Context(), r.URL.Query().Get("code"), r.URL.Query().Get("state"))
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *api) handleRedditStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.reddit.Status(r.Context(), httpinfra.UserID(r))
	if err != nil {
		a.log.Error().Err(err).Msg("api: reddit status")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to fetch connection status")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, status)
}

func (a *api) handleRedditDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.reddit.Disconnect(r.Context(), httpinfra.UserID(r)); err != nil {
		a.log.Error().Err(err).Msg("api: reddit disconnect")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to disconnect Reddit account")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- tools (агент-сервис) ---

func (a *api) handleAnalyzeURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL            string `json:"url"`
		KeywordCount   int    `json:"keywordCount"`
		SubredditCount int    `json:"subredditCount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "url is required")
		return
	}
	analysis, err := a.agent.AnalyzeURL(r.Context(), req.URL, req.KeywordCount, req.SubredditCount)
	if err != nil {
		a.log.Error().Err(err).Msg("api: analyze url")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to analyze URL")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, analysis)
}

func (a *api) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
		PainPoints  string `json:"painPoints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Description == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "description is required")
		return
	}
	set, err := a.agent.GenerateSuggestions(r.Context(), req.Description, req.PainPoints)
	if err != nil {
		a.log.Error().Err(err).Msg("api: suggestions")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to generate suggestions")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, set)
}

func (a *api) handleValidateSubreddit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subreddit string `json:"subreddit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subreddit == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "subreddit is required")
		return
	}
	check, err := a.agent.ValidateSubreddit(r.Context(), req.Subreddit)
	if err != nil {
		a.log.Error().Err(err).Msg("api: validate subreddit")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to validate subreddit")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, check)
}

// --- scheduler / scraper ---

func (a *api) handleNextScrapeTime(w http.ResponseWriter, r *http.Request) {
	schedule, err := a.agent.NextScrapeTime(r.Context())
	if err != nil {
		a.log.Error().Err(err).Msg("api: next scrape time")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to fetch scrape schedule")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, schedule)
}

func (a *api) handleForceScrape(w http.ResponseWriter, r *http.Request) {
	if err := a.agent.TriggerScrape(r.Context()); err != nil {
		a.log.Error().Err(err).Msg("api: force scrape")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to trigger scrape")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *api) handleScraperStatus(w http.ResponseWriter, r *http.Request) {
	paused, err := a.notifier.ScraperPaused(r.Context())
	if err != nil {
		a.log.Error().Err(err).Msg("api: scraper status")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to fetch scraper status")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (a *api) handleSkipPoll(w http.ResponseWriter, r *http.Request) {
	if err := a.notifier.SkipPollPeriod(r.Context()); err != nil {
		a.log.Error().Err(err).Msg("api: skip poll")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to skip poll period")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- account ---

func (a *api) handleICPsVisited(w http.ResponseWriter, r *http.Request) {
	if err := a.accounts.MarkICPsVisited(r.Context(), httpinfra.UserID(r)); err != nil {
		a.log.Error().Err(err).Msg("api: icps visited")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Failed to update account")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}
