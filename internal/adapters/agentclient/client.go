package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
)

// Client ходит в HTTP API внешнего агент-сервиса (анализ, скоринг,
// генерация ответов, планировщик скрейпера).
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// New создаёт клиент агент-сервиса.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// AnalyzeURL просит агента разобрать сайт продукта.
func (c *Client) AnalyzeURL(ctx context.Context, siteURL string, keywordCount, subredditCount int) (domain.URLAnalysis, error) {
	payload := map[string]any{
		"url":             siteURL,
		"keyword_count":   keywordCount,
		"subreddit_count": subredditCount,
	}
	var analysis domain.URLAnalysis
	if err := c.post(ctx, "/api/analyze-url", payload, &analysis); err != nil {
		return domain.URLAnalysis{}, err
	}
	return analysis, nil
}

// GenerateSuggestions запрашивает ключевые слова и сабреддиты по описанию.
func (c *Client) GenerateSuggestions(ctx context.Context, description, painPoints string) (domain.SuggestionSet, error) {
	payload := map[string]any{
		"description": description,
		"pain_points": painPoints,
	}
	var suggestions domain.SuggestionSet
	if err := c.post(ctx, "/api/generate-suggestions", payload, &suggestions); err != nil {
		return domain.SuggestionSet{}, err
	}
	return suggestions, nil
}

// ValidateSubreddit проверяет существование сабреддита.
func (c *Client) ValidateSubreddit(ctx context.Context, name string) (domain.SubredditCheck, error) {
	payload := map[string]any{"subreddit_name": name}
	var check domain.SubredditCheck
	if err := c.post(ctx, "/api/validate-subreddit", payload, &check); err != nil {
		return domain.SubredditCheck{}, err
	}
	return check, nil
}

// GenerateReply просит агента написать черновик ответа на пост.
func (c *Client) GenerateReply(ctx context.Context, redditPost, productDescription string) (string, error) {
	payload := map[string]any{
		"reddit_post":         redditPost,
		"product_description": productDescription,
	}
	var result struct {
		Reply string `json:"reply"`
	}
	if err := c.post(ctx, "/api/generate-reply", payload, &result); err != nil {
		return "", err
	}
	return result.Reply, nil
}

// TriggerLeadSearch запускает принудительный поиск лидов.
func (c *Client) TriggerLeadSearch(ctx context.Context, userID string, limit int) (domain.LeadSearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	payload := map[string]any{
		"user_id": userID,
		"limit":   limit,
	}
	var result domain.LeadSearchResult
	if err := c.post(ctx, "/api/trigger-lead-search", payload, &result); err != nil {
		return domain.LeadSearchResult{}, err
	}
	return result, nil
}

// NotifyConfigChange доставляет агенту событие изменения конфигурации.
func (c *Client) NotifyConfigChange(ctx context.Context, event domain.ConfigChangeEvent) error {
	return c.post(ctx, "/api/icp-config-change", event, nil)
}

// UsageStatsFor возвращает агрегированную статистику пользователя.
func (c *Client) UsageStatsFor(ctx context.Context, userID string) (domain.UsageStats, error) {
	payload := map[string]any{"user_id": userID}
	var stats domain.UsageStats
	if err := c.post(ctx, "/api/usage-stats", payload, &stats); err != nil {
		return domain.UsageStats{}, err
	}
	return stats, nil
}

// NextScrapeTime возвращает время следующего прохода скрейпера.
func (c *Client) NextScrapeTime(ctx context.Context) (domain.ScrapeSchedule, error) {
	var schedule domain.ScrapeSchedule
	if err := c.get(ctx, "/scheduler/next-scrape-time", &schedule); err != nil {
		return domain.ScrapeSchedule{}, err
	}
	return schedule, nil
}

// TriggerScrape запускает внеочередной проход скрейпера.
func (c *Client) TriggerScrape(ctx context.Context) error {
	return c.post(ctx, "/scheduler/trigger-scrape", nil, nil)
}

// TriggerInitialSeeding запускает первичное наполнение профиля лидами.
func (c *Client) TriggerInitialSeeding(ctx context.Context, icpID int64) error {
	payload := map[string]any{"icp_id": icpID}
	return c.post(ctx, "/scheduler/trigger-initial-seeding", payload, nil)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, endpoint, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(req, endpoint, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("agent", strings.ToLower(req.Method), endpoint, start, err)
	if err != nil {
		return fmt.Errorf("agent api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		message := apiErr.Detail
		if message == "" {
			message = apiErr.Error
		}
		if message == "" {
			message = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("agent api error: status=%d message=%s", resp.StatusCode, message)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ domain.AgentGateway = (*Client)(nil)
