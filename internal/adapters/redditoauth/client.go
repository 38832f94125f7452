package redditoauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
)

const (
	authURL     = "https://www.reddit.com/api/v1/authorize"
	tokenURL    = "https://www.reddit.com/api/v1/access_token"
	identityURL = "https://oauth.reddit.com/api/v1/me"
)

// Client реализует OAuth-обмен с Reddit через golang.org/x/oauth2.
type Client struct {
	conf       *oauth2.Config
	userAgent  string
	httpClient *http.Client
}

// New создаёт клиент. redirectURL — callback нашего API.
func New(clientID, clientSecret, redirectURL, userAgent string) *Client {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"identity", "read", "submit"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	client := &Client{
		conf:      conf,
		userAgent: userAgent,
	}
	client.httpClient = &http.Client{
		Timeout:   15 * time.Second,
		Transport: userAgentTransport{agent: userAgent, base: http.DefaultTransport},
	}
	return client
}

// AuthorizeURL строит URL авторизации Reddit.
func (c *Client) AuthorizeURL(state string) string {
	return c.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("duration", "permanent"))
}

// Exchange меняет код на токены и запрашивает имя пользователя Reddit.
func (c *Client) Exchange(ctx context.Context, code string) (domain.RedditTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := time.Now()
	token, err := c.conf.Exchange(ctx, code)
	metrics.ObserveNetworkRequest("reddit", "token_exchange", "oauth", start, err)
	if err != nil {
		return domain.RedditTokens{}, fmt.Errorf("exchange code: %w", err)
	}

	username, err := c.identity(ctx, token.AccessToken)
	if err != nil {
		return domain.RedditTokens{}, err
	}
	return domain.RedditTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Username:     username,
		ExpiresAt:    token.Expiry,
	}, nil
}

func (c *Client) identity(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identityURL, nil)
	if err != nil {
		return "", fmt.Errorf("create identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("reddit", "identity", "oauth", start, err)
	if err != nil {
		return "", fmt.Errorf("fetch identity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch identity: status %d", resp.StatusCode)
	}
	var me struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("decode identity: %w", err)
	}
	return me.Name, nil
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}

var _ domain.RedditAuthGateway = (*Client)(nil)
