package redditauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
)

type stubAccounts struct {
	tokens  map[string]domain.RedditTokens
	cleared []string
}

func (s *stubAccounts) EnsureAccount(_ context.Context, userID string) (domain.Account, bool, error) {
	return domain.Account{UserID: userID}, false, nil
}
func (s *stubAccounts) GetByUserID(_ context.Context, userID string) (domain.Account, error) {
	tokens, ok := s.tokens[userID]
	account := domain.Account{UserID: userID}
	if ok {
		account.RedditAccessToken = tokens.AccessToken
		account.RedditUsername = tokens.Username
	}
	return account, nil
}
func (s *stubAccounts) SaveRedditTokens(_ context.Context, userID string, tokens domain.RedditTokens) error {
	if s.tokens == nil {
		s.tokens = map[string]domain.RedditTokens{}
	}
	s.tokens[userID] = tokens
	return nil
}
func (s *stubAccounts) ClearRedditTokens(_ context.Context, userID string) error {
	delete(s.tokens, userID)
	s.cleared = append(s.cleared, userID)
	return nil
}
func (s *stubAccounts) MarkICPsVisited(context.Context, string) error      { return nil }
func (s *stubAccounts) MarkWelcomeEmailSent(context.Context, string) error { return nil }

type stubGateway struct {
	lastState string
	tokens    domain.RedditTokens
	err       error
}

func (s *stubGateway) AuthorizeURL(state string) string {
	s.lastState = state
	return "https://www.reddit.com/api/v1/authorize?state=" + state
}
func (s *stubGateway) Exchange(context.Context, string) (domain.RedditTokens, error) {
	return s.tokens, s.err
}

func TestAuthorizeURLStateFormat(t *testing.T) {
	gateway := &stubGateway{}
	service := NewService(&stubAccounts{}, gateway, "https://app.test", zerolog.Nop())
	service.AuthorizeURL("user-abc-1")
	userID, err := parseState(gateway.lastState)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Идентификатор может содержать дефисы, отрезается только метка времени.
	if userID != "user-abc-1" {
		t.Fatalf("ожидали user-abc-1, получили %s", userID)
	}
}

func TestHandleCallbackStoresTokens(t *testing.T) {
	accounts := &stubAccounts{}
	gateway := &stubGateway{tokens: domain.RedditTokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		Username:     "lurker",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	service := NewService(accounts, gateway, "https://app.test", zerolog.Nop())

	target := service.HandleCallback(context.Background(), "code", "user-1-1700000000000")
	if !strings.Contains(target, "reddit_connected=true") {
		t.Fatalf("ожидали редирект успеха, получили %s", target)
	}
	if accounts.tokens["user-1"].Username != "lurker" {
		t.Fatalf("токены должны сохраниться на учётной записи")
	}
}

func TestHandleCallbackErrors(t *testing.T) {
	service := NewService(&stubAccounts{}, &stubGateway{err: errors.New("boom")}, "https://app.test", zerolog.Nop())

	if target := service.HandleCallback(context.Background(), "code", "nodash"); !strings.Contains(target, "error=invalid_state") {
		t.Fatalf("кривой state должен вести на error-редирект: %s", target)
	}
	if target := service.HandleCallback(context.Background(), "", "user-1-1"); !strings.Contains(target, "error=access_denied") {
		t.Fatalf("пустой код должен вести на error-редирект: %s", target)
	}
	if target := service.HandleCallback(context.Background(), "code", "user-1-1"); !strings.Contains(target, "error=token_exchange_failed") {
		t.Fatalf("сбой обмена должен вести на error-редирект: %s", target)
	}
}

func TestDisconnect(t *testing.T) {
	accounts := &stubAccounts{tokens: map[string]domain.RedditTokens{"user-1": {AccessToken: "at"}}}
	service := NewService(accounts, &stubGateway{}, "https://app.test", zerolog.Nop())
	if err := service.Disconnect(context.Background(), "user-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	status, err := service.Status(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status.Connected {
		t.Fatalf("после отвязки аккаунт не должен считаться подключённым")
	}
}
