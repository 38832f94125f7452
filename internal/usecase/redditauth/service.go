package redditauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sublead/internal/domain"
)

// ErrBadState возвращается, когда state коллбэка не разбирается.
var ErrBadState = errors.New("invalid oauth state")

// Status — состояние привязки Reddit для клиента.
type Status struct {
	Connected bool   `json:"connected"`
	Username  string `json:"username,omitempty"`
}

// Service проводит пользователя через OAuth-привязку Reddit-аккаунта.
type Service struct {
	accounts domain.AccountRepo
	gateway  domain.RedditAuthGateway
	appURL   string
	log      zerolog.Logger
}

// NewService создаёт сервис привязки Reddit.
func NewService(accounts domain.AccountRepo, gateway domain.RedditAuthGateway, appURL string, log zerolog.Logger) *Service {
	return &Service{accounts: accounts, gateway: gateway, appURL: appURL, log: log}
}

// AuthorizeURL возвращает адрес страницы согласия Reddit.
// state кодирует пользователя и момент запроса: "{userID}-{unixms}".
func (s *Service) AuthorizeURL(userID string) string {
	state := fmt.Sprintf("%s-%d", userID, time.Now().UnixMilli())
	return s.gateway.AuthorizeURL(state)
}

// HandleCallback обменивает код на токены и сохраняет их на учётной
// записи. Возвращает URL редиректа обратно в приложение; ошибка обмена
// тоже выражается редиректом с параметром error.
func (s *Service) HandleCallback(ctx context.Context, code, state string) string {
	userID, err := parseState(state)
	if err != nil {
		return s.redirect("error", "invalid_state")
	}
	if code == "" {
		return s.redirect("error", "access_denied")
	}
	tokens, err := s.gateway.Exchange(ctx, code)
	if err != nil {
		s.log.Warn().Err(err).Msg("redditauth: обмен кода не удался")
		return s.redirect("error", "token_exchange_failed")
	}
	if err := s.accounts.SaveRedditTokens(ctx, userID, tokens); err != nil {
		s.log.Error().Err(err).Msg("redditauth: сохранение токенов не удалось")
		return s.redirect("error", "storage_failed")
	}
	return s.redirect("reddit_connected", "true")
}

// Disconnect отвязывает Reddit-аккаунт.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	if err := s.accounts.ClearRedditTokens(ctx, userID); err != nil {
		return fmt.Errorf("отвязка аккаунта: %w", err)
	}
	return nil
}

// Status возвращает состояние привязки.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("чтение учётной записи: %w", err)
	}
	return Status{Connected: account.RedditConnected(), Username: account.RedditUsername}, nil
}

// parseState извлекает userID из state вида "{userID}-{unixms}".
// userID может сам содержать дефисы, поэтому отрезается последний сегмент.
func parseState(state string) (string, error) {
	i := strings.LastIndex(state, "-")
	if i <= 0 {
		return "", ErrBadState
	}
	return state[:i], nil
}

func (s *Service) redirect(key, value string) string {
	q := url.Values{key: {value}}
	return s.appURL + "/?" + q.Encode()
}
