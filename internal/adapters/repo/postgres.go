package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var (
	_ domain.AccountRepo = (*Postgres)(nil)
	_ domain.ICPRepo     = (*Postgres)(nil)
	_ domain.LeadRepo    = (*Postgres)(nil)
	_ domain.FlagRepo    = (*Postgres)(nil)
	_ domain.UsageRepo   = (*Postgres)(nil)
)

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureAccount реализует domain.AccountRepo.
func (p *Postgres) EnsureAccount(ctx context.Context, userID string) (domain.Account, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var (
		account domain.Account
		created bool
	)
	err := p.pool.QueryRow(ctx, `
INSERT INTO accounts (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
RETURNING id, user_id, welcome_email_sent, has_visited_icps, created_at, updated_at, (xmax = 0) AS inserted
`, userID).Scan(&account.ID, &account.UserID, &account.WelcomeEmailSent, &account.HasVisitedICPs, &account.CreatedAt, &account.UpdatedAt, &created)
	metrics.ObserveNetworkRequest("postgres", "accounts_ensure", "accounts", start, err)
	if err != nil {
		return domain.Account{}, false, err
	}
	return account, created, nil
}

// GetByUserID возвращает учётную запись по subject пользователя.
func (p *Postgres) GetByUserID(ctx context.Context, userID string) (domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var (
		account      domain.Account
		accessToken  sql.NullString
		refreshToken sql.NullString
		username     sql.NullString
		expiresAt    sql.NullTime
	)
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, welcome_email_sent, has_visited_icps,
       reddit_access_token, reddit_refresh_token, reddit_username, reddit_token_expires_at,
       created_at, updated_at
FROM accounts WHERE user_id = $1
`, userID).Scan(&account.ID, &account.UserID, &account.WelcomeEmailSent, &account.HasVisitedICPs,
		&accessToken, &refreshToken, &username, &expiresAt, &account.CreatedAt, &account.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "accounts_get", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}
	account.RedditAccessToken = accessToken.String
	account.RedditRefreshToken = refreshToken.String
	account.RedditUsername = username.String
	if expiresAt.Valid {
		ts := expiresAt.Time
		account.RedditTokenExpiresAt = &ts
	}
	return account, nil
}

// SaveRedditTokens сохраняет токены Reddit OAuth на учётной записи.
func (p *Postgres) SaveRedditTokens(ctx context.Context, userID string, tokens domain.RedditTokens) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE accounts
SET reddit_access_token = $2, reddit_refresh_token = $3, reddit_username = $4,
    reddit_token_expires_at = $5, updated_at = now()
WHERE user_id = $1
`, userID, tokens.AccessToken, tokens.RefreshToken, tokens.Username, tokens.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "accounts_save_reddit_tokens", "accounts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClearRedditTokens отвязывает Reddit-аккаунт.
func (p *Postgres) ClearRedditTokens(ctx context.Context, userID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE accounts
SET reddit_access_token = NULL, reddit_refresh_token = NULL, reddit_username = NULL,
    reddit_token_expires_at = NULL, updated_at = now()
WHERE user_id = $1
`, userID)
	metrics.ObserveNetworkRequest("postgres", "accounts_clear_reddit_tokens", "accounts", start, err)
	return err
}

// MarkICPsVisited запоминает, что пользователь открыл страницу профилей.
func (p *Postgres) MarkICPsVisited(ctx context.Context, userID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE accounts SET has_visited_icps = true, updated_at = now() WHERE user_id = $1
`, userID)
	metrics.ObserveNetworkRequest("postgres", "accounts_mark_icps_visited", "accounts", start, err)
	return err
}

// MarkWelcomeEmailSent помечает приветственное письмо отправленным.
func (p *Postgres) MarkWelcomeEmailSent(ctx context.Context, userID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE accounts SET welcome_email_sent = true, updated_at = now() WHERE user_id = $1
`, userID)
	metrics.ObserveNetworkRequest("postgres", "accounts_mark_welcome_sent", "accounts", start, err)
	return err
}

// CreateICP реализует domain.ICPRepo.
func (p *Postgres) CreateICP(ctx context.Context, icp domain.ICP) (domain.ICP, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	data, err := json.Marshal(icp.Data)
	if err != nil {
		return domain.ICP{}, fmt.Errorf("marshal icp data: %w", err)
	}
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO icps (user_id, name, website, data, monitoring_enabled, lead_limit, seeded)
VALUES ($1, $2, $3, $4, $5, $6, false)
RETURNING id, user_id, name, website, data, monitoring_enabled, lead_limit, seeded, created_at, updated_at
`, icp.UserID, icp.Name, icp.Website, data, icp.MonitoringEnabled, icp.LeadLimit)
	created, err := scanICP(row)
	metrics.ObserveNetworkRequest("postgres", "icps_insert", "icps", start, err)
	if err != nil {
		return domain.ICP{}, err
	}
	return created, nil
}

// UpdateICP переписывает редактируемые поля профиля с проверкой владельца.
func (p *Postgres) UpdateICP(ctx context.Context, icp domain.ICP) (domain.ICP, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	data, err := json.Marshal(icp.Data)
	if err != nil {
		return domain.ICP{}, fmt.Errorf("marshal icp data: %w", err)
	}
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE icps
SET name = $3, website = $4, data = $5, updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING id, user_id, name, website, data, monitoring_enabled, lead_limit, seeded, created_at, updated_at
`, icp.ID, icp.UserID, icp.Name, icp.Website, data)
	updated, err := scanICP(row)
	metrics.ObserveNetworkRequest("postgres", "icps_update", "icps", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ICP{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ICP{}, err
	}
	return updated, nil
}

// DeleteICP удаляет профиль вместе с лидами в одной транзакции.
func (p *Postgres) DeleteICP(ctx context.Context, userID string, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "icps", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	_, err = tx.Exec(ctx, `
DELETE FROM reddit_posts
WHERE icp_id = (SELECT id FROM icps WHERE id = $1 AND user_id = $2)
`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "reddit_posts_delete_cascade", "reddit_posts", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	tag, err := tx.Exec(ctx, `DELETE FROM icps WHERE id = $1 AND user_id = $2`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "icps_delete", "icps", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "icps", start, err)
	return err
}

// GetICP возвращает профиль пользователя.
func (p *Postgres) GetICP(ctx context.Context, userID string, id int64) (domain.ICP, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, user_id, name, website, data, monitoring_enabled, lead_limit, seeded, created_at, updated_at
FROM icps WHERE id = $1 AND user_id = $2
`, id, userID)
	icp, err := scanICP(row)
	metrics.ObserveNetworkRequest("postgres", "icps_get", "icps", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ICP{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ICP{}, err
	}
	return icp, nil
}

// ListUserICPs возвращает профили пользователя.
func (p *Postgres) ListUserICPs(ctx context.Context, userID string) ([]domain.ICP, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, name, website, data, monitoring_enabled, lead_limit, seeded, created_at, updated_at
FROM icps WHERE user_id = $1 ORDER BY created_at
`, userID)
	metrics.ObserveNetworkRequest("postgres", "icps_list", "icps", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var icps []domain.ICP
	for rows.Next() {
		icp, err := scanICP(rows)
		if err != nil {
			return nil, err
		}
		icps = append(icps, icp)
	}
	return icps, rows.Err()
}

// CountUserICPs возвращает число профилей пользователя.
func (p *Postgres) CountUserICPs(ctx context.Context, userID string) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM icps WHERE user_id = $1`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "icps_count", "icps", start, err)
	return count, err
}

// SetMonitoringForUser переключает мониторинг у всех профилей пользователя
// и возвращает только реально изменившиеся строки.
func (p *Postgres) SetMonitoringForUser(ctx context.Context, userID string, enabled bool) ([]domain.ICP, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
UPDATE icps
SET monitoring_enabled = $2, updated_at = now()
WHERE user_id = $1 AND monitoring_enabled <> $2
RETURNING id, user_id, name, website, data, monitoring_enabled, lead_limit, seeded, created_at, updated_at
`, userID, enabled)
	metrics.ObserveNetworkRequest("postgres", "icps_set_monitoring", "icps", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changed []domain.ICP
	for rows.Next() {
		icp, err := scanICP(rows)
		if err != nil {
			return nil, err
		}
		changed = append(changed, icp)
	}
	return changed, rows.Err()
}

// SetLeadLimitForUser обновляет lead_limit у всех профилей пользователя.
func (p *Postgres) SetLeadLimitForUser(ctx context.Context, userID string, leadLimit int) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE icps SET lead_limit = $2, updated_at = now() WHERE user_id = $1
`, userID, leadLimit)
	metrics.ObserveNetworkRequest("postgres", "icps_set_lead_limit", "icps", start, err)
	return err
}

// MarkSeeded помечает профиль как прошедший первичное наполнение.
func (p *Postgres) MarkSeeded(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE icps SET seeded = true, updated_at = now() WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "icps_mark_seeded", "icps", start, err)
	return err
}

// ListUserLeads реализует domain.LeadRepo.
func (p *Postgres) ListUserLeads(ctx context.Context, userID string, limit int) ([]domain.Lead, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query := `
SELECT rp.id, rp.icp_id, rp.submission_id, rp.subreddit, rp.title, rp.content, rp.url,
       rp.lead_quality, rp.analysis_data, rp.lead_status, rp.reddit_created_at, rp.created_at, rp.updated_at
FROM reddit_posts rp
JOIN icps ON icps.id = rp.icp_id
WHERE icps.user_id = $1
ORDER BY rp.created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "reddit_posts_list", "reddit_posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// CountUserLeads считает лиды пользователя по всем профилям.
func (p *Postgres) CountUserLeads(ctx context.Context, userID string) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `
SELECT count(*)
FROM reddit_posts rp
JOIN icps ON icps.id = rp.icp_id
WHERE icps.user_id = $1
`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "reddit_posts_count", "reddit_posts", start, err)
	return count, err
}

// UpdateLeadStatus меняет статус лида; принадлежность проверяется join'ом,
// чужой лид неотличим от несуществующего.
func (p *Postgres) UpdateLeadStatus(ctx context.Context, userID string, leadID int64, status domain.LeadStatus) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE reddit_posts rp
SET lead_status = $3, updated_at = now()
FROM icps
WHERE rp.id = $1 AND icps.id = rp.icp_id AND icps.user_id = $2
`, leadID, userID, status)
	metrics.ObserveNetworkRequest("postgres", "reddit_posts_update_status", "reddit_posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetFlag реализует domain.FlagRepo (upsert по ключу).
func (p *Postgres) SetFlag(ctx context.Context, key string, value bool, description string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO system_flags (key, value, description, updated_at)
VALUES ($1, $2, NULLIF($3, ''), now())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value,
    description = COALESCE(EXCLUDED.description, system_flags.description),
    updated_at = now()
`, key, value, description)
	metrics.ObserveNetworkRequest("postgres", "system_flags_upsert", "system_flags", start, err)
	return err
}

// GetFlag возвращает значение флага; false при отсутствии строки.
func (p *Postgres) GetFlag(ctx context.Context, key string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var value bool
	err := p.pool.QueryRow(ctx, `SELECT value FROM system_flags WHERE key = $1`, key).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "system_flags_get", "system_flags", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value, nil
}

// GetMonthly реализует domain.UsageRepo.
func (p *Postgres) GetMonthly(ctx context.Context, userID string, month, year int) (domain.UsageTracking, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var usage domain.UsageTracking
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, month, year, replies_generated, qualified_leads, created_at, updated_at
FROM usage_tracking
WHERE user_id = $1 AND month = $2 AND year = $3
`, userID, month, year).Scan(&usage.ID, &usage.UserID, &usage.Month, &usage.Year,
		&usage.RepliesGenerated, &usage.QualifiedLeads, &usage.CreatedAt, &usage.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "usage_get_monthly", "usage_tracking", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UsageTracking{UserID: userID, Month: month, Year: year}, nil
	}
	if err != nil {
		return domain.UsageTracking{}, err
	}
	return usage, nil
}

// IncrementReplies атомарно увеличивает месячный счётчик ответов.
func (p *Postgres) IncrementReplies(ctx context.Context, userID string, month, year int) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var total int
	err := p.pool.QueryRow(ctx, `
INSERT INTO usage_tracking (user_id, month, year, replies_generated)
VALUES ($1, $2, $3, 1)
ON CONFLICT (user_id, month, year) DO UPDATE
SET replies_generated = usage_tracking.replies_generated + 1, updated_at = now()
RETURNING replies_generated
`, userID, month, year).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "usage_increment_replies", "usage_tracking", start, err)
	return total, err
}

func scanICP(row pgx.Row) (domain.ICP, error) {
	var (
		icp  domain.ICP
		data []byte
	)
	err := row.Scan(&icp.ID, &icp.UserID, &icp.Name, &icp.Website, &data,
		&icp.MonitoringEnabled, &icp.LeadLimit, &icp.Seeded, &icp.CreatedAt, &icp.UpdatedAt)
	if err != nil {
		return domain.ICP{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &icp.Data); err != nil {
			return domain.ICP{}, fmt.Errorf("decode icp data: %w", err)
		}
	}
	if icp.Data.Keywords == nil {
		icp.Data.Keywords = []string{}
	}
	if icp.Data.Subreddits == nil {
		icp.Data.Subreddits = []string{}
	}
	return icp, nil
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead     domain.Lead
		analysis []byte
		redditAt sql.NullTime
		status   string
	)
	err := row.Scan(&lead.ID, &lead.ICPID, &lead.SubmissionID, &lead.Subreddit, &lead.Title,
		&lead.Content, &lead.URL, &lead.LeadQuality, &analysis, &status, &redditAt,
		&lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return domain.Lead{}, err
	}
	lead.Status = domain.LeadStatus(status)
	if redditAt.Valid {
		ts := redditAt.Time
		lead.RedditCreatedAt = &ts
	}
	if len(analysis) > 0 {
		var parsed domain.LeadAnalysis
		if err := json.Unmarshal(analysis, &parsed); err != nil {
			return domain.Lead{}, fmt.Errorf("decode analysis data: %w", err)
		}
		lead.Analysis = &parsed
	}
	return lead, nil
}
