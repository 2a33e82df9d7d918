package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solsignal/tradebot/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, owner, token_mint, position_id, direction,
	target_price, triggered, triggered_at, created_at`

func scanAlert(row pgx.Row) (domain.PriceAlert, error) {
	var a domain.PriceAlert
	var direction string
	err := row.Scan(
		&a.ID, &a.Owner, &a.TokenMint, &a.PositionID, &direction,
		&a.TargetPrice, &a.Triggered, &a.TriggeredAt, &a.CreatedAt,
	)
	if err != nil {
		return domain.PriceAlert{}, err
	}
	a.Direction = domain.AlertDirection(direction)
	return a, nil
}

func (s *AlertStore) Create(ctx context.Context, alert domain.PriceAlert) error {
	const query = `
		INSERT INTO price_alerts (
			id, owner, token_mint, position_id, direction,
			target_price, triggered, triggered_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		alert.ID, alert.Owner, alert.TokenMint, alert.PositionID, string(alert.Direction),
		alert.TargetPrice, alert.Triggered, alert.TriggeredAt, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create alert %s: %w", alert.ID, err)
	}
	return nil
}

func (s *AlertStore) ListActiveByToken(ctx context.Context, tokenMint string) ([]domain.PriceAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertSelectCols+` FROM price_alerts
		 WHERE token_mint = $1 AND triggered = FALSE
		 ORDER BY created_at`, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ActiveTokenMints returns distinct token mints with untriggered alerts.
func (s *AlertStore) ActiveTokenMints(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT token_mint FROM price_alerts WHERE triggered = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("postgres: active alert tokens: %w", err)
	}
	defer rows.Close()

	var mints []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("postgres: scan alert token: %w", err)
		}
		mints = append(mints, m)
	}
	return mints, rows.Err()
}

// MarkTriggered flips the one-shot flag. The triggered = FALSE guard means a
// concurrent evaluation observes false and skips the notification.
func (s *AlertStore) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
		UPDATE price_alerts SET triggered = TRUE, triggered_at = $2
		WHERE id = $1 AND triggered = FALSE`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("postgres: trigger alert %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *AlertStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.PriceAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM price_alerts WHERE owner = $1 ORDER BY created_at DESC`
	args := []any{owner}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts for %s: %w", owner, err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

func collectAlerts(rows pgx.Rows) ([]domain.PriceAlert, error) {
	var alerts []domain.PriceAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
