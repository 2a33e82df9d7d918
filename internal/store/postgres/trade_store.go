package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solsignal/tradebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, owner, token_mint, side,
	amount_in, amount_out, executed_price, slippage_bps, price_impact_pct,
	signature, status, error, raw_quote, created_at, confirmed_at`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side, status string

	err := row.Scan(
		&t.ID, &t.PositionID, &t.Owner, &t.TokenMint, &side,
		&t.AmountIn, &t.AmountOut, &t.ExecutedPrice, &t.SlippageBps, &t.PriceImpactPct,
		&t.Signature, &status, &t.Error, &t.RawQuote, &t.CreatedAt, &t.ConfirmedAt,
	)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	t.Side = domain.TradeSide(side)
	t.Status = domain.TradeStatus(status)
	return t, nil
}

func (s *TradeStore) Create(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, position_id, owner, token_mint, side,
			amount_in, amount_out, executed_price, slippage_bps, price_impact_pct,
			signature, status, error, raw_quote, created_at, confirmed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.PositionID, rec.Owner, rec.TokenMint, string(rec.Side),
		rec.AmountIn, rec.AmountOut, rec.ExecutedPrice, rec.SlippageBps, rec.PriceImpactPct,
		rec.Signature, string(rec.Status), rec.Error, rec.RawQuote, rec.CreatedAt, rec.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", rec.ID, err)
	}
	return nil
}

// MarkConfirmed writes the fill outcome onto a pending trade.
func (s *TradeStore) MarkConfirmed(ctx context.Context, id string, fill domain.Fill, confirmedAt time.Time) error {
	const query = `
		UPDATE trade_records SET
			status           = 'confirmed',
			executed_price   = $2,
			amount_out       = $3,
			amount_in        = $4,
			price_impact_pct = $5,
			signature        = $6,
			raw_quote        = $7,
			confirmed_at     = $8
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		id, fill.ExecutedPrice, fill.ExecutedAmount, fill.AmountIn,
		fill.PriceImpactPct, fill.Signature, fill.RawQuote, confirmedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: confirm trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *TradeStore) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE trade_records SET status = 'failed', error = $2
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: fail trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records WHERE id = $1`, id)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeRecord{}, domain.ErrNotFound
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *TradeStore) ListByPosition(ctx context.Context, positionID string) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records
		 WHERE position_id = $1 ORDER BY created_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for position %s: %w", positionID, err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

func (s *TradeStore) ListConfirmedBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records
		 WHERE status = 'confirmed' AND confirmed_at < $1
		 ORDER BY confirmed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list confirmed trades before: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
