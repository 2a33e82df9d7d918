package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner, token_mint,
	entry_price, entry_amount, token_amount, entry_trade_id,
	current_price, current_value, highest_price,
	unrealized_pnl, unrealized_pnl_pct, realized_pnl,
	stop_loss_price, take_profit_price, trailing_pct,
	exit_price, exit_amount, exit_reason, exit_trade_id,
	status, signal_id, opened_at, closed_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, exitReason string
	var stopLoss, takeProfit, trailingPct, exitPrice, exitAmount decimal.NullDecimal

	err := row.Scan(
		&p.ID, &p.Owner, &p.TokenMint,
		&p.EntryPrice, &p.EntryAmount, &p.TokenAmount, &p.EntryTradeID,
		&p.CurrentPrice, &p.CurrentValue, &p.HighestPrice,
		&p.UnrealizedPnL, &p.UnrealizedPnLPct, &p.RealizedPnL,
		&stopLoss, &takeProfit, &trailingPct,
		&exitPrice, &exitAmount, &exitReason, &p.ExitTradeID,
		&status, &p.SignalID, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.ExitReason(exitReason)
	p.StopLossPrice = decPtr(stopLoss)
	p.TakeProfitPrice = decPtr(takeProfit)
	p.TrailingPct = decPtr(trailingPct)
	p.ExitPrice = decPtr(exitPrice)
	p.ExitAmount = decPtr(exitAmount)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner, token_mint,
			entry_price, entry_amount, token_amount, entry_trade_id,
			current_price, current_value, highest_price,
			unrealized_pnl, unrealized_pnl_pct, realized_pnl,
			stop_loss_price, take_profit_price, trailing_pct,
			exit_price, exit_amount, exit_reason, exit_trade_id,
			status, signal_id, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Owner, p.TokenMint,
		p.EntryPrice, p.EntryAmount, p.TokenAmount, p.EntryTradeID,
		p.CurrentPrice, p.CurrentValue, p.HighestPrice,
		p.UnrealizedPnL, p.UnrealizedPnLPct, p.RealizedPnL,
		nullDec(p.StopLossPrice), nullDec(p.TakeProfitPrice), nullDec(p.TrailingPct),
		nullDec(p.ExitPrice), nullDec(p.ExitAmount), string(p.ExitReason), p.ExitTradeID,
		string(p.Status), p.SignalID, p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces the tick-mutable fields of an open position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price      = $2,
			current_value      = $3,
			highest_price      = $4,
			unrealized_pnl     = $5,
			unrealized_pnl_pct = $6,
			stop_loss_price    = $7,
			take_profit_price  = $8,
			updated_at         = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.CurrentPrice, p.CurrentValue, p.HighestPrice,
		p.UnrealizedPnL, p.UnrealizedPnLPct,
		nullDec(p.StopLossPrice), nullDec(p.TakeProfitPrice),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CloseOpen atomically closes an open position. The WHERE status = 'open'
// guard makes the transition a compare-and-set: a second closer sees zero
// rows affected.
func (s *PositionStore) CloseOpen(ctx context.Context, id string, cl domain.PositionClose) (bool, error) {
	const query = `
		UPDATE positions SET
			status        = 'closed',
			exit_price    = $2,
			exit_amount   = $3,
			exit_reason   = $4,
			exit_trade_id = $5,
			realized_pnl  = $6,
			closed_at     = $7,
			updated_at    = $7
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		id, cl.ExitPrice, cl.ExitAmount, string(cl.Reason), cl.ExitTradeID,
		cl.RealizedPnL, cl.ClosedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns open positions, optionally filtered by owner.
func (s *PositionStore) ListOpen(ctx context.Context, owner string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'open'`
	args := []any{}
	if owner != "" {
		query += ` AND owner = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY opened_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListOpenByToken returns all open positions holding the given token.
func (s *PositionStore) ListOpenByToken(ctx context.Context, tokenMint string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE token_mint = $1 AND status = 'open'
		 ORDER BY opened_at`, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open by token: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open by token: %w", err)
	}
	return positions, nil
}

// OpenTokenMints returns distinct token mints with open positions.
func (s *PositionStore) OpenTokenMints(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT token_mint FROM positions WHERE status = 'open'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: open token mints: %w", err)
	}
	defer rows.Close()

	var mints []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("postgres: scan token mint: %w", err)
		}
		mints = append(mints, m)
	}
	return mints, rows.Err()
}

// ListClosedBefore returns closed positions with closed_at before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed before: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed before: %w", err)
	}
	return positions, nil
}

// ListHistory returns positions for the given owner with pagination and
// optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1`
	args := []any{owner}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}
