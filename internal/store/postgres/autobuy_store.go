package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// AutoBuyStore implements domain.AutoBuyStore using PostgreSQL.
type AutoBuyStore struct {
	pool *pgxpool.Pool
}

func NewAutoBuyStore(pool *pgxpool.Pool) *AutoBuyStore {
	return &AutoBuyStore{pool: pool}
}

const autobuySelectCols = `id, owner, signal_id, token_mint, amount, max_price,
	max_slippage_bps, status, error, trade_id, position_id, created_at, processed_at`

func scanAutoBuy(row pgx.Row) (domain.AutoBuyRequest, error) {
	var r domain.AutoBuyRequest
	var status string
	var maxPrice decimal.NullDecimal

	err := row.Scan(
		&r.ID, &r.Owner, &r.SignalID, &r.TokenMint, &r.Amount, &maxPrice,
		&r.MaxSlippageBps, &status, &r.Error, &r.TradeID, &r.PositionID,
		&r.CreatedAt, &r.ProcessedAt,
	)
	if err != nil {
		return domain.AutoBuyRequest{}, err
	}
	r.Status = domain.AutoBuyStatus(status)
	r.MaxPrice = decPtr(maxPrice)
	return r, nil
}

func (s *AutoBuyStore) Create(ctx context.Context, req domain.AutoBuyRequest) error {
	const query = `
		INSERT INTO autobuy_requests (
			id, owner, signal_id, token_mint, amount, max_price,
			max_slippage_bps, status, error, trade_id, position_id,
			created_at, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.Owner, req.SignalID, req.TokenMint, req.Amount,
		nullDec(req.MaxPrice), req.MaxSlippageBps, string(req.Status),
		req.Error, req.TradeID, req.PositionID, req.CreatedAt, req.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create autobuy request %s: %w", req.ID, err)
	}
	return nil
}

// Claim performs the compare-and-set pending -> processing transition. Exactly
// one caller observes rows affected > 0 for a given request.
func (s *AutoBuyStore) Claim(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE autobuy_requests
		SET status = 'processing', processed_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim autobuy request %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPending returns pending requests, FIFO within each owner.
func (s *AutoBuyStore) ListPending(ctx context.Context, limit int) ([]domain.AutoBuyRequest, error) {
	query := `SELECT ` + autobuySelectCols + `
		FROM autobuy_requests WHERE status = 'pending'
		ORDER BY owner, created_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending autobuy requests: %w", err)
	}
	defer rows.Close()

	var reqs []domain.AutoBuyRequest
	for rows.Next() {
		r, err := scanAutoBuy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan autobuy request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (s *AutoBuyStore) MarkCompleted(ctx context.Context, id, tradeID, positionID string) error {
	const query = `
		UPDATE autobuy_requests
		SET status = 'completed', trade_id = $2, position_id = $3, processed_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, tradeID, positionID)
	if err != nil {
		return fmt.Errorf("postgres: complete autobuy request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *AutoBuyStore) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE autobuy_requests
		SET status = 'failed', error = $2, processed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: fail autobuy request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *AutoBuyStore) GetByID(ctx context.Context, id string) (domain.AutoBuyRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+autobuySelectCols+` FROM autobuy_requests WHERE id = $1`, id)

	r, err := scanAutoBuy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AutoBuyRequest{}, domain.ErrNotFound
		}
		return domain.AutoBuyRequest{}, fmt.Errorf("postgres: get autobuy request %s: %w", id, err)
	}
	return r, nil
}

func (s *AutoBuyStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.AutoBuyRequest, error) {
	query := `SELECT ` + autobuySelectCols + ` FROM autobuy_requests WHERE owner = $1`
	args := []any{owner}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
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
		return nil, fmt.Errorf("postgres: list autobuy requests for %s: %w", owner, err)
	}
	defer rows.Close()

	var reqs []domain.AutoBuyRequest
	for rows.Next() {
		r, err := scanAutoBuy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan autobuy request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}
