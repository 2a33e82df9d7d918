package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solsignal/tradebot/internal/domain"
)

// TrailingStopStore implements domain.TrailingStopStore using PostgreSQL.
type TrailingStopStore struct {
	pool *pgxpool.Pool
}

func NewTrailingStopStore(pool *pgxpool.Pool) *TrailingStopStore {
	return &TrailingStopStore{pool: pool}
}

// Create inserts trailing-stop state for a position. The position_id unique
// constraint rejects a second state for the same position.
func (s *TrailingStopStore) Create(ctx context.Context, st domain.TrailingStopState) error {
	const query = `
		INSERT INTO trailing_stops (
			id, position_id, highest_price, stop_price, trailing_pct,
			active, last_checked_at, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		st.ID, st.PositionID, st.HighestPrice, st.StopPrice, st.TrailingPct,
		st.Active, st.LastCheckedAt, st.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trailing stop for %s: %w", st.PositionID, err)
	}
	return nil
}

// Update persists the ratchet and trigger fields.
func (s *TrailingStopStore) Update(ctx context.Context, st domain.TrailingStopState) error {
	const query = `
		UPDATE trailing_stops SET
			highest_price   = $2,
			stop_price      = $3,
			active          = $4,
			last_checked_at = $5,
			triggered_at    = $6
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		st.ID, st.HighestPrice, st.StopPrice, st.Active, st.LastCheckedAt, st.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trailing stop %s: %w", st.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *TrailingStopStore) GetByPositionID(ctx context.Context, positionID string) (domain.TrailingStopState, error) {
	const query = `
		SELECT id, position_id, highest_price, stop_price, trailing_pct,
		       active, last_checked_at, triggered_at
		FROM trailing_stops WHERE position_id = $1`

	var st domain.TrailingStopState
	err := s.pool.QueryRow(ctx, query, positionID).Scan(
		&st.ID, &st.PositionID, &st.HighestPrice, &st.StopPrice, &st.TrailingPct,
		&st.Active, &st.LastCheckedAt, &st.TriggeredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrailingStopState{}, domain.ErrNotFound
		}
		return domain.TrailingStopState{}, fmt.Errorf("postgres: get trailing stop for %s: %w", positionID, err)
	}
	return st, nil
}
