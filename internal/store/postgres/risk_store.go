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

// RiskConfigStore implements domain.RiskConfigStore using PostgreSQL.
type RiskConfigStore struct {
	pool *pgxpool.Pool
}

func NewRiskConfigStore(pool *pgxpool.Pool) *RiskConfigStore {
	return &RiskConfigStore{pool: pool}
}

func (s *RiskConfigStore) Get(ctx context.Context, owner string) (domain.UserRiskConfig, error) {
	const query = `
		SELECT owner, auto_buy_enabled, default_buy_amount, max_buy_amount,
		       default_slippage_bps, max_slippage_bps,
		       trailing_stop_enabled, trailing_pct,
		       stop_loss_pct, take_profit_pct, updated_at
		FROM risk_configs WHERE owner = $1`

	var cfg domain.UserRiskConfig
	var stopLoss, takeProfit decimal.NullDecimal

	err := s.pool.QueryRow(ctx, query, owner).Scan(
		&cfg.Owner, &cfg.AutoBuyEnabled, &cfg.DefaultBuyAmount, &cfg.MaxBuyAmount,
		&cfg.DefaultSlippageBps, &cfg.MaxSlippageBps,
		&cfg.TrailingStopEnabled, &cfg.TrailingPct,
		&stopLoss, &takeProfit, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserRiskConfig{}, domain.ErrNotFound
		}
		return domain.UserRiskConfig{}, fmt.Errorf("postgres: get risk config for %s: %w", owner, err)
	}
	cfg.StopLossPct = decPtr(stopLoss)
	cfg.TakeProfitPct = decPtr(takeProfit)
	return cfg, nil
}

func (s *RiskConfigStore) Upsert(ctx context.Context, cfg domain.UserRiskConfig) error {
	const query = `
		INSERT INTO risk_configs (
			owner, auto_buy_enabled, default_buy_amount, max_buy_amount,
			default_slippage_bps, max_slippage_bps,
			trailing_stop_enabled, trailing_pct,
			stop_loss_pct, take_profit_pct, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner) DO UPDATE SET
			auto_buy_enabled      = EXCLUDED.auto_buy_enabled,
			default_buy_amount    = EXCLUDED.default_buy_amount,
			max_buy_amount        = EXCLUDED.max_buy_amount,
			default_slippage_bps  = EXCLUDED.default_slippage_bps,
			max_slippage_bps      = EXCLUDED.max_slippage_bps,
			trailing_stop_enabled = EXCLUDED.trailing_stop_enabled,
			trailing_pct          = EXCLUDED.trailing_pct,
			stop_loss_pct         = EXCLUDED.stop_loss_pct,
			take_profit_pct       = EXCLUDED.take_profit_pct,
			updated_at            = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		cfg.Owner, cfg.AutoBuyEnabled, cfg.DefaultBuyAmount, cfg.MaxBuyAmount,
		cfg.DefaultSlippageBps, cfg.MaxSlippageBps,
		cfg.TrailingStopEnabled, cfg.TrailingPct,
		nullDec(cfg.StopLossPct), nullDec(cfg.TakeProfitPct), cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert risk config for %s: %w", cfg.Owner, err)
	}
	return nil
}
