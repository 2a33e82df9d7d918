package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserRiskConfig holds per-wallet trading limits and defaults. It is mutated
// only by explicit user action and read-only to the engine.
type UserRiskConfig struct {
	Owner string

	AutoBuyEnabled   bool
	DefaultBuyAmount decimal.Decimal
	MaxBuyAmount     decimal.Decimal

	DefaultSlippageBps int64
	MaxSlippageBps     int64

	TrailingStopEnabled bool
	TrailingPct         decimal.Decimal // fraction in (0,1)

	// Optional default exit levels applied at position open, as fractions of
	// the entry price (e.g. 0.20 stop-loss means exit at 80% of entry).
	StopLossPct   *decimal.Decimal
	TakeProfitPct *decimal.Decimal

	UpdatedAt time.Time
}
