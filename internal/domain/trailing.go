package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrailingStopState is the per-position ratcheting stop. While active, the
// stop price always equals HighestPrice * (1 - TrailingPct) and both values
// are monotone non-decreasing. A triggered state is deactivated, never
// deleted, and never recomputed again.
type TrailingStopState struct {
	ID            string
	PositionID    string // unique per position
	HighestPrice  decimal.Decimal
	StopPrice     decimal.Decimal
	TrailingPct   decimal.Decimal // fraction in (0,1)
	Active        bool
	LastCheckedAt time.Time
	TriggeredAt   *time.Time
}

// Triggered reports whether the stop has fired at some point in the past.
func (s TrailingStopState) Triggered() bool {
	return s.TriggeredAt != nil
}
