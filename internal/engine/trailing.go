// Package engine implements the trading core: the trailing-stop engine, the
// position ledger, the exit coordinator driven by price ticks, and the
// auto-buy coordinator draining the request queue.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// TrailingOutcome is the result of observing one price tick against a
// trailing-stop state.
type TrailingOutcome int

const (
	// TrailingUnchanged means the tick neither raised the high-water mark nor
	// breached the stop.
	TrailingUnchanged TrailingOutcome = iota
	// TrailingUpdated means the high-water mark (and thus the stop price)
	// ratcheted upward.
	TrailingUpdated
	// TrailingTriggered means the tick breached the stop; the state has been
	// deactivated and stamped.
	TrailingTriggered
)

func (o TrailingOutcome) String() string {
	switch o {
	case TrailingUpdated:
		return "updated"
	case TrailingTriggered:
		return "triggered"
	default:
		return "unchanged"
	}
}

var one = decimal.NewFromInt(1)

// NewTrailingStop builds the initial trailing-stop state for a position. The
// percentage is a fraction and must lie strictly between 0 and 1; anything
// else is a configuration error rejected here, not at evaluation time.
func NewTrailingStop(positionID string, entryPrice, trailingPct decimal.Decimal, now time.Time) (domain.TrailingStopState, error) {
	if trailingPct.LessThanOrEqual(decimal.Zero) || trailingPct.GreaterThanOrEqual(one) {
		return domain.TrailingStopState{}, fmt.Errorf("%w: trailing percentage %s must be in (0,1)",
			domain.ErrValidation, trailingPct.String())
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return domain.TrailingStopState{}, fmt.Errorf("%w: entry price %s must be positive",
			domain.ErrValidation, entryPrice.String())
	}
	return domain.TrailingStopState{
		ID:            uuid.New().String(),
		PositionID:    positionID,
		HighestPrice:  entryPrice,
		StopPrice:     entryPrice.Mul(one.Sub(trailingPct)),
		TrailingPct:   trailingPct,
		Active:        true,
		LastCheckedAt: now,
	}, nil
}

// Observe applies one price tick to the state in place and reports what
// happened. It never fails: a tick on an inactive state is a no-op.
//
// If the price exceeds the high-water mark, the mark and the derived stop
// price (highest * (1 - pct)) ratchet up. Otherwise, if the price is at or
// below the stop price, the stop fires: the state is deactivated and stamped
// with the trigger time. Everything else just touches the check timestamp.
func Observe(st *domain.TrailingStopState, price decimal.Decimal, now time.Time) TrailingOutcome {
	if st == nil || !st.Active {
		return TrailingUnchanged
	}
	st.LastCheckedAt = now

	if price.GreaterThan(st.HighestPrice) {
		st.HighestPrice = price
		st.StopPrice = st.HighestPrice.Mul(one.Sub(st.TrailingPct))
		return TrailingUpdated
	}
	if price.LessThanOrEqual(st.StopPrice) {
		st.Active = false
		triggered := now
		st.TriggeredAt = &triggered
		return TrailingTriggered
	}
	return TrailingUnchanged
}
