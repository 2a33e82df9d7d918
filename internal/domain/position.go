package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// ExitReason records which rule (or actor) closed a position.
type ExitReason string

const (
	ExitReasonStopLoss        ExitReason = "stop_loss"
	ExitReasonTakeProfit      ExitReason = "take_profit"
	ExitReasonTrailingStop    ExitReason = "trailing_stop"
	ExitReasonManual          ExitReason = "manual"
	ExitReasonAutoBuyReversed ExitReason = "auto_buy_reversed"
)

// ValidExitReason reports whether r is one of the closed set of exit reasons.
func ValidExitReason(r ExitReason) bool {
	switch r {
	case ExitReasonStopLoss, ExitReasonTakeProfit, ExitReasonTrailingStop,
		ExitReasonManual, ExitReasonAutoBuyReversed:
		return true
	}
	return false
}

// Position represents one holding of a token by a wallet. A position is
// created from a confirmed buy fill, mutated on every price tick while open,
// and closed exactly once; after closing it is immutable.
type Position struct {
	ID        string
	Owner     string // wallet address
	TokenMint string

	EntryPrice   decimal.Decimal
	EntryAmount  decimal.Decimal // native currency spent at entry
	TokenAmount  decimal.Decimal // token units held
	EntryTradeID string

	CurrentPrice decimal.Decimal
	CurrentValue decimal.Decimal
	HighestPrice decimal.Decimal // non-decreasing while open

	UnrealizedPnL    decimal.Decimal
	UnrealizedPnLPct decimal.Decimal
	RealizedPnL      decimal.Decimal

	StopLossPrice   *decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	TrailingPct     *decimal.Decimal // fraction in (0,1)

	ExitPrice   *decimal.Decimal
	ExitAmount  *decimal.Decimal // native currency received at exit
	ExitReason  ExitReason       // empty while open
	ExitTradeID string

	Status   PositionStatus
	SignalID string // originating call, if any

	OpenedAt  time.Time
	ClosedAt  *time.Time
	UpdatedAt time.Time
}

// IsOpen reports whether the position can still be mutated by ticks.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}
