package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertDirection states which side of the target price fires the alert.
type AlertDirection string

const (
	AlertAbove AlertDirection = "above"
	AlertBelow AlertDirection = "below"
)

// PriceAlert is a one-shot notification condition, optionally tied to a
// position. Triggering an alert produces a notification side effect only; it
// never closes a position.
type PriceAlert struct {
	ID          string
	Owner       string
	TokenMint   string
	PositionID  string // optional
	Direction   AlertDirection
	TargetPrice decimal.Decimal
	Triggered   bool
	TriggeredAt *time.Time
	CreatedAt   time.Time
}
