package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoBuyStatus tracks the one-directional lifecycle of a queued buy intent.
type AutoBuyStatus string

const (
	AutoBuyStatusPending    AutoBuyStatus = "pending"
	AutoBuyStatusProcessing AutoBuyStatus = "processing"
	AutoBuyStatusCompleted  AutoBuyStatus = "completed"
	AutoBuyStatusFailed     AutoBuyStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal status
// transition. Statuses only move forward; completed and failed are terminal.
func (s AutoBuyStatus) CanTransition(next AutoBuyStatus) bool {
	switch s {
	case AutoBuyStatusPending:
		return next == AutoBuyStatusProcessing || next == AutoBuyStatusFailed
	case AutoBuyStatusProcessing:
		return next == AutoBuyStatusCompleted || next == AutoBuyStatusFailed
	default:
		return false
	}
}

// AutoBuyRequest is a queued intent to open a position. At most one worker
// may hold it in processing at a time; the claim is a conditional
// pending->processing transition in the ledger store.
type AutoBuyRequest struct {
	ID        string
	Owner     string
	SignalID  string // originating call, if any
	TokenMint string

	Amount         decimal.Decimal  // native currency to spend
	MaxPrice       *decimal.Decimal // price ceiling; nil means market
	MaxSlippageBps *int64

	Status AutoBuyStatus
	Error  string

	// Set once on completion.
	TradeID    string
	PositionID string

	CreatedAt   time.Time
	ProcessedAt *time.Time
}
