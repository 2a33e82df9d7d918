package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionClose carries the exit fields written when a position closes.
type PositionClose struct {
	ExitPrice   decimal.Decimal
	ExitAmount  decimal.Decimal
	Reason      ExitReason
	ExitTradeID string
	RealizedPnL decimal.Decimal
	ClosedAt    time.Time
}

// PositionStore persists positions. The ledger store is the single source of
// truth; callers re-read current state immediately before mutating.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	// CloseOpen atomically closes an open position. It returns false when the
	// position was not open any more, in which case the caller lost the close
	// race and must treat the call as a no-op.
	CloseOpen(ctx context.Context, id string, close PositionClose) (bool, error)
	GetByID(ctx context.Context, id string) (Position, error)
	// ListOpen returns open positions; owner == "" means all owners.
	ListOpen(ctx context.Context, owner string) ([]Position, error)
	ListOpenByToken(ctx context.Context, tokenMint string) ([]Position, error)
	// OpenTokenMints returns the distinct token mints with at least one open
	// position, used to build the watch list for the price feed.
	OpenTokenMints(ctx context.Context) ([]string, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	ListHistory(ctx context.Context, owner string, opts ListOpts) ([]Position, error)
}

// TrailingStopStore persists per-position trailing-stop state.
type TrailingStopStore interface {
	Create(ctx context.Context, st TrailingStopState) error
	Update(ctx context.Context, st TrailingStopState) error
	GetByPositionID(ctx context.Context, positionID string) (TrailingStopState, error)
}

// AutoBuyStore persists queued buy intents. Claim is the compare-and-set
// primitive that guards against double execution.
type AutoBuyStore interface {
	Create(ctx context.Context, req AutoBuyRequest) error
	// Claim performs the atomic conditional pending -> processing transition.
	// It returns false when another worker already holds the request.
	Claim(ctx context.Context, id string) (bool, error)
	// ListPending returns pending requests ordered FIFO by creation time
	// within each owner.
	ListPending(ctx context.Context, limit int) ([]AutoBuyRequest, error)
	MarkCompleted(ctx context.Context, id, tradeID, positionID string) error
	MarkFailed(ctx context.Context, id, reason string) error
	GetByID(ctx context.Context, id string) (AutoBuyRequest, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]AutoBuyRequest, error)
}

// TradeStore persists trade records.
type TradeStore interface {
	Create(ctx context.Context, rec TradeRecord) error
	MarkConfirmed(ctx context.Context, id string, fill Fill, confirmedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	ListByPosition(ctx context.Context, positionID string) ([]TradeRecord, error)
	ListConfirmedBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
}

// RiskConfigStore persists per-wallet risk configuration.
type RiskConfigStore interface {
	Get(ctx context.Context, owner string) (UserRiskConfig, error)
	Upsert(ctx context.Context, cfg UserRiskConfig) error
}

// AlertStore persists one-shot price alerts.
type AlertStore interface {
	Create(ctx context.Context, alert PriceAlert) error
	ListActiveByToken(ctx context.Context, tokenMint string) ([]PriceAlert, error)
	// ActiveTokenMints returns the distinct token mints with at least one
	// untriggered alert, used to build the feed watch list.
	ActiveTokenMints(ctx context.Context) ([]string, error)
	// MarkTriggered flips the one-shot flag; returns false when the alert was
	// already triggered by a concurrent evaluation.
	MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]PriceAlert, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
