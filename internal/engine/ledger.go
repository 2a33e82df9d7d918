package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// PositionLedger owns the position lifecycle state machine and its P&L
// arithmetic. Positions move OPEN -> CLOSED exactly once; Close is
// idempotent so that two exit rules firing on the same tick cannot produce
// two closes.
type PositionLedger struct {
	positions domain.PositionStore
	trailing  domain.TrailingStopStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewPositionLedger creates a PositionLedger with all required dependencies.
func NewPositionLedger(
	positions domain.PositionStore,
	trailing domain.TrailingStopStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionLedger {
	return &PositionLedger{
		positions: positions,
		trailing:  trailing,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "position_ledger")),
	}
}

// OpenParams carries everything needed to open a position from a confirmed
// buy fill.
type OpenParams struct {
	Owner     string
	TokenMint string
	SignalID  string

	// Fill is the confirmed buy: ExecutedAmount is the token units received,
	// AmountIn the native currency spent.
	Fill domain.Fill

	StopLossPrice   *decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	TrailingPct     *decimal.Decimal
}

// Open creates an OPEN position from a confirmed buy fill. The highest
// observed price starts at the entry price and both P&L figures start at
// zero. When a trailing percentage is set, the trailing-stop state is created
// in the same call; an out-of-range percentage is rejected before anything is
// persisted.
func (l *PositionLedger) Open(ctx context.Context, p OpenParams) (domain.Position, error) {
	if p.Fill.ExecutedPrice.LessThanOrEqual(decimal.Zero) || p.Fill.ExecutedAmount.LessThanOrEqual(decimal.Zero) {
		return domain.Position{}, fmt.Errorf("%w: open requires a positive fill", domain.ErrValidation)
	}

	now := time.Now().UTC()
	pos := domain.Position{
		ID:               uuid.New().String(),
		Owner:            p.Owner,
		TokenMint:        p.TokenMint,
		EntryPrice:       p.Fill.ExecutedPrice,
		EntryAmount:      p.Fill.AmountIn,
		TokenAmount:      p.Fill.ExecutedAmount,
		EntryTradeID:     p.Fill.TradeID,
		CurrentPrice:     p.Fill.ExecutedPrice,
		CurrentValue:     p.Fill.ExecutedPrice.Mul(p.Fill.ExecutedAmount),
		HighestPrice:     p.Fill.ExecutedPrice,
		UnrealizedPnL:    decimal.Zero,
		UnrealizedPnLPct: decimal.Zero,
		RealizedPnL:      decimal.Zero,
		StopLossPrice:    p.StopLossPrice,
		TakeProfitPrice:  p.TakeProfitPrice,
		TrailingPct:      p.TrailingPct,
		Status:           domain.PositionStatusOpen,
		SignalID:         p.SignalID,
		OpenedAt:         now,
		UpdatedAt:        now,
	}

	var trailingState *domain.TrailingStopState
	if p.TrailingPct != nil {
		st, err := NewTrailingStop(pos.ID, pos.EntryPrice, *p.TrailingPct, now)
		if err != nil {
			return domain.Position{}, fmt.Errorf("position_ledger: trailing stop: %w", err)
		}
		trailingState = &st
	}

	if err := l.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: create position: %w", err)
	}
	if trailingState != nil {
		if err := l.trailing.Create(ctx, *trailingState); err != nil {
			return domain.Position{}, fmt.Errorf("position_ledger: create trailing state: %w", err)
		}
	}

	l.publish(ctx, "positions", map[string]any{
		"event":       "position_opened",
		"position_id": pos.ID,
		"owner":       pos.Owner,
		"token":       pos.TokenMint,
		"entry_price": pos.EntryPrice.String(),
		"amount":      pos.TokenAmount.String(),
	})
	l.auditLog(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner,
		"token":       pos.TokenMint,
		"entry_price": pos.EntryPrice.String(),
		"signal_id":   pos.SignalID,
	})

	l.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("owner", pos.Owner),
		slog.String("token", pos.TokenMint),
		slog.String("entry_price", pos.EntryPrice.String()),
	)
	return pos, nil
}

// TickResult is the outcome of applying one tick to one position.
type TickResult struct {
	Position domain.Position
	// Trailing is nil for positions without a trailing stop.
	Trailing *domain.TrailingStopState
	Outcome  TrailingOutcome
}

// ApplyTick updates current price, value and unrealized P&L for the position
// and forwards the tick to the trailing-stop engine, absorbing any
// high-water-mark update. A tick on an already-closed position is logged and
// ignored so late ticks are harmless.
func (l *PositionLedger) ApplyTick(ctx context.Context, positionID string, tick domain.PriceTick) (TickResult, error) {
	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return TickResult{}, fmt.Errorf("position_ledger: get position %q: %w", positionID, err)
	}
	if !pos.IsOpen() {
		l.logger.DebugContext(ctx, "late tick on closed position, ignoring",
			slog.String("position_id", pos.ID),
			slog.String("token", pos.TokenMint),
		)
		return TickResult{Position: pos}, nil
	}

	pos.CurrentPrice = tick.Price
	pos.CurrentValue = tick.Price.Mul(pos.TokenAmount)
	pos.UnrealizedPnL = pos.CurrentValue.Sub(pos.EntryAmount)
	if pos.EntryAmount.IsPositive() {
		pos.UnrealizedPnLPct = pos.UnrealizedPnL.Div(pos.EntryAmount)
	}
	if tick.Price.GreaterThan(pos.HighestPrice) {
		pos.HighestPrice = tick.Price
	}
	pos.UpdatedAt = time.Now().UTC()

	result := TickResult{Position: pos}

	st, err := l.trailing.GetByPositionID(ctx, pos.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// No trailing stop configured for this position.
	case err != nil:
		return TickResult{}, fmt.Errorf("position_ledger: get trailing state %q: %w", pos.ID, err)
	default:
		result.Outcome = Observe(&st, tick.Price, tick.Timestamp)
		result.Trailing = &st
		if st.HighestPrice.GreaterThan(pos.HighestPrice) {
			pos.HighestPrice = st.HighestPrice
		}
		if err := l.trailing.Update(ctx, st); err != nil {
			return TickResult{}, fmt.Errorf("position_ledger: update trailing state %q: %w", pos.ID, err)
		}
	}

	result.Position = pos
	if err := l.positions.Update(ctx, pos); err != nil {
		return TickResult{}, fmt.Errorf("position_ledger: update position %q: %w", pos.ID, err)
	}
	return result, nil
}

// Close transitions a position from OPEN to CLOSED with the given exit fill
// and reason. The transition is terminal and idempotent: closing an
// already-closed position returns the existing result untouched, whatever
// reason the second caller carried.
func (l *PositionLedger) Close(ctx context.Context, positionID string, fill domain.Fill, reason domain.ExitReason) (domain.Position, error) {
	if !domain.ValidExitReason(reason) {
		return domain.Position{}, fmt.Errorf("%w: unknown exit reason %q", domain.ErrValidation, reason)
	}

	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: get position %q: %w", positionID, err)
	}
	if !pos.IsOpen() {
		return pos, nil
	}

	now := time.Now().UTC()
	realized := fill.ExecutedAmount.Sub(pos.EntryAmount)
	closeFields := domain.PositionClose{
		ExitPrice:   fill.ExecutedPrice,
		ExitAmount:  fill.ExecutedAmount,
		Reason:      reason,
		ExitTradeID: fill.TradeID,
		RealizedPnL: realized,
		ClosedAt:    now,
	}

	ok, err := l.positions.CloseOpen(ctx, pos.ID, closeFields)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: close position %q: %w", pos.ID, err)
	}
	if !ok {
		// Lost the close race: another worker already closed it. Absorb as a
		// no-op and return what is now in the store.
		closed, err := l.positions.GetByID(ctx, pos.ID)
		if err != nil {
			return domain.Position{}, fmt.Errorf("position_ledger: reload closed position %q: %w", pos.ID, err)
		}
		return closed, nil
	}

	l.deactivateTrailing(ctx, pos.ID)

	pos.Status = domain.PositionStatusClosed
	pos.ExitPrice = &closeFields.ExitPrice
	pos.ExitAmount = &closeFields.ExitAmount
	pos.ExitReason = reason
	pos.ExitTradeID = fill.TradeID
	pos.RealizedPnL = realized
	pos.ClosedAt = &now
	pos.UpdatedAt = now

	l.publish(ctx, "positions", map[string]any{
		"event":        "position_closed",
		"position_id":  pos.ID,
		"owner":        pos.Owner,
		"token":        pos.TokenMint,
		"exit_price":   closeFields.ExitPrice.String(),
		"realized_pnl": realized.String(),
		"reason":       string(reason),
	})
	l.auditLog(ctx, "position_closed", map[string]any{
		"position_id":  pos.ID,
		"owner":        pos.Owner,
		"exit_price":   closeFields.ExitPrice.String(),
		"realized_pnl": realized.String(),
		"reason":       string(reason),
	})

	l.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
		slog.String("exit_price", closeFields.ExitPrice.String()),
		slog.String("realized_pnl", realized.String()),
	)
	return pos, nil
}

// Get returns a single position.
func (l *PositionLedger) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := l.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: get %q: %w", id, err)
	}
	return pos, nil
}

// ListOpen returns open positions; owner == "" means all owners.
func (l *PositionLedger) ListOpen(ctx context.Context, owner string) ([]domain.Position, error) {
	positions, err := l.positions.ListOpen(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("position_ledger: list open for %q: %w", owner, err)
	}
	return positions, nil
}

// deactivateTrailing disables the trailing stop of a closed position so it is
// never evaluated again. A missing state is fine.
func (l *PositionLedger) deactivateTrailing(ctx context.Context, positionID string) {
	st, err := l.trailing.GetByPositionID(ctx, positionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.WarnContext(ctx, "trailing state lookup failed on close",
				slog.String("position_id", positionID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if !st.Active {
		return
	}
	st.Active = false
	if err := l.trailing.Update(ctx, st); err != nil {
		l.logger.WarnContext(ctx, "trailing state deactivate failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *PositionLedger) publish(ctx context.Context, channel string, payload map[string]any) {
	if l.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := l.bus.Publish(ctx, channel, data); err != nil {
		l.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (l *PositionLedger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
