package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// ExitNotifier receives exit outcome notifications. Implemented by the
// notify package; nil-able.
type ExitNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ExitCoordinatorConfig holds the tunables for exit evaluation.
type ExitCoordinatorConfig struct {
	// ExecutionTimeout bounds each sell submission. A call that exceeds it is
	// treated as failed; the position stays open and the next tick retries.
	ExecutionTimeout time.Duration
	// DefaultSlippageBps is used when the owner has no risk config.
	DefaultSlippageBps int64
	// LockTTL bounds the distributed per-position lock when a lock manager is
	// configured.
	LockTTL time.Duration
}

// ExitCoordinator evaluates stop-loss, take-profit, and trailing-stop rules
// for every open position on each price tick and submits at most one
// full-size sell per position per tick. Tick application for one position is
// serialized through a per-position mutex (and optionally a distributed lock
// across processes).
type ExitCoordinator struct {
	ledger    *PositionLedger
	positions domain.PositionStore
	risk      domain.RiskConfigStore
	trades    domain.TradeStore
	exec      domain.Execution
	locks     *keyedMutex
	distLocks domain.LockManager
	notifier  ExitNotifier
	cfg       ExitCoordinatorConfig
	logger    *slog.Logger
}

// NewExitCoordinator creates an ExitCoordinator. distLocks and notifier may
// be nil; in-process serialization always applies.
func NewExitCoordinator(
	ledger *PositionLedger,
	positions domain.PositionStore,
	risk domain.RiskConfigStore,
	trades domain.TradeStore,
	exec domain.Execution,
	distLocks domain.LockManager,
	notifier ExitNotifier,
	cfg ExitCoordinatorConfig,
	logger *slog.Logger,
) *ExitCoordinator {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	if cfg.DefaultSlippageBps <= 0 {
		cfg.DefaultSlippageBps = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &ExitCoordinator{
		ledger:    ledger,
		positions: positions,
		risk:      risk,
		trades:    trades,
		exec:      exec,
		locks:     newKeyedMutex(),
		distLocks: distLocks,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "exit_coordinator")),
	}
}

// OnPriceTick fans one tick out to every open position on the token. Errors
// on individual positions are logged and do not stop the pass; the next tick
// retries naturally.
func (c *ExitCoordinator) OnPriceTick(ctx context.Context, tick domain.PriceTick) {
	open, err := c.positions.ListOpenByToken(ctx, tick.TokenMint)
	if err != nil {
		c.logger.WarnContext(ctx, "list open positions failed",
			slog.String("token", tick.TokenMint),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, pos := range open {
		if err := c.processPosition(ctx, pos.ID, tick); err != nil {
			c.logger.WarnContext(ctx, "tick processing failed, will retry next tick",
				slog.String("position_id", pos.ID),
				slog.String("token", tick.TokenMint),
				slog.String("error", err.Error()),
			)
		}
	}
}

// processPosition applies the tick and evaluates exit rules for one position
// under per-position mutual exclusion.
func (c *ExitCoordinator) processPosition(ctx context.Context, positionID string, tick domain.PriceTick) error {
	release := c.locks.Lock(positionID)
	defer release()

	if c.distLocks != nil {
		unlock, err := c.distLocks.Acquire(ctx, "position:"+positionID, c.cfg.LockTTL)
		if err != nil {
			// Another process holds the position; it will apply this price
			// level on its own tick.
			return nil
		}
		defer unlock()
	}

	res, err := c.ledger.ApplyTick(ctx, positionID, tick)
	if err != nil {
		return err
	}
	pos := res.Position
	if !pos.IsOpen() {
		return nil
	}

	reason, ok := evaluateExit(pos, res.Trailing, res.Outcome, tick.Price)
	if !ok {
		return nil
	}
	return c.attemptExit(ctx, pos, tick, reason)
}

// evaluateExit applies the exit rules in fixed precedence: stop-loss breach,
// then take-profit breach, then trailing-stop trigger. First match wins so a
// tick satisfying several rules still produces exactly one exit.
//
// A trailing stop that fired on an earlier tick but whose sell failed is
// still pending (state inactive with a trigger stamp), so it keeps matching
// until the exit succeeds.
func evaluateExit(pos domain.Position, trailing *domain.TrailingStopState, outcome TrailingOutcome, price decimal.Decimal) (domain.ExitReason, bool) {
	if pos.StopLossPrice != nil && price.LessThanOrEqual(*pos.StopLossPrice) {
		return domain.ExitReasonStopLoss, true
	}
	if pos.TakeProfitPrice != nil && price.GreaterThanOrEqual(*pos.TakeProfitPrice) {
		return domain.ExitReasonTakeProfit, true
	}
	if outcome == TrailingTriggered {
		return domain.ExitReasonTrailingStop, true
	}
	if trailing != nil && trailing.Triggered() {
		return domain.ExitReasonTrailingStop, true
	}
	return "", false
}

// attemptExit submits a full-size sell and closes the position on success. On
// failure the position stays open and the failure is recorded; the idempotency
// key is derived from the position ID so a retried submission of the same exit
// cannot double-execute server-side.
func (c *ExitCoordinator) attemptExit(ctx context.Context, pos domain.Position, tick domain.PriceTick, reason domain.ExitReason) error {
	slippage := c.slippageFor(ctx, pos.Owner)

	rec := domain.TradeRecord{
		ID:          uuid.New().String(),
		PositionID:  pos.ID,
		Owner:       pos.Owner,
		TokenMint:   pos.TokenMint,
		Side:        domain.TradeSideSell,
		AmountIn:    pos.TokenAmount,
		SlippageBps: slippage,
		Status:      domain.TradeStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.trades.Create(ctx, rec); err != nil {
		return fmt.Errorf("exit_coordinator: record trade: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.ExecutionTimeout)
	defer cancel()

	fill, err := c.exec.SubmitTrade(execCtx, domain.TradeRequest{
		Side:           domain.TradeSideSell,
		TokenMint:      pos.TokenMint,
		Owner:          pos.Owner,
		Amount:         pos.TokenAmount,
		MaxSlippageBps: slippage,
		IdempotencyKey: "exit:" + pos.ID,
	})
	if err != nil {
		if mErr := c.trades.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
			c.logger.WarnContext(ctx, "mark trade failed errored",
				slog.String("trade_id", rec.ID),
				slog.String("error", mErr.Error()),
			)
		}
		c.logger.WarnContext(ctx, "exit sell failed, position stays open",
			slog.String("position_id", pos.ID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("exit_coordinator: submit sell for %s: %w", pos.ID, err)
	}

	fill.TradeID = rec.ID
	now := time.Now().UTC()
	if err := c.trades.MarkConfirmed(ctx, rec.ID, fill, now); err != nil {
		c.logger.WarnContext(ctx, "mark trade confirmed failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	closed, err := c.ledger.Close(ctx, pos.ID, fill, reason)
	if err != nil {
		return fmt.Errorf("exit_coordinator: close position %s: %w", pos.ID, err)
	}

	if c.notifier != nil {
		title := fmt.Sprintf("Position closed: %s", closed.TokenMint)
		msg := fmt.Sprintf("reason=%s exit=%s pnl=%s",
			reason, fill.ExecutedPrice.String(), closed.RealizedPnL.String())
		if nErr := c.notifier.Notify(ctx, "position_closed", title, msg); nErr != nil {
			c.logger.WarnContext(ctx, "exit notification failed",
				slog.String("position_id", pos.ID),
				slog.String("error", nErr.Error()),
			)
		}
	}
	return nil
}

// ClosePositionManually closes a position at the operator's request. It runs
// through the same serialized sell-then-close path as rule-driven exits.
func (c *ExitCoordinator) ClosePositionManually(ctx context.Context, positionID string, reason domain.ExitReason) (domain.Position, error) {
	if reason == "" {
		reason = domain.ExitReasonManual
	}
	if !domain.ValidExitReason(reason) {
		return domain.Position{}, fmt.Errorf("%w: unknown exit reason %q", domain.ErrValidation, reason)
	}

	release := c.locks.Lock(positionID)
	defer release()

	pos, err := c.ledger.Get(ctx, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if !pos.IsOpen() {
		return pos, nil
	}

	tick := domain.PriceTick{TokenMint: pos.TokenMint, Price: pos.CurrentPrice, Timestamp: time.Now().UTC()}
	if err := c.attemptExit(ctx, pos, tick, reason); err != nil {
		return domain.Position{}, err
	}
	return c.ledger.Get(ctx, positionID)
}

func (c *ExitCoordinator) slippageFor(ctx context.Context, owner string) int64 {
	cfg, err := c.risk.Get(ctx, owner)
	if err != nil || cfg.DefaultSlippageBps <= 0 {
		return c.cfg.DefaultSlippageBps
	}
	return cfg.DefaultSlippageBps
}
