package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/solsignal/tradebot/internal/domain"
)

// AutoBuyConfig holds the tunables for the auto-buy queue.
type AutoBuyConfig struct {
	Workers          int
	PollInterval     time.Duration
	ClaimBatch       int
	ExecutionTimeout time.Duration
}

// AutoBuyCoordinator admits and executes queued buy intents. Claiming a
// request is an atomic conditional pending -> processing transition in the
// store, which is the sole guard against double-executing one signal. A
// failed request is terminal; re-queueing is the caller's job, which bounds
// exposure to stale signals.
type AutoBuyCoordinator struct {
	queue    domain.AutoBuyStore
	risk     domain.RiskConfigStore
	feed     domain.PriceFeed
	exec     domain.Execution
	trades   domain.TradeStore
	ledger   *PositionLedger
	notifier ExitNotifier
	cfg      AutoBuyConfig
	logger   *slog.Logger
}

// NewAutoBuyCoordinator creates an AutoBuyCoordinator. notifier may be nil.
func NewAutoBuyCoordinator(
	queue domain.AutoBuyStore,
	risk domain.RiskConfigStore,
	feed domain.PriceFeed,
	exec domain.Execution,
	trades domain.TradeStore,
	ledger *PositionLedger,
	notifier ExitNotifier,
	cfg AutoBuyConfig,
	logger *slog.Logger,
) *AutoBuyCoordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 16
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	return &AutoBuyCoordinator{
		queue:    queue,
		risk:     risk,
		feed:     feed,
		exec:     exec,
		trades:   trades,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "autobuy_coordinator")),
	}
}

// EnqueueParams is the input for queueing a new buy intent.
type EnqueueParams struct {
	Owner          string
	TokenMint      string
	Amount         decimal.Decimal
	MaxPrice       *decimal.Decimal
	MaxSlippageBps *int64
	SignalID       string
}

// Enqueue validates and persists a new pending request, returning its ID.
// Malformed input is rejected synchronously and never stored as pending work.
func (c *AutoBuyCoordinator) Enqueue(ctx context.Context, p EnqueueParams) (string, error) {
	if p.Owner == "" || p.TokenMint == "" {
		return "", fmt.Errorf("%w: owner and token are required", domain.ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount %s must be positive", domain.ErrValidation, p.Amount.String())
	}
	if p.MaxPrice != nil && !p.MaxPrice.IsPositive() {
		return "", fmt.Errorf("%w: max price must be positive", domain.ErrValidation)
	}
	if p.MaxSlippageBps != nil && *p.MaxSlippageBps <= 0 {
		return "", fmt.Errorf("%w: slippage bound must be positive", domain.ErrValidation)
	}

	req := domain.AutoBuyRequest{
		ID:             uuid.New().String(),
		Owner:          p.Owner,
		SignalID:       p.SignalID,
		TokenMint:      p.TokenMint,
		Amount:         p.Amount,
		MaxPrice:       p.MaxPrice,
		MaxSlippageBps: p.MaxSlippageBps,
		Status:         domain.AutoBuyStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.queue.Create(ctx, req); err != nil {
		return "", fmt.Errorf("autobuy: enqueue: %w", err)
	}
	c.logger.InfoContext(ctx, "auto-buy request queued",
		slog.String("request_id", req.ID),
		slog.String("owner", req.Owner),
		slog.String("token", req.TokenMint),
		slog.String("amount", req.Amount.String()),
	)
	return req.ID, nil
}

// Run drains the queue with the configured number of workers until ctx is
// cancelled.
func (c *AutoBuyCoordinator) Run(ctx context.Context) error {
	c.logger.Info("autobuy coordinator started", slog.Int("workers", c.cfg.Workers))
	defer c.logger.Info("autobuy coordinator stopped")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			return c.worker(ctx)
		})
	}
	return g.Wait()
}

func (c *AutoBuyCoordinator) worker(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.drainOnce(ctx)
		}
	}
}

// drainOnce claims and processes as many pending requests as it can win in
// one pass. Losing a claim to another worker is not an error.
func (c *AutoBuyCoordinator) drainOnce(ctx context.Context) {
	pending, err := c.queue.ListPending(ctx, c.cfg.ClaimBatch)
	if err != nil {
		c.logger.WarnContext(ctx, "list pending failed",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, req := range pending {
		if ctx.Err() != nil {
			return
		}
		won, err := c.queue.Claim(ctx, req.ID)
		if err != nil {
			c.logger.WarnContext(ctx, "claim failed",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !won {
			continue
		}
		c.process(ctx, req)
	}
}

// process runs one claimed request through admission and execution.
func (c *AutoBuyCoordinator) process(ctx context.Context, req domain.AutoBuyRequest) {
	log := c.logger.With(
		slog.String("request_id", req.ID),
		slog.String("owner", req.Owner),
		slog.String("token", req.TokenMint),
	)

	slippage, err := c.admit(ctx, req)
	if err != nil {
		log.WarnContext(ctx, "admission denied", slog.String("error", err.Error()))
		c.fail(ctx, req, err.Error())
		return
	}

	rec := domain.TradeRecord{
		ID:          uuid.New().String(),
		Owner:       req.Owner,
		TokenMint:   req.TokenMint,
		Side:        domain.TradeSideBuy,
		AmountIn:    req.Amount,
		SlippageBps: slippage,
		Status:      domain.TradeStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.trades.Create(ctx, rec); err != nil {
		log.WarnContext(ctx, "record trade failed", slog.String("error", err.Error()))
		c.fail(ctx, req, "trade record: "+err.Error())
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.ExecutionTimeout)
	defer cancel()

	fill, err := c.exec.SubmitTrade(execCtx, domain.TradeRequest{
		Side:           domain.TradeSideBuy,
		TokenMint:      req.TokenMint,
		Owner:          req.Owner,
		Amount:         req.Amount,
		MaxSlippageBps: slippage,
		PriceBound:     req.MaxPrice,
		IdempotencyKey: "buy:" + req.ID,
	})
	if err != nil {
		// No automatic retry for buys: a fresh request must be re-queued.
		if mErr := c.trades.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
			log.WarnContext(ctx, "mark trade failed errored", slog.String("error", mErr.Error()))
		}
		log.WarnContext(ctx, "buy execution failed", slog.String("error", err.Error()))
		c.fail(ctx, req, err.Error())
		return
	}

	fill.TradeID = rec.ID
	now := time.Now().UTC()
	if err := c.trades.MarkConfirmed(ctx, rec.ID, fill, now); err != nil {
		log.WarnContext(ctx, "mark trade confirmed failed", slog.String("error", err.Error()))
	}

	pos, err := c.openPosition(ctx, req, fill)
	if err != nil {
		log.ErrorContext(ctx, "open position failed after confirmed buy",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.fail(ctx, req, "open position: "+err.Error())
		return
	}

	if err := c.queue.MarkCompleted(ctx, req.ID, rec.ID, pos.ID); err != nil {
		log.WarnContext(ctx, "mark completed failed", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "auto-buy completed",
		slog.String("position_id", pos.ID),
		slog.String("trade_id", rec.ID),
		slog.String("fill_price", fill.ExecutedPrice.String()),
	)

	if c.notifier != nil {
		title := fmt.Sprintf("Position opened: %s", req.TokenMint)
		msg := fmt.Sprintf("entry=%s amount=%s", fill.ExecutedPrice.String(), fill.ExecutedAmount.String())
		if nErr := c.notifier.Notify(ctx, "position_opened", title, msg); nErr != nil {
			log.WarnContext(ctx, "notification failed", slog.String("error", nErr.Error()))
		}
	}
}

// admit re-validates the request against the owner's risk configuration at
// processing time and returns the slippage bound to use. A denial is
// terminal and never reaches the execution port.
func (c *AutoBuyCoordinator) admit(ctx context.Context, req domain.AutoBuyRequest) (int64, error) {
	cfg, err := c.risk.Get(ctx, req.Owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("%w: no risk config for owner", domain.ErrAdmissionDenied)
		}
		return 0, fmt.Errorf("autobuy: risk config for %q: %w", req.Owner, err)
	}
	if !cfg.AutoBuyEnabled {
		return 0, fmt.Errorf("%w: auto-buy disabled", domain.ErrAdmissionDenied)
	}
	if cfg.MaxBuyAmount.IsPositive() && req.Amount.GreaterThan(cfg.MaxBuyAmount) {
		return 0, fmt.Errorf("%w: amount %s exceeds max position size %s",
			domain.ErrAdmissionDenied, req.Amount.String(), cfg.MaxBuyAmount.String())
	}

	slippage := cfg.DefaultSlippageBps
	if req.MaxSlippageBps != nil {
		slippage = *req.MaxSlippageBps
	}
	if cfg.MaxSlippageBps > 0 && slippage > cfg.MaxSlippageBps {
		return 0, fmt.Errorf("%w: slippage %d bps exceeds max %d bps",
			domain.ErrAdmissionDenied, slippage, cfg.MaxSlippageBps)
	}

	if req.MaxPrice != nil {
		tick, err := c.feed.CurrentPrice(ctx, req.TokenMint)
		if err != nil {
			return 0, fmt.Errorf("autobuy: price check for %q: %w", req.TokenMint, err)
		}
		if tick.Price.GreaterThan(*req.MaxPrice) {
			return 0, fmt.Errorf("%w: live price %s above ceiling %s",
				domain.ErrAdmissionDenied, tick.Price.String(), req.MaxPrice.String())
		}
	}
	return slippage, nil
}

// openPosition opens the ledger position for a confirmed buy, deriving exit
// levels from the owner's risk configuration.
func (c *AutoBuyCoordinator) openPosition(ctx context.Context, req domain.AutoBuyRequest, fill domain.Fill) (domain.Position, error) {
	params := OpenParams{
		Owner:     req.Owner,
		TokenMint: req.TokenMint,
		SignalID:  req.SignalID,
		Fill:      fill,
	}

	cfg, err := c.risk.Get(ctx, req.Owner)
	if err == nil {
		if cfg.StopLossPct != nil {
			sl := fill.ExecutedPrice.Mul(decimal.NewFromInt(1).Sub(*cfg.StopLossPct))
			params.StopLossPrice = &sl
		}
		if cfg.TakeProfitPct != nil {
			tp := fill.ExecutedPrice.Mul(decimal.NewFromInt(1).Add(*cfg.TakeProfitPct))
			params.TakeProfitPrice = &tp
		}
		if cfg.TrailingStopEnabled && cfg.TrailingPct.IsPositive() {
			pct := cfg.TrailingPct
			params.TrailingPct = &pct
		}
	}
	return c.ledger.Open(ctx, params)
}

func (c *AutoBuyCoordinator) fail(ctx context.Context, req domain.AutoBuyRequest, reason string) {
	if err := c.queue.MarkFailed(ctx, req.ID, reason); err != nil {
		c.logger.WarnContext(ctx, "mark failed errored",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetRequest returns a single auto-buy request, including its error detail
// when failed.
func (c *AutoBuyCoordinator) GetRequest(ctx context.Context, id string) (domain.AutoBuyRequest, error) {
	req, err := c.queue.GetByID(ctx, id)
	if err != nil {
		return domain.AutoBuyRequest{}, fmt.Errorf("autobuy: get %q: %w", id, err)
	}
	return req, nil
}
