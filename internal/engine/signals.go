package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// SignalChannel is the bus channel that inbound call signals arrive on.
const SignalChannel = "signals"

// SignalIntake turns inbound call signals into queued auto-buy requests. The
// owner's risk config gates admission: signals are dropped when auto-buy is
// disabled, and the buy amount falls back to the owner's default when the
// signal does not suggest one. Malformed payloads are logged and skipped.
type SignalIntake struct {
	bus     domain.SignalBus
	risk    domain.RiskConfigStore
	autobuy *AutoBuyCoordinator
	owner   string
	logger  *slog.Logger
}

// NewSignalIntake creates a SignalIntake that enqueues buys for the given
// owner wallet.
func NewSignalIntake(
	bus domain.SignalBus,
	risk domain.RiskConfigStore,
	autobuy *AutoBuyCoordinator,
	owner string,
	logger *slog.Logger,
) *SignalIntake {
	return &SignalIntake{
		bus:     bus,
		risk:    risk,
		autobuy: autobuy,
		owner:   owner,
		logger:  logger.With(slog.String("component", "signal_intake")),
	}
}

// signalPayload is the wire shape of an inbound call signal.
type signalPayload struct {
	ID              string  `json:"id"`
	Source          string  `json:"source"`
	TokenMint       string  `json:"token_mint"`
	TokenSymbol     string  `json:"token_symbol"`
	SuggestedAmount *string `json:"suggested_amount,omitempty"`
	ReceivedAt      int64   `json:"received_at"` // unix millis
}

func (p signalPayload) toDomain() (domain.CallSignal, error) {
	sig := domain.CallSignal{
		ID:          p.ID,
		Source:      p.Source,
		TokenMint:   p.TokenMint,
		TokenSymbol: p.TokenSymbol,
		ReceivedAt:  time.UnixMilli(p.ReceivedAt).UTC(),
	}
	if p.SuggestedAmount != nil {
		amt, err := decimal.NewFromString(*p.SuggestedAmount)
		if err != nil {
			return domain.CallSignal{}, err
		}
		sig.SuggestedAmount = &amt
	}
	if sig.TokenMint == "" {
		return domain.CallSignal{}, errors.New("missing token_mint")
	}
	return sig, nil
}

// Run subscribes to the signal channel and enqueues until ctx is cancelled.
func (si *SignalIntake) Run(ctx context.Context) error {
	msgs, err := si.bus.Subscribe(ctx, SignalChannel)
	if err != nil {
		return err
	}
	si.logger.InfoContext(ctx, "signal intake started", slog.String("owner", si.owner))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			si.handle(ctx, raw)
		}
	}
}

func (si *SignalIntake) handle(ctx context.Context, raw []byte) {
	var payload signalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		si.logger.WarnContext(ctx, "malformed signal payload", slog.String("error", err.Error()))
		return
	}
	sig, err := payload.toDomain()
	if err != nil {
		si.logger.WarnContext(ctx, "invalid signal", slog.String("error", err.Error()))
		return
	}

	cfg, err := si.risk.Get(ctx, si.owner)
	if err != nil {
		si.logger.WarnContext(ctx, "risk config lookup failed",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()))
		return
	}
	if !cfg.AutoBuyEnabled {
		si.logger.DebugContext(ctx, "auto-buy disabled, signal dropped",
			slog.String("signal_id", sig.ID))
		return
	}

	amount := cfg.DefaultBuyAmount
	if sig.SuggestedAmount != nil && sig.SuggestedAmount.IsPositive() {
		amount = *sig.SuggestedAmount
	}

	id, err := si.autobuy.Enqueue(ctx, EnqueueParams{
		Owner:     si.owner,
		TokenMint: sig.TokenMint,
		Amount:    amount,
		SignalID:  sig.ID,
	})
	if err != nil {
		si.logger.WarnContext(ctx, "signal enqueue rejected",
			slog.String("signal_id", sig.ID),
			slog.String("token", sig.TokenMint),
			slog.String("error", err.Error()))
		return
	}

	si.logger.InfoContext(ctx, "signal enqueued",
		slog.String("signal_id", sig.ID),
		slog.String("token", sig.TokenMint),
		slog.String("request_id", id))
}
