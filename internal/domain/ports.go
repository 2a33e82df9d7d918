package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFeed supplies current prices and tick streams per token. Any caching
// of "latest price" belongs behind this port, never inside the engine.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, tokenMint string) (PriceTick, error)
	// Stream yields ticks for the given tokens until ctx is cancelled. The
	// returned channel is closed on cancellation or feed shutdown.
	Stream(ctx context.Context, tokenMints []string) (<-chan PriceTick, error)
}

// TradeRequest is a buy or sell submitted to the execution port.
type TradeRequest struct {
	Side           TradeSide
	TokenMint      string
	Owner          string
	Amount         decimal.Decimal // native currency for buys, token units for sells
	MaxSlippageBps int64
	PriceBound     *decimal.Decimal // optional limit on the executed price
	// IdempotencyKey must be stable across retries of the same logical trade
	// so the execution port can reconcile a timed-out submission against the
	// chain instead of double-executing.
	IdempotencyKey string
}

// Execution submits trades to the swap execution service and returns fills.
// A call that exceeds its deadline is reported as an error and must be
// treated as failed, never as silently successful.
type Execution interface {
	SubmitTrade(ctx context.Context, req TradeRequest) (Fill, error)
}
