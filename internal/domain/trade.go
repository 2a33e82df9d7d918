package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide indicates whether this is a buy or sell.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeStatus tracks a submitted trade until it is confirmed or failed.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusConfirmed TradeStatus = "confirmed"
	TradeStatusFailed    TradeStatus = "failed"
)

// TradeRecord is the immutable record of one submitted trade. It is written
// once on submission, updated once on confirmation or failure, and referenced
// (never owned) by positions and auto-buy requests.
type TradeRecord struct {
	ID         string
	PositionID string // empty for entry trades until the position exists
	Owner      string
	TokenMint  string
	Side       TradeSide

	AmountIn       decimal.Decimal // what was spent (native for buys, tokens for sells)
	AmountOut      decimal.Decimal // what was received
	ExecutedPrice  decimal.Decimal
	SlippageBps    int64
	PriceImpactPct decimal.Decimal

	Signature string // unique chain signature once confirmed
	Status    TradeStatus
	Error     string
	RawQuote  []byte // quote snapshot as returned by the execution port

	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

// Fill is the realized outcome of an executed trade as reported by the
// execution port.
type Fill struct {
	TradeID        string
	ExecutedPrice  decimal.Decimal
	ExecutedAmount decimal.Decimal // native for sells, token units for buys
	AmountIn       decimal.Decimal
	PriceImpactPct decimal.Decimal
	Signature      string
	RawQuote       []byte
}
