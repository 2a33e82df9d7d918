package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallSignal is an inbound structured trade idea. Parsing raw signal text
// into this shape happens upstream; the engine only consumes the structured
// record to seed auto-buy requests.
type CallSignal struct {
	ID              string
	Source          string // channel or caller identifier
	TokenMint       string
	TokenSymbol     string
	SuggestedAmount *decimal.Decimal
	ReceivedAt      time.Time
}

// PriceTick is a single price observation for a token. Ticks are passed as
// explicit event parameters into the evaluation path; the engine keeps no
// ambient latest-price state of its own.
type PriceTick struct {
	TokenMint string
	Price     decimal.Decimal
	Source    string
	Volume24h *decimal.Decimal
	Liquidity *decimal.Decimal
	Timestamp time.Time
}
