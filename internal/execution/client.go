// Package execution submits trades to the external swap execution service.
// The service owns key custody, quoting, signing, and chain settlement; this
// client only requests swaps and reports fills.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

const (
	submitLimitKey    = "swap_submit"
	submitLimit       = 5
	submitLimitWindow = time.Second

	responseLimit = 1 << 20
)

// ClientConfig holds connection parameters for the swap service.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the REST client for the swap execution service. It implements
// domain.Execution.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter // optional
}

// New creates a swap client. limiter may be nil.
func New(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

type swapRequest struct {
	Side           string  `json:"side"`
	TokenMint      string  `json:"token_mint"`
	Owner          string  `json:"owner"`
	Amount         string  `json:"amount"`
	MaxSlippageBps int64   `json:"max_slippage_bps"`
	PriceBound     *string `json:"price_bound,omitempty"`
}

type swapResponse struct {
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	TradeID        string          `json:"trade_id"`
	ExecutedPrice  string          `json:"executed_price"`
	ExecutedAmount string          `json:"executed_amount"`
	AmountIn       string          `json:"amount_in"`
	PriceImpactPct string          `json:"price_impact_pct"`
	Signature      string          `json:"signature"`
	Quote          json.RawMessage `json:"quote,omitempty"`
}

// SubmitTrade submits a buy or sell and waits for the fill. The idempotency
// key is forwarded so the service can deduplicate retries of the same logical
// trade. A deadline hit surfaces as an error; the trade is treated as failed.
func (c *Client) SubmitTrade(ctx context.Context, req domain.TradeRequest) (domain.Fill, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, submitLimitKey, submitLimit, submitLimitWindow); err != nil {
			return domain.Fill{}, fmt.Errorf("execution: rate limit: %w", err)
		}
	}

	payload := swapRequest{
		Side:           string(req.Side),
		TokenMint:      req.TokenMint,
		Owner:          req.Owner,
		Amount:         req.Amount.String(),
		MaxSlippageBps: req.MaxSlippageBps,
	}
	if req.PriceBound != nil {
		s := req.PriceBound.String()
		payload.PriceBound = &s
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("execution: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return domain.Fill{}, fmt.Errorf("execution: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return domain.Fill{}, fmt.Errorf("execution: submit %s: deadline exceeded: %w", req.IdempotencyKey, domain.ErrExecution)
		}
		return domain.Fill{}, fmt.Errorf("execution: submit %s: %w", req.IdempotencyKey, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return domain.Fill{}, fmt.Errorf("execution: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Fill{}, fmt.Errorf("execution: submit %s: status %d: %s: %w",
			req.IdempotencyKey, resp.StatusCode, respBody, domain.ErrExecution)
	}

	var sr swapResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return domain.Fill{}, fmt.Errorf("execution: decode response: %w", err)
	}
	if !sr.Success {
		return domain.Fill{}, fmt.Errorf("execution: swap rejected: %s: %w", sr.Error, domain.ErrExecution)
	}

	fill, err := sr.toFill()
	if err != nil {
		return domain.Fill{}, fmt.Errorf("execution: parse fill: %w", err)
	}
	return fill, nil
}

func (r swapResponse) toFill() (domain.Fill, error) {
	price, err := decimal.NewFromString(r.ExecutedPrice)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executed_price %q: %w", r.ExecutedPrice, err)
	}
	amount, err := decimal.NewFromString(r.ExecutedAmount)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executed_amount %q: %w", r.ExecutedAmount, err)
	}
	amountIn, err := decimal.NewFromString(r.AmountIn)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("amount_in %q: %w", r.AmountIn, err)
	}
	impact := decimal.Zero
	if r.PriceImpactPct != "" {
		impact, err = decimal.NewFromString(r.PriceImpactPct)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("price_impact_pct %q: %w", r.PriceImpactPct, err)
		}
	}
	return domain.Fill{
		TradeID:        r.TradeID,
		ExecutedPrice:  price,
		ExecutedAmount: amount,
		AmountIn:       amountIn,
		PriceImpactPct: impact,
		Signature:      r.Signature,
		RawQuote:       []byte(r.Quote),
	}, nil
}

// Compile-time interface check.
var _ domain.Execution = (*Client)(nil)
