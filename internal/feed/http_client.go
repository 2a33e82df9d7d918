package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

const (
	priceAPILimitKey   = "price_api"
	defaultAPILimit    = 10
	priceAPIWindow     = time.Second
	priceResponseLimit = 1 << 20
)

// HTTPClient fetches current prices from the price API over REST. It backs
// CurrentPrice lookups for admission checks and manual closes; streaming goes
// through WSFeed.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter // optional
	ratePerSec int
}

// NewHTTPClient creates a price API client. limiter may be nil, in which case
// requests are not throttled. ratePerSec bounds point lookups against the
// upstream API; zero or negative falls back to the default.
func NewHTTPClient(baseURL string, limiter domain.RateLimiter, ratePerSec int) *HTTPClient {
	if ratePerSec <= 0 {
		ratePerSec = defaultAPILimit
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:    limiter,
		ratePerSec: ratePerSec,
	}
}

type priceResponse struct {
	TokenMint string  `json:"token_mint"`
	Price     string  `json:"price"`
	Volume24h *string `json:"volume_24h"`
	Liquidity *string `json:"liquidity"`
	Timestamp int64   `json:"ts"`
}

// CurrentPrice fetches the latest price for one token.
func (c *HTTPClient) CurrentPrice(ctx context.Context, tokenMint string) (domain.PriceTick, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, priceAPILimitKey, c.ratePerSec, priceAPIWindow); err != nil {
			return domain.PriceTick{}, fmt.Errorf("feed: rate limit: %w", err)
		}
	}

	u := c.baseURL + "/price?mint=" + url.QueryEscape(tokenMint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: get price %s: %w", tokenMint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, priceResponseLimit))
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: read price response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.PriceTick{}, fmt.Errorf("feed: get price %s: status %d: %s", tokenMint, resp.StatusCode, body)
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: decode price response: %w", err)
	}
	price, err := decimal.NewFromString(pr.Price)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: parse price %q: %w", pr.Price, err)
	}

	tick := domain.PriceTick{
		TokenMint: tokenMint,
		Price:     price,
		Source:    "http",
		Timestamp: time.UnixMilli(pr.Timestamp),
	}
	if pr.Volume24h != nil {
		if v, err := decimal.NewFromString(*pr.Volume24h); err == nil {
			tick.Volume24h = &v
		}
	}
	if pr.Liquidity != nil {
		if l, err := decimal.NewFromString(*pr.Liquidity); err == nil {
			tick.Liquidity = &l
		}
	}
	return tick, nil
}
