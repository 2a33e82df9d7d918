package feed

import (
	"context"

	"github.com/solsignal/tradebot/internal/domain"
)

// Feed combines the websocket stream with HTTP point lookups to implement
// domain.PriceFeed.
type Feed struct {
	ws   *WSFeed
	http *HTTPClient
}

func New(ws *WSFeed, http *HTTPClient) *Feed {
	return &Feed{ws: ws, http: http}
}

func (f *Feed) CurrentPrice(ctx context.Context, tokenMint string) (domain.PriceTick, error) {
	return f.http.CurrentPrice(ctx, tokenMint)
}

func (f *Feed) Stream(ctx context.Context, tokenMints []string) (<-chan domain.PriceTick, error) {
	return f.ws.Stream(ctx, tokenMints)
}

// Watch adds tokens to the live stream subscription.
func (f *Feed) Watch(tokenMints []string) error {
	return f.ws.Subscribe(tokenMints)
}

// Compile-time interface check.
var _ domain.PriceFeed = (*Feed)(nil)
