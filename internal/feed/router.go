package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/solsignal/tradebot/internal/domain"
)

// TickHandler consumes price ticks. The exit coordinator and the alert
// evaluator both implement it.
type TickHandler interface {
	OnPriceTick(ctx context.Context, tick domain.PriceTick)
}

// WatchSource yields token mints the router should keep subscribed.
type WatchSource interface {
	TokenMints(ctx context.Context) ([]string, error)
}

// WatchSourceFunc adapts a function to the WatchSource interface.
type WatchSourceFunc func(ctx context.Context) ([]string, error)

func (f WatchSourceFunc) TokenMints(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// TickRouter subscribes the feed to every token that has an open position or
// an active alert and fans each tick out to the registered handlers. The
// latest price is written through to the cache before the handlers run.
type TickRouter struct {
	feed     *Feed
	cache    domain.PriceCache // optional
	handlers []TickHandler
	sources  []WatchSource
	refresh  time.Duration
	logger   *slog.Logger
}

// NewTickRouter creates a router. cache may be nil. refresh controls how often
// the watch list is rebuilt from the sources; zero means every 15 seconds.
func NewTickRouter(feed *Feed, cache domain.PriceCache, handlers []TickHandler, sources []WatchSource, refresh time.Duration, logger *slog.Logger) *TickRouter {
	if refresh <= 0 {
		refresh = 15 * time.Second
	}
	return &TickRouter{
		feed:     feed,
		cache:    cache,
		handlers: handlers,
		sources:  sources,
		refresh:  refresh,
		logger:   logger.With(slog.String("component", "tick_router")),
	}
}

// Run streams ticks until ctx is cancelled.
func (r *TickRouter) Run(ctx context.Context) error {
	initial, err := r.watchList(ctx)
	if err != nil {
		return err
	}

	ticks, err := r.feed.Stream(ctx, initial)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "tick router started", slog.Int("tokens", len(initial)))

	refreshTicker := time.NewTicker(r.refresh)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-refreshTicker.C:
			mints, err := r.watchList(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "watch list refresh failed", slog.String("error", err.Error()))
				continue
			}
			if err := r.feed.Watch(mints); err != nil {
				r.logger.WarnContext(ctx, "subscribe failed", slog.String("error", err.Error()))
			}

		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			r.dispatch(ctx, tick)
		}
	}
}

func (r *TickRouter) dispatch(ctx context.Context, tick domain.PriceTick) {
	if r.cache != nil {
		if err := r.cache.SetPrice(ctx, tick.TokenMint, tick.Price, tick.Timestamp); err != nil {
			r.logger.WarnContext(ctx, "price cache write failed",
				slog.String("token", tick.TokenMint),
				slog.String("error", err.Error()))
		}
	}
	for _, h := range r.handlers {
		h.OnPriceTick(ctx, tick)
	}
}

func (r *TickRouter) watchList(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var mints []string
	for _, src := range r.sources {
		list, err := src.TokenMints(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range list {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			mints = append(mints, m)
		}
	}
	return mints, nil
}
