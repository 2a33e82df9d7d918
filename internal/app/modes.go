package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solsignal/tradebot/internal/engine"
	"github.com/solsignal/tradebot/internal/feed"
	"github.com/solsignal/tradebot/internal/server"
	"github.com/solsignal/tradebot/internal/server/handler"
)

// engineSet holds the assembled engine components shared by the modes.
type engineSet struct {
	ledger  *engine.PositionLedger
	exits   *engine.ExitCoordinator
	autobuy *engine.AutoBuyCoordinator
	alerts  *engine.AlertEvaluator
	router  *feed.TickRouter
}

// buildEngine assembles the position ledger, exit coordinator, auto-buy
// coordinator, alert evaluator, and tick router from the wired dependencies.
// When withAutoBuy is false the auto-buy coordinator is not constructed and
// the queue is left untouched.
func (a *App) buildEngine(deps *Dependencies, withAutoBuy bool) *engineSet {
	logger := slog.Default()

	ledger := engine.NewPositionLedger(
		deps.PositionStore,
		deps.TrailingStore,
		deps.SignalBus,
		deps.AuditStore,
		logger,
	)

	exits := engine.NewExitCoordinator(
		ledger,
		deps.PositionStore,
		deps.RiskStore,
		deps.TradeStore,
		deps.Execution,
		deps.LockManager,
		deps.Notifier,
		engine.ExitCoordinatorConfig{
			ExecutionTimeout:   a.cfg.Engine.ExecutionTimeout.Duration,
			DefaultSlippageBps: a.cfg.Engine.DefaultSlippageBps,
			LockTTL:            a.cfg.Engine.LockTTL.Duration,
		},
		logger,
	)

	alerts := engine.NewAlertEvaluator(deps.AlertStore, deps.Notifier, logger)

	var autobuy *engine.AutoBuyCoordinator
	if withAutoBuy {
		autobuy = engine.NewAutoBuyCoordinator(
			deps.AutoBuyStore,
			deps.RiskStore,
			deps.Feed,
			deps.Execution,
			deps.TradeStore,
			ledger,
			deps.Notifier,
			engine.AutoBuyConfig{
				Workers:          a.cfg.Engine.AutoBuyWorkers,
				PollInterval:     a.cfg.Engine.AutoBuyPollInterval.Duration,
				ClaimBatch:       a.cfg.Engine.AutoBuyClaimBatch,
				ExecutionTimeout: a.cfg.Engine.ExecutionTimeout.Duration,
			},
			logger,
		)
	}

	// The watch list covers every token with an open position or an active
	// alert so that exits and alerts both see fresh prices.
	sources := []feed.WatchSource{
		feed.WatchSourceFunc(deps.PositionStore.OpenTokenMints),
		feed.WatchSourceFunc(deps.AlertStore.ActiveTokenMints),
	}
	router := feed.NewTickRouter(
		deps.Feed,
		deps.PriceCache,
		[]feed.TickHandler{exits, alerts},
		sources,
		a.cfg.Feed.WatchRefresh.Duration,
		logger,
	)

	return &engineSet{
		ledger:  ledger,
		exits:   exits,
		autobuy: autobuy,
		alerts:  alerts,
		router:  router,
	}
}

// startSignalIntake launches the call-signal consumer when a signal owner is
// configured. Without an owner the queue is fed only through the API.
func (a *App) startSignalIntake(g *errgroup.Group, ctx context.Context, deps *Dependencies, es *engineSet) {
	if a.cfg.Engine.SignalOwner == "" {
		return
	}
	intake := engine.NewSignalIntake(
		deps.SignalBus,
		deps.RiskStore,
		es.autobuy,
		a.cfg.Engine.SignalOwner,
		slog.Default(),
	)
	g.Go(func() error { return intake.Run(ctx) })
}

// TradeMode runs the full trading loop: price ticks drive exits and alerts,
// and auto-buy workers drain the queue.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	es := a.buildEngine(deps, true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return es.router.Run(gctx) })
	g.Go(func() error { return es.autobuy.Run(gctx) })
	a.startSignalIntake(g, gctx, deps, es)

	return g.Wait()
}

// MonitorMode watches prices and evaluates exits and alerts for existing
// positions without executing any new buys.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	es := a.buildEngine(deps, false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return es.router.Run(gctx) })

	return g.Wait()
}

// FullMode runs trade mode plus the HTTP API server and, when enabled, the
// periodic archive loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	es := a.buildEngine(deps, true)
	logger := slog.Default()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return es.router.Run(gctx) })
	g.Go(func() error { return es.autobuy.Run(gctx) })
	a.startSignalIntake(g, gctx, deps, es)

	if a.cfg.Server.Enabled {
		srv := server.NewServer(
			server.Config{
				Port:            a.cfg.Server.Port,
				CORSOrigins:     a.cfg.Server.CORSOrigins,
				APIKey:          a.cfg.Server.APIKey,
				Limiter:         deps.RateLimiter,
				RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
			},
			server.Handlers{
				Health:    handler.NewHealthHandler(logger),
				Positions: handler.NewPositionHandler(es.ledger, es.exits, deps.PositionStore, logger),
				AutoBuy:   handler.NewAutoBuyHandler(es.autobuy, logger),
				Risk:      handler.NewRiskHandler(deps.RiskStore, logger),
				Alerts:    handler.NewAlertHandler(deps.AlertStore, logger),
			},
			logger,
		)

		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(gctx, deps) })
	}

	return g.Wait()
}

// archiveLoop periodically exports closed positions and confirmed trades
// older than the retention window to object storage.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	logger := a.logger.With(slog.String("component", "archive_loop"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)

			n, err := deps.Archiver.ArchiveClosedPositions(ctx, cutoff)
			if err != nil {
				logger.WarnContext(ctx, "position archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.InfoContext(ctx, "archived positions", slog.Int64("count", n))
			}

			n, err = deps.Archiver.ArchiveTrades(ctx, cutoff)
			if err != nil {
				logger.WarnContext(ctx, "trade archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.InfoContext(ctx, "archived trades", slog.Int64("count", n))
			}
		}
	}
}
