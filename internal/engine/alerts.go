package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solsignal/tradebot/internal/domain"
)

// AlertEvaluator fires one-shot price alerts from the tick stream. Alerts
// only produce notifications; they never touch positions.
type AlertEvaluator struct {
	alerts   domain.AlertStore
	notifier ExitNotifier
	logger   *slog.Logger
}

// NewAlertEvaluator creates an AlertEvaluator. notifier may be nil, in which
// case triggered alerts are only logged.
func NewAlertEvaluator(alerts domain.AlertStore, notifier ExitNotifier, logger *slog.Logger) *AlertEvaluator {
	return &AlertEvaluator{
		alerts:   alerts,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_evaluator")),
	}
}

// OnPriceTick checks every untriggered alert on the token against the tick.
// MarkTriggered is conditional in the store, so a concurrent evaluation of
// the same alert fires the side effect at most once.
func (e *AlertEvaluator) OnPriceTick(ctx context.Context, tick domain.PriceTick) {
	alerts, err := e.alerts.ListActiveByToken(ctx, tick.TokenMint)
	if err != nil {
		e.logger.WarnContext(ctx, "list alerts failed",
			slog.String("token", tick.TokenMint),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, alert := range alerts {
		hit := false
		switch alert.Direction {
		case domain.AlertAbove:
			hit = tick.Price.GreaterThanOrEqual(alert.TargetPrice)
		case domain.AlertBelow:
			hit = tick.Price.LessThanOrEqual(alert.TargetPrice)
		}
		if !hit {
			continue
		}

		won, err := e.alerts.MarkTriggered(ctx, alert.ID, time.Now().UTC())
		if err != nil {
			e.logger.WarnContext(ctx, "mark alert triggered failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !won {
			continue
		}

		e.logger.InfoContext(ctx, "price alert triggered",
			slog.String("alert_id", alert.ID),
			slog.String("token", alert.TokenMint),
			slog.String("price", tick.Price.String()),
		)
		if e.notifier != nil {
			title := fmt.Sprintf("Price alert: %s", alert.TokenMint)
			msg := fmt.Sprintf("price %s crossed %s target %s",
				tick.Price.String(), alert.Direction, alert.TargetPrice.String())
			if nErr := e.notifier.Notify(ctx, "price_alert", title, msg); nErr != nil {
				e.logger.WarnContext(ctx, "alert notification failed",
					slog.String("alert_id", alert.ID),
					slog.String("error", nErr.Error()),
				)
			}
		}
	}
}
