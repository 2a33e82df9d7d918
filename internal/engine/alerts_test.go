package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsignal/tradebot/internal/domain"
)

func newAlert(token string, direction domain.AlertDirection, target string) domain.PriceAlert {
	return domain.PriceAlert{
		ID:          uuid.New().String(),
		Owner:       "wallet-1",
		TokenMint:   token,
		Direction:   direction,
		TargetPrice: dec(target),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestAlertEvaluator_FiresAboveOnce(t *testing.T) {
	alerts := newMemAlertStore()
	notifier := &recordingNotifier{}
	eval := NewAlertEvaluator(alerts, notifier, testLogger())

	alert := newAlert("MINT", domain.AlertAbove, "1.00")
	require.NoError(t, alerts.Create(context.Background(), alert))

	eval.OnPriceTick(context.Background(), tick("MINT", "1.20"))
	assert.Equal(t, 1, notifier.eventCount("price_alert"))

	got, ok := alerts.get(alert.ID)
	require.True(t, ok)
	assert.True(t, got.Triggered)
	require.NotNil(t, got.TriggeredAt)

	// The alert is one-shot: later crossings stay silent.
	eval.OnPriceTick(context.Background(), tick("MINT", "1.50"))
	assert.Equal(t, 1, notifier.eventCount("price_alert"))
}

func TestAlertEvaluator_BelowDirection(t *testing.T) {
	alerts := newMemAlertStore()
	notifier := &recordingNotifier{}
	eval := NewAlertEvaluator(alerts, notifier, testLogger())

	require.NoError(t, alerts.Create(context.Background(), newAlert("MINT", domain.AlertBelow, "0.50")))

	eval.OnPriceTick(context.Background(), tick("MINT", "0.60"))
	assert.Equal(t, 0, notifier.eventCount("price_alert"))

	eval.OnPriceTick(context.Background(), tick("MINT", "0.50"))
	assert.Equal(t, 1, notifier.eventCount("price_alert"))
}

func TestAlertEvaluator_IgnoresOtherTokens(t *testing.T) {
	alerts := newMemAlertStore()
	notifier := &recordingNotifier{}
	eval := NewAlertEvaluator(alerts, notifier, testLogger())

	require.NoError(t, alerts.Create(context.Background(), newAlert("MINT", domain.AlertAbove, "1.00")))

	eval.OnPriceTick(context.Background(), tick("OTHER", "5.00"))
	assert.Equal(t, 0, notifier.eventCount("price_alert"))
}
