package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsignal/tradebot/internal/domain"
)

func newIntakeFixture(t *testing.T) (*SignalIntake, *autobuyFixture) {
	t.Helper()
	f := newAutoBuyFixture()
	intake := NewSignalIntake(nil, f.risk, f.coord, "wallet-1", testLogger())
	return intake, f
}

func signalJSON(id, mint string, suggested string) []byte {
	payload := `{"id":"` + id + `","source":"caller","token_mint":"` + mint + `","received_at":` + "1700000000000"
	if suggested != "" {
		payload += `,"suggested_amount":"` + suggested + `"`
	}
	return []byte(payload + `}`)
}

func TestSignalIntake_EnqueuesWithSuggestedAmount(t *testing.T) {
	intake, f := newIntakeFixture(t)
	f.enableAutoBuy("wallet-1", nil)

	intake.handle(context.Background(), signalJSON("sig-1", "MINT", "75"))

	pending, err := f.queue.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sig-1", pending[0].SignalID)
	assert.True(t, pending[0].Amount.Equal(dec("75")), "amount=%s", pending[0].Amount)
}

func TestSignalIntake_FallsBackToDefaultAmount(t *testing.T) {
	intake, f := newIntakeFixture(t)
	f.enableAutoBuy("wallet-1", nil) // default buy amount 50

	intake.handle(context.Background(), signalJSON("sig-2", "MINT", ""))

	pending, err := f.queue.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Amount.Equal(dec("50")))
}

func TestSignalIntake_DropsWhenAutoBuyDisabled(t *testing.T) {
	intake, f := newIntakeFixture(t)
	f.enableAutoBuy("wallet-1", func(cfg *domain.UserRiskConfig) { cfg.AutoBuyEnabled = false })

	intake.handle(context.Background(), signalJSON("sig-3", "MINT", "75"))

	pending, err := f.queue.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSignalIntake_SkipsMalformedPayloads(t *testing.T) {
	intake, f := newIntakeFixture(t)
	f.enableAutoBuy("wallet-1", nil)

	intake.handle(context.Background(), []byte("not json"))
	intake.handle(context.Background(), []byte(`{"id":"sig-4"}`)) // missing token_mint
	intake.handle(context.Background(), signalJSON("sig-5", "MINT", "garbage"))

	pending, err := f.queue.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSignalPayload_ToDomain(t *testing.T) {
	amt := "12.5"
	p := signalPayload{
		ID:              "sig-9",
		Source:          "caller",
		TokenMint:       "MINT",
		TokenSymbol:     "MNT",
		SuggestedAmount: &amt,
		ReceivedAt:      1700000000000,
	}
	sig, err := p.toDomain()
	require.NoError(t, err)
	assert.Equal(t, "MINT", sig.TokenMint)
	require.NotNil(t, sig.SuggestedAmount)
	assert.True(t, sig.SuggestedAmount.Equal(dec("12.5")))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), sig.ReceivedAt)
}
