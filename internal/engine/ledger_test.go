package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsignal/tradebot/internal/domain"
)

func newTestLedger() (*PositionLedger, *memPositionStore, *memTrailingStore) {
	positions := newMemPositionStore()
	trailing := newMemTrailingStore()
	ledger := NewPositionLedger(positions, trailing, nil, &memAuditStore{}, testLogger())
	return ledger, positions, trailing
}

func buyFill(price, tokens, spent string) domain.Fill {
	return domain.Fill{
		TradeID:        "trade-1",
		ExecutedPrice:  dec(price),
		ExecutedAmount: dec(tokens),
		AmountIn:       dec(spent),
	}
}

func TestOpen_RejectsNonPositiveFill(t *testing.T) {
	ledger, _, _ := newTestLedger()

	_, err := ledger.Open(context.Background(), OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("0", "1000", "100"),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ledger.Open(context.Background(), OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("0.10", "0", "100"),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOpen_InitialStateFromFill(t *testing.T) {
	ledger, _, trailing := newTestLedger()

	pos, err := ledger.Open(context.Background(), OpenParams{
		Owner:       "wallet-1",
		TokenMint:   "MINT",
		SignalID:    "sig-1",
		Fill:        buyFill("0.10", "1000", "100"),
		TrailingPct: decPtr("0.10"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.True(t, pos.EntryPrice.Equal(dec("0.10")))
	assert.True(t, pos.CurrentValue.Equal(dec("100")), "value=%s", pos.CurrentValue)
	assert.True(t, pos.HighestPrice.Equal(dec("0.10")))
	assert.True(t, pos.UnrealizedPnL.IsZero())
	assert.True(t, pos.RealizedPnL.IsZero())

	st, err := trailing.GetByPositionID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.True(t, st.StopPrice.Equal(dec("0.09")), "stop=%s", st.StopPrice)
}

func TestOpen_RejectsBadTrailingPctBeforePersisting(t *testing.T) {
	ledger, positions, _ := newTestLedger()

	_, err := ledger.Open(context.Background(), OpenParams{
		Owner:       "wallet-1",
		TokenMint:   "MINT",
		Fill:        buyFill("0.10", "1000", "100"),
		TrailingPct: decPtr("1.5"),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, positions.positions)
}

func TestApplyTick_UpdatesUnrealizedPnL(t *testing.T) {
	ledger, _, _ := newTestLedger()
	pos, err := ledger.Open(context.Background(), OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("0.10", "1000", "100"),
	})
	require.NoError(t, err)

	res, err := ledger.ApplyTick(context.Background(), pos.ID, tick("MINT", "0.12"))
	require.NoError(t, err)

	got := res.Position
	assert.True(t, got.CurrentPrice.Equal(dec("0.12")))
	assert.True(t, got.CurrentValue.Equal(dec("120")), "value=%s", got.CurrentValue)
	assert.True(t, got.UnrealizedPnL.Equal(dec("20")), "pnl=%s", got.UnrealizedPnL)
	assert.True(t, got.UnrealizedPnLPct.Equal(dec("0.2")), "pct=%s", got.UnrealizedPnLPct)
	assert.True(t, got.HighestPrice.Equal(dec("0.12")))
}

func TestApplyTick_HighestPriceNeverDecreases(t *testing.T) {
	ledger, _, _ := newTestLedger()
	pos, err := ledger.Open(context.Background(), OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("0.10", "1000", "100"),
	})
	require.NoError(t, err)

	_, err = ledger.ApplyTick(context.Background(), pos.ID, tick("MINT", "0.15"))
	require.NoError(t, err)
	res, err := ledger.ApplyTick(context.Background(), pos.ID, tick("MINT", "0.11"))
	require.NoError(t, err)

	assert.True(t, res.Position.HighestPrice.Equal(dec("0.15")))
	assert.True(t, res.Position.CurrentPrice.Equal(dec("0.11")))
}

func TestApplyTick_LateTickOnClosedPositionIgnored(t *testing.T) {
	ledger, positions, _ := newTestLedger()
	pos, err := ledger.Open(context.Background(), OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("0.10", "1000", "100"),
	})
	require.NoError(t, err)

	_, err = ledger.Close(context.Background(), pos.ID, sellFill("0.20", "200"), domain.ExitReasonManual)
	require.NoError(t, err)
	updatesAfterClose := positions.updateCount()

	res, err := ledger.ApplyTick(context.Background(), pos.ID, tick("MINT", "0.01"))
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, res.Position.Status)
	assert.Equal(t, updatesAfterClose, positions.updateCount(), "late tick must not write")
}

func TestClose_RealizedPnLAndTerminalState(t *testing.T) {
	ledger, _, trailing := newTestLedger()
	pos, err := ledger.Open(context.Background(), OpenParams{
		Owner:       "wallet-1",
		TokenMint:   "MINT",
		Fill:        buyFill("0.10", "1000", "100"),
		TrailingPct: decPtr("0.10"),
	})
	require.NoError(t, err)

	closed, err := ledger.Close(context.Background(), pos.ID, sellFill("0.15", "150"), domain.ExitReasonTakeProfit)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.ExitReasonTakeProfit, closed.ExitReason)
	assert.True(t, closed.RealizedPnL.Equal(dec("50")), "pnl=%s", closed.RealizedPnL)
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(dec("0.15")))
	require.NotNil(t, closed.ClosedAt)

	st, err := trailing.GetByPositionID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.False(t, st.Active, "trailing must be deactivated on close")
}

func TestClose_IsIdempotent(t *testing.T) {
	ledger, _, _ := newTestLedger()
	pos, err := ledger.Open(context.Background(), OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("0.10", "1000", "100"),
	})
	require.NoError(t, err)

	first, err := ledger.Close(context.Background(), pos.ID, sellFill("0.15", "150"), domain.ExitReasonStopLoss)
	require.NoError(t, err)

	// A second close with a different fill and reason returns the original
	// result untouched.
	second, err := ledger.Close(context.Background(), pos.ID, sellFill("0.01", "10"), domain.ExitReasonManual)
	require.NoError(t, err)

	assert.Equal(t, first.ExitReason, second.ExitReason)
	assert.True(t, first.RealizedPnL.Equal(second.RealizedPnL))
	require.NotNil(t, second.ExitPrice)
	assert.True(t, second.ExitPrice.Equal(dec("0.15")))
}

func TestClose_RejectsUnknownReason(t *testing.T) {
	ledger, _, _ := newTestLedger()
	_, err := ledger.Close(context.Background(), "whatever", sellFill("0.15", "150"), domain.ExitReason("nonsense"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func sellFill(price, amountOut string) domain.Fill {
	return domain.Fill{
		TradeID:        "trade-exit",
		ExecutedPrice:  dec(price),
		ExecutedAmount: dec(amountOut),
	}
}
