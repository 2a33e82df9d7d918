package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsignal/tradebot/internal/domain"
)

type exitFixture struct {
	coord     *ExitCoordinator
	ledger    *PositionLedger
	positions *memPositionStore
	trailing  *memTrailingStore
	trades    *memTradeStore
	risk      *memRiskStore
	exec      *stubExecution
	notifier  *recordingNotifier
}

func newExitFixture() *exitFixture {
	positions := newMemPositionStore()
	trailing := newMemTrailingStore()
	trades := newMemTradeStore()
	risk := newMemRiskStore()
	exec := &stubExecution{}
	notifier := &recordingNotifier{}

	ledger := NewPositionLedger(positions, trailing, nil, &memAuditStore{}, testLogger())
	coord := NewExitCoordinator(ledger, positions, risk, trades, exec, nil, notifier,
		ExitCoordinatorConfig{}, testLogger())

	return &exitFixture{
		coord:     coord,
		ledger:    ledger,
		positions: positions,
		trailing:  trailing,
		trades:    trades,
		risk:      risk,
		exec:      exec,
		notifier:  notifier,
	}
}

func (f *exitFixture) openPosition(t *testing.T, p OpenParams) domain.Position {
	t.Helper()
	pos, err := f.ledger.Open(context.Background(), p)
	require.NoError(t, err)
	return pos
}

func goodSell(price, amountOut string) func(domain.TradeRequest) (domain.Fill, error) {
	return func(req domain.TradeRequest) (domain.Fill, error) {
		return domain.Fill{
			ExecutedPrice:  dec(price),
			ExecutedAmount: dec(amountOut),
			AmountIn:       req.Amount,
		}, nil
	}
}

func TestEvaluateExit_StopLossWinsOverEverything(t *testing.T) {
	pos := domain.Position{
		Status:          domain.PositionStatusOpen,
		StopLossPrice:   decPtr("0.90"),
		TakeProfitPrice: decPtr("0.80"), // already breached too
	}
	st := domain.TrailingStopState{}

	reason, ok := evaluateExit(pos, &st, TrailingTriggered, dec("0.85"))
	require.True(t, ok)
	assert.Equal(t, domain.ExitReasonStopLoss, reason)
}

func TestEvaluateExit_TakeProfit(t *testing.T) {
	pos := domain.Position{
		Status:          domain.PositionStatusOpen,
		TakeProfitPrice: decPtr("1.50"),
	}
	reason, ok := evaluateExit(pos, nil, TrailingUnchanged, dec("1.50"))
	require.True(t, ok)
	assert.Equal(t, domain.ExitReasonTakeProfit, reason)
}

func TestEvaluateExit_PendingTrailingKeepsMatching(t *testing.T) {
	// A trailing stop that fired earlier but whose sell failed stays pending
	// and must keep producing an exit until it succeeds.
	triggered := domain.TrailingStopState{Active: false}
	now := tick("MINT", "1.00").Timestamp
	triggered.TriggeredAt = &now

	reason, ok := evaluateExit(domain.Position{Status: domain.PositionStatusOpen}, &triggered, TrailingUnchanged, dec("1.00"))
	require.True(t, ok)
	assert.Equal(t, domain.ExitReasonTrailingStop, reason)
}

func TestEvaluateExit_NoRuleNoExit(t *testing.T) {
	pos := domain.Position{
		Status:          domain.PositionStatusOpen,
		StopLossPrice:   decPtr("0.50"),
		TakeProfitPrice: decPtr("2.00"),
	}
	_, ok := evaluateExit(pos, nil, TrailingUnchanged, dec("1.00"))
	assert.False(t, ok)
}

func TestOnPriceTick_StopLossClosesPosition(t *testing.T) {
	f := newExitFixture()
	f.exec.fn = goodSell("0.85", "85")

	pos := f.openPosition(t, OpenParams{
		Owner:         "wallet-1",
		TokenMint:     "MINT",
		Fill:          buyFill("1.00", "100", "100"),
		StopLossPrice: decPtr("0.90"),
	})

	f.coord.OnPriceTick(context.Background(), tick("MINT", "0.85"))

	closed, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.ExitReasonStopLoss, closed.ExitReason)
	assert.Equal(t, 1, f.exec.callCount())
	assert.Equal(t, 1, f.notifier.eventCount("position_closed"))

	trades := f.trades.all()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusConfirmed, trades[0].Status)
	assert.Equal(t, domain.TradeSideSell, trades[0].Side)
	assert.True(t, trades[0].AmountIn.Equal(dec("100")), "sell must be full size")
}

func TestOnPriceTick_OneSellPerPositionPerTick(t *testing.T) {
	f := newExitFixture()
	f.exec.fn = goodSell("0.50", "50")

	// Both the fixed stop and the trailing stop are breached by the same tick.
	f.openPosition(t, OpenParams{
		Owner:         "wallet-1",
		TokenMint:     "MINT",
		Fill:          buyFill("1.00", "100", "100"),
		StopLossPrice: decPtr("0.90"),
		TrailingPct:   decPtr("0.10"),
	})

	f.coord.OnPriceTick(context.Background(), tick("MINT", "0.50"))

	assert.Equal(t, 1, f.exec.callCount())
}

func TestOnPriceTick_FailedSellLeavesPositionOpenAndRetries(t *testing.T) {
	f := newExitFixture()
	f.exec.fn = func(domain.TradeRequest) (domain.Fill, error) {
		return domain.Fill{}, domain.ErrExecution
	}

	pos := f.openPosition(t, OpenParams{
		Owner:         "wallet-1",
		TokenMint:     "MINT",
		Fill:          buyFill("1.00", "100", "100"),
		StopLossPrice: decPtr("0.90"),
	})

	f.coord.OnPriceTick(context.Background(), tick("MINT", "0.85"))

	got, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status, "failed sell must not close")
	assert.Equal(t, 1, f.exec.callCount())

	trades := f.trades.all()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusFailed, trades[0].Status)

	// The next tick retries the exit and succeeds.
	f.exec.fn = goodSell("0.84", "84")
	f.coord.OnPriceTick(context.Background(), tick("MINT", "0.84"))

	got, err = f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, 2, f.exec.callCount())
}

func TestOnPriceTick_TrailingRatchetThenTrigger(t *testing.T) {
	f := newExitFixture()
	f.exec.fn = goodSell("1.20", "120")

	pos := f.openPosition(t, OpenParams{
		Owner:       "wallet-1",
		TokenMint:   "MINT",
		Fill:        buyFill("1.00", "100", "100"),
		TrailingPct: decPtr("0.10"),
	})

	// Rally ratchets the stop to 1.35; no exit.
	f.coord.OnPriceTick(context.Background(), tick("MINT", "1.50"))
	assert.Equal(t, 0, f.exec.callCount())

	st, err := f.trailing.GetByPositionID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, st.StopPrice.Equal(dec("1.35")), "stop=%s", st.StopPrice)

	// Drop through the stop closes the position with a profit.
	f.coord.OnPriceTick(context.Background(), tick("MINT", "1.20"))

	closed, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.ExitReasonTrailingStop, closed.ExitReason)
	assert.True(t, closed.RealizedPnL.Equal(dec("20")), "pnl=%s", closed.RealizedPnL)
}

func TestOnPriceTick_OtherTokensUntouched(t *testing.T) {
	f := newExitFixture()
	f.exec.fn = goodSell("0.10", "10")

	other := f.openPosition(t, OpenParams{
		Owner:         "wallet-1",
		TokenMint:     "OTHER",
		Fill:          buyFill("1.00", "100", "100"),
		StopLossPrice: decPtr("0.90"),
	})

	f.coord.OnPriceTick(context.Background(), tick("MINT", "0.10"))

	got, err := f.positions.GetByID(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Equal(t, 0, f.exec.callCount())
}

func TestClosePositionManually(t *testing.T) {
	f := newExitFixture()
	f.exec.fn = goodSell("1.10", "110")

	pos := f.openPosition(t, OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("1.00", "100", "100"),
	})

	closed, err := f.coord.ClosePositionManually(context.Background(), pos.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.ExitReasonManual, closed.ExitReason)
	assert.Equal(t, 1, f.exec.callCount())

	// Closing again is a no-op returning the terminal state.
	again, err := f.coord.ClosePositionManually(context.Background(), pos.ID, domain.ExitReasonManual)
	require.NoError(t, err)
	assert.Equal(t, closed.ExitReason, again.ExitReason)
	assert.Equal(t, 1, f.exec.callCount())
}

func TestClosePositionManually_UnknownReasonRejected(t *testing.T) {
	f := newExitFixture()
	_, err := f.coord.ClosePositionManually(context.Background(), "pos-x", domain.ExitReason("bogus"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClosePositionManually_FailedSellPropagates(t *testing.T) {
	f := newExitFixture()
	f.exec.fn = func(domain.TradeRequest) (domain.Fill, error) {
		return domain.Fill{}, domain.ErrExecution
	}

	pos := f.openPosition(t, OpenParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Fill:      buyFill("1.00", "100", "100"),
	})

	_, err := f.coord.ClosePositionManually(context.Background(), pos.ID, domain.ExitReasonManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExecution))

	got, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}
