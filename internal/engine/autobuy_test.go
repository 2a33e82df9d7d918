package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsignal/tradebot/internal/domain"
)

type autobuyFixture struct {
	coord     *AutoBuyCoordinator
	queue     *memAutoBuyStore
	risk      *memRiskStore
	feed      *stubFeed
	exec      *stubExecution
	trades    *memTradeStore
	positions *memPositionStore
	trailing  *memTrailingStore
	notifier  *recordingNotifier
}

func newAutoBuyFixture() *autobuyFixture {
	queue := newMemAutoBuyStore()
	risk := newMemRiskStore()
	feed := &stubFeed{}
	exec := &stubExecution{}
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	trailing := newMemTrailingStore()
	notifier := &recordingNotifier{}

	ledger := NewPositionLedger(positions, trailing, nil, &memAuditStore{}, testLogger())
	coord := NewAutoBuyCoordinator(queue, risk, feed, exec, trades, ledger, notifier,
		AutoBuyConfig{Workers: 1, PollInterval: time.Millisecond, ClaimBatch: 8}, testLogger())

	return &autobuyFixture{
		coord:     coord,
		queue:     queue,
		risk:      risk,
		feed:      feed,
		exec:      exec,
		trades:    trades,
		positions: positions,
		trailing:  trailing,
		notifier:  notifier,
	}
}

func (f *autobuyFixture) enableAutoBuy(owner string, mutate func(*domain.UserRiskConfig)) {
	cfg := domain.UserRiskConfig{
		Owner:              owner,
		AutoBuyEnabled:     true,
		DefaultBuyAmount:   dec("50"),
		MaxBuyAmount:       dec("500"),
		DefaultSlippageBps: 100,
		MaxSlippageBps:     500,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	_ = f.risk.Upsert(context.Background(), cfg)
}

func (f *autobuyFixture) enqueue(t *testing.T, p EnqueueParams) domain.AutoBuyRequest {
	t.Helper()
	id, err := f.coord.Enqueue(context.Background(), p)
	require.NoError(t, err)
	req, err := f.queue.GetByID(context.Background(), id)
	require.NoError(t, err)
	return req
}

func goodBuy(price, tokens string) func(domain.TradeRequest) (domain.Fill, error) {
	return func(req domain.TradeRequest) (domain.Fill, error) {
		return domain.Fill{
			ExecutedPrice:  dec(price),
			ExecutedAmount: dec(tokens),
			AmountIn:       req.Amount,
			Signature:      "sig-abc",
		}, nil
	}
}

func TestEnqueue_RejectsInvalidInput(t *testing.T) {
	f := newAutoBuyFixture()

	cases := []EnqueueParams{
		{TokenMint: "MINT", Amount: dec("10")},                   // missing owner
		{Owner: "wallet-1", Amount: dec("10")},                   // missing token
		{Owner: "wallet-1", TokenMint: "MINT"},                   // zero amount
		{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("-1")}, // negative amount
	}
	for i, p := range cases {
		_, err := f.coord.Enqueue(context.Background(), p)
		assert.ErrorIs(t, err, domain.ErrValidation, "case %d", i)
	}
	assert.Equal(t, 0, f.queue.createCount(), "rejected input must never be enqueued")
}

func TestEnqueue_CreatesPendingRequest(t *testing.T) {
	f := newAutoBuyFixture()

	req := f.enqueue(t, EnqueueParams{
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Amount:    dec("100"),
		SignalID:  "sig-1",
	})

	assert.Equal(t, domain.AutoBuyStatusPending, req.Status)
	assert.Equal(t, "sig-1", req.SignalID)
	assert.True(t, req.Amount.Equal(dec("100")))
}

func TestProcess_DeniedWithoutRiskConfig(t *testing.T) {
	f := newAutoBuyFixture()
	req := f.enqueue(t, EnqueueParams{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100")})

	won, err := f.queue.Claim(context.Background(), req.ID)
	require.NoError(t, err)
	require.True(t, won)
	f.coord.process(context.Background(), req)

	got, err := f.queue.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoBuyStatusFailed, got.Status)
	assert.Contains(t, got.Error, "no risk config")
	assert.Equal(t, 0, f.exec.callCount(), "denied request must never reach execution")
}

func TestProcess_DeniedWhenAutoBuyDisabled(t *testing.T) {
	f := newAutoBuyFixture()
	f.enableAutoBuy("wallet-1", func(cfg *domain.UserRiskConfig) { cfg.AutoBuyEnabled = false })
	req := f.enqueue(t, EnqueueParams{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100")})

	won, _ := f.queue.Claim(context.Background(), req.ID)
	require.True(t, won)
	f.coord.process(context.Background(), req)

	got, _ := f.queue.GetByID(context.Background(), req.ID)
	assert.Equal(t, domain.AutoBuyStatusFailed, got.Status)
	assert.Equal(t, 0, f.exec.callCount())
}

func TestProcess_DeniedOverMaxAmount(t *testing.T) {
	f := newAutoBuyFixture()
	f.enableAutoBuy("wallet-1", nil) // max 500
	req := f.enqueue(t, EnqueueParams{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("501")})

	won, _ := f.queue.Claim(context.Background(), req.ID)
	require.True(t, won)
	f.coord.process(context.Background(), req)

	got, _ := f.queue.GetByID(context.Background(), req.ID)
	assert.Equal(t, domain.AutoBuyStatusFailed, got.Status)
	assert.Contains(t, got.Error, "exceeds max position size")
	assert.Equal(t, 0, f.exec.callCount())
}

func TestProcess_DeniedOverSlippageCap(t *testing.T) {
	f := newAutoBuyFixture()
	f.enableAutoBuy("wallet-1", nil) // cap 500 bps
	slippage := int64(1000)
	req := f.enqueue(t, EnqueueParams{
		Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100"), MaxSlippageBps: &slippage,
	})

	won, _ := f.queue.Claim(context.Background(), req.ID)
	require.True(t, won)
	f.coord.process(context.Background(), req)

	got, _ := f.queue.GetByID(context.Background(), req.ID)
	assert.Equal(t, domain.AutoBuyStatusFailed, got.Status)
	assert.Equal(t, 0, f.exec.callCount())
}

func TestProcess_DeniedAbovePriceCeiling(t *testing.T) {
	f := newAutoBuyFixture()
	f.enableAutoBuy("wallet-1", nil)
	f.feed.price = func(string) (domain.PriceTick, error) {
		return tick("MINT", "1.50"), nil
	}
	req := f.enqueue(t, EnqueueParams{
		Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100"), MaxPrice: decPtr("1.00"),
	})

	won, _ := f.queue.Claim(context.Background(), req.ID)
	require.True(t, won)
	f.coord.process(context.Background(), req)

	got, _ := f.queue.GetByID(context.Background(), req.ID)
	assert.Equal(t, domain.AutoBuyStatusFailed, got.Status)
	assert.Contains(t, got.Error, "above ceiling")
	assert.Equal(t, 0, f.exec.callCount())
}

func TestProcess_SuccessOpensPositionWithDerivedExits(t *testing.T) {
	f := newAutoBuyFixture()
	f.enableAutoBuy("wallet-1", func(cfg *domain.UserRiskConfig) {
		cfg.StopLossPct = decPtr("0.20")
		cfg.TakeProfitPct = decPtr("0.50")
		cfg.TrailingStopEnabled = true
		cfg.TrailingPct = dec("0.10")
	})
	f.exec.fn = goodBuy("1.00", "100")

	req := f.enqueue(t, EnqueueParams{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100"), SignalID: "sig-7"})

	won, _ := f.queue.Claim(context.Background(), req.ID)
	require.True(t, won)
	f.coord.process(context.Background(), req)

	got, err := f.queue.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoBuyStatusCompleted, got.Status)
	require.NotEmpty(t, got.PositionID)
	require.NotEmpty(t, got.TradeID)

	pos, err := f.positions.GetByID(context.Background(), got.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "sig-7", pos.SignalID)
	require.NotNil(t, pos.StopLossPrice)
	assert.True(t, pos.StopLossPrice.Equal(dec("0.80")), "sl=%s", pos.StopLossPrice)
	require.NotNil(t, pos.TakeProfitPrice)
	assert.True(t, pos.TakeProfitPrice.Equal(dec("1.50")), "tp=%s", pos.TakeProfitPrice)

	st, err := f.trailing.GetByPositionID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, st.StopPrice.Equal(dec("0.90")), "trailing stop=%s", st.StopPrice)

	rec, err := f.trades.GetByID(context.Background(), got.TradeID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusConfirmed, rec.Status)
	assert.Equal(t, 1, f.notifier.eventCount("position_opened"))
}

func TestProcess_FailedBuyIsTerminal(t *testing.T) {
	f := newAutoBuyFixture()
	f.enableAutoBuy("wallet-1", nil)
	f.exec.fn = func(domain.TradeRequest) (domain.Fill, error) {
		return domain.Fill{}, domain.ErrExecution
	}

	req := f.enqueue(t, EnqueueParams{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100")})

	won, _ := f.queue.Claim(context.Background(), req.ID)
	require.True(t, won)
	f.coord.process(context.Background(), req)

	got, _ := f.queue.GetByID(context.Background(), req.ID)
	assert.Equal(t, domain.AutoBuyStatusFailed, got.Status)
	assert.Equal(t, 1, f.exec.callCount())

	open, err := f.positions.ListOpen(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, open, "failed buy must not open a position")
}

func TestDrainOnce_ConcurrentWorkersExecuteOnce(t *testing.T) {
	f := newAutoBuyFixture()
	f.enableAutoBuy("wallet-1", nil)
	f.exec.fn = goodBuy("1.00", "100")

	f.enqueue(t, EnqueueParams{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100")})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.coord.drainOnce(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.exec.callCount(), "claim race must yield exactly one execution")

	open, err := f.positions.ListOpen(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestClaim_IsSingleWinner(t *testing.T) {
	f := newAutoBuyFixture()
	req := f.enqueue(t, EnqueueParams{Owner: "wallet-1", TokenMint: "MINT", Amount: dec("100")})

	first, err := f.queue.Claim(context.Background(), req.ID)
	require.NoError(t, err)
	second, err := f.queue.Claim(context.Background(), req.ID)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}
