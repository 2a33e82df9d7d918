package engine

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func tick(mint, price string) domain.PriceTick {
	return domain.PriceTick{TokenMint: mint, Price: dec(price), Timestamp: time.Now().UTC()}
}

// --- position store ---

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	updates   int
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (m *memPositionStore) Create(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = pos
	return nil
}

func (m *memPositionStore) Update(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	m.positions[pos.ID] = pos
	m.updates++
	return nil
}

func (m *memPositionStore) CloseOpen(_ context.Context, id string, close domain.PositionClose) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return false, nil
	}
	pos.Status = domain.PositionStatusClosed
	pos.ExitPrice = &close.ExitPrice
	pos.ExitAmount = &close.ExitAmount
	pos.ExitReason = close.Reason
	pos.ExitTradeID = close.ExitTradeID
	pos.RealizedPnL = close.RealizedPnL
	closedAt := close.ClosedAt
	pos.ClosedAt = &closedAt
	pos.UpdatedAt = close.ClosedAt
	m.positions[id] = pos
	return true, nil
}

func (m *memPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *memPositionStore) ListOpen(_ context.Context, owner string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusOpen && (owner == "" || pos.Owner == owner) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memPositionStore) ListOpenByToken(_ context.Context, tokenMint string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusOpen && pos.TokenMint == tokenMint {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memPositionStore) OpenTokenMints(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, pos := range m.positions {
		if pos.Status != domain.PositionStatusOpen {
			continue
		}
		if _, ok := seen[pos.TokenMint]; ok {
			continue
		}
		seen[pos.TokenMint] = struct{}{}
		out = append(out, pos.TokenMint)
	}
	return out, nil
}

func (m *memPositionStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusClosed && pos.ClosedAt != nil && pos.ClosedAt.Before(before) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memPositionStore) ListHistory(_ context.Context, owner string, _ domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Owner == owner {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memPositionStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// --- trailing store ---

type memTrailingStore struct {
	mu     sync.Mutex
	states map[string]domain.TrailingStopState // keyed by position ID
}

func newMemTrailingStore() *memTrailingStore {
	return &memTrailingStore{states: make(map[string]domain.TrailingStopState)}
}

func (m *memTrailingStore) Create(_ context.Context, st domain.TrailingStopState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.PositionID] = st
	return nil
}

func (m *memTrailingStore) Update(_ context.Context, st domain.TrailingStopState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[st.PositionID]; !ok {
		return domain.ErrNotFound
	}
	m.states[st.PositionID] = st
	return nil
}

func (m *memTrailingStore) GetByPositionID(_ context.Context, positionID string) (domain.TrailingStopState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[positionID]
	if !ok {
		return domain.TrailingStopState{}, domain.ErrNotFound
	}
	return st, nil
}

// --- autobuy store ---

type memAutoBuyStore struct {
	mu       sync.Mutex
	requests map[string]domain.AutoBuyRequest
	creates  int
}

func newMemAutoBuyStore() *memAutoBuyStore {
	return &memAutoBuyStore{requests: make(map[string]domain.AutoBuyRequest)}
}

func (m *memAutoBuyStore) Create(_ context.Context, req domain.AutoBuyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	m.creates++
	return nil
}

func (m *memAutoBuyStore) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.Status != domain.AutoBuyStatusPending {
		return false, nil
	}
	req.Status = domain.AutoBuyStatusProcessing
	now := time.Now().UTC()
	req.ProcessedAt = &now
	m.requests[id] = req
	return true, nil
}

func (m *memAutoBuyStore) ListPending(_ context.Context, limit int) ([]domain.AutoBuyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AutoBuyRequest
	for _, req := range m.requests {
		if req.Status == domain.AutoBuyStatusPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAutoBuyStore) MarkCompleted(_ context.Context, id, tradeID, positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	req.Status = domain.AutoBuyStatusCompleted
	req.TradeID = tradeID
	req.PositionID = positionID
	m.requests[id] = req
	return nil
}

func (m *memAutoBuyStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	req.Status = domain.AutoBuyStatusFailed
	req.Error = reason
	m.requests[id] = req
	return nil
}

func (m *memAutoBuyStore) GetByID(_ context.Context, id string) (domain.AutoBuyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.AutoBuyRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (m *memAutoBuyStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.AutoBuyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AutoBuyRequest
	for _, req := range m.requests {
		if req.Owner == owner {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memAutoBuyStore) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// --- trade store ---

type memTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.TradeRecord
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{trades: make(map[string]domain.TradeRecord)}
}

func (m *memTradeStore) Create(_ context.Context, rec domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[rec.ID] = rec
	return nil
}

func (m *memTradeStore) MarkConfirmed(_ context.Context, id string, fill domain.Fill, confirmedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = domain.TradeStatusConfirmed
	rec.ExecutedPrice = fill.ExecutedPrice
	rec.AmountOut = fill.ExecutedAmount
	rec.Signature = fill.Signature
	rec.ConfirmedAt = &confirmedAt
	m.trades[id] = rec
	return nil
}

func (m *memTradeStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = domain.TradeStatusFailed
	rec.Error = reason
	m.trades[id] = rec
	return nil
}

func (m *memTradeStore) GetByID(_ context.Context, id string) (domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[id]
	if !ok {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memTradeStore) ListByPosition(_ context.Context, positionID string) ([]domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TradeRecord
	for _, rec := range m.trades {
		if rec.PositionID == positionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memTradeStore) ListConfirmedBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TradeRecord
	for _, rec := range m.trades {
		if rec.Status == domain.TradeStatusConfirmed && rec.ConfirmedAt != nil && rec.ConfirmedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memTradeStore) all() []domain.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TradeRecord
	for _, rec := range m.trades {
		out = append(out, rec)
	}
	return out
}

// --- risk store ---

type memRiskStore struct {
	mu      sync.Mutex
	configs map[string]domain.UserRiskConfig
}

func newMemRiskStore() *memRiskStore {
	return &memRiskStore{configs: make(map[string]domain.UserRiskConfig)}
}

func (m *memRiskStore) Get(_ context.Context, owner string) (domain.UserRiskConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[owner]
	if !ok {
		return domain.UserRiskConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

func (m *memRiskStore) Upsert(_ context.Context, cfg domain.UserRiskConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Owner] = cfg
	return nil
}

// --- alert store ---

type memAlertStore struct {
	mu     sync.Mutex
	alerts map[string]domain.PriceAlert
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{alerts: make(map[string]domain.PriceAlert)}
}

func (m *memAlertStore) Create(_ context.Context, alert domain.PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = alert
	return nil
}

func (m *memAlertStore) ListActiveByToken(_ context.Context, tokenMint string) ([]domain.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceAlert
	for _, alert := range m.alerts {
		if !alert.Triggered && alert.TokenMint == tokenMint {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (m *memAlertStore) ActiveTokenMints(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, alert := range m.alerts {
		if alert.Triggered {
			continue
		}
		if _, ok := seen[alert.TokenMint]; ok {
			continue
		}
		seen[alert.TokenMint] = struct{}{}
		out = append(out, alert.TokenMint)
	}
	return out, nil
}

func (m *memAlertStore) MarkTriggered(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok || alert.Triggered {
		return false, nil
	}
	alert.Triggered = true
	alert.TriggeredAt = &at
	m.alerts[id] = alert
	return true, nil
}

func (m *memAlertStore) get(id string) (domain.PriceAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	return alert, ok
}

func (m *memAlertStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceAlert
	for _, alert := range m.alerts {
		if alert.Owner == owner {
			out = append(out, alert)
		}
	}
	return out, nil
}

// --- execution stub ---

type stubExecution struct {
	mu    sync.Mutex
	calls int
	fn    func(req domain.TradeRequest) (domain.Fill, error)
}

func (s *stubExecution) SubmitTrade(_ context.Context, req domain.TradeRequest) (domain.Fill, error) {
	s.mu.Lock()
	s.calls++
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return domain.Fill{}, domain.ErrExecution
	}
	return fn(req)
}

func (s *stubExecution) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// --- price feed stub ---

type stubFeed struct {
	price func(tokenMint string) (domain.PriceTick, error)
}

func (s *stubFeed) CurrentPrice(_ context.Context, tokenMint string) (domain.PriceTick, error) {
	if s.price == nil {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	return s.price(tokenMint)
}

func (s *stubFeed) Stream(_ context.Context, _ []string) (<-chan domain.PriceTick, error) {
	ch := make(chan domain.PriceTick)
	close(ch)
	return ch, nil
}

// --- notifier stub ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) eventCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// --- audit stub ---

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}
