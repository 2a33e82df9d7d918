package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solsignal/tradebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePositionService struct {
	get      func(id string) (domain.Position, error)
	listOpen func(owner string) ([]domain.Position, error)
}

func (f *fakePositionService) Get(_ context.Context, id string) (domain.Position, error) {
	return f.get(id)
}

func (f *fakePositionService) ListOpen(_ context.Context, owner string) ([]domain.Position, error) {
	return f.listOpen(owner)
}

type fakeCloser struct {
	close func(id string, reason domain.ExitReason) (domain.Position, error)
}

func (f *fakeCloser) ClosePositionManually(_ context.Context, id string, reason domain.ExitReason) (domain.Position, error) {
	return f.close(id, reason)
}

type fakeHistory struct {
	list func(owner string, opts domain.ListOpts) ([]domain.Position, error)
}

func (f *fakeHistory) ListHistory(_ context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	return f.list(owner, opts)
}

func routedMux(h *PositionHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions", h.ListPositions)
	mux.HandleFunc("GET /api/positions/history", h.ListHistory)
	mux.HandleFunc("GET /api/positions/{id}", h.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", h.ClosePosition)
	return mux
}

func openPosition(id string) domain.Position {
	return domain.Position{
		ID:        id,
		Owner:     "wallet-1",
		TokenMint: "MINT",
		Status:    domain.PositionStatusOpen,
	}
}

func TestGetPosition_NotFound(t *testing.T) {
	h := NewPositionHandler(&fakePositionService{
		get: func(string) (domain.Position, error) { return domain.Position{}, domain.ErrNotFound },
	}, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "position not found")
}

func TestGetPosition_OK(t *testing.T) {
	h := NewPositionHandler(&fakePositionService{
		get: func(id string) (domain.Position, error) { return openPosition(id), nil },
	}, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/pos-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pos-1"`)
}

func TestListPositions_EmptyIsJSONArray(t *testing.T) {
	h := NewPositionHandler(&fakePositionService{
		listOpen: func(string) ([]domain.Position, error) { return nil, nil },
	}, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestClosePosition_ReasonForwarded(t *testing.T) {
	var gotReason domain.ExitReason
	h := NewPositionHandler(nil, &fakeCloser{
		close: func(id string, reason domain.ExitReason) (domain.Position, error) {
			gotReason = reason
			pos := openPosition(id)
			pos.Status = domain.PositionStatusClosed
			pos.ExitReason = reason
			return pos, nil
		},
	}, nil, testLogger())

	body := strings.NewReader(`{"reason":"manual"}`)
	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ExitReasonManual, gotReason)
}

func TestClosePosition_ExecutionFailureIs502(t *testing.T) {
	h := NewPositionHandler(nil, &fakeCloser{
		close: func(string, domain.ExitReason) (domain.Position, error) {
			return domain.Position{}, domain.ErrExecution
		},
	}, nil, testLogger())

	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "position remains open")
}

func TestClosePosition_BadReasonIs400(t *testing.T) {
	h := NewPositionHandler(nil, &fakeCloser{
		close: func(string, domain.ExitReason) (domain.Position, error) {
			return domain.Position{}, domain.ErrValidation
		},
	}, nil, testLogger())

	body := strings.NewReader(`{"reason":"bogus"}`)
	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListHistory_RequiresOwner(t *testing.T) {
	h := NewPositionHandler(nil, nil, &fakeHistory{}, testLogger())

	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/history", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListHistory_PassesListOpts(t *testing.T) {
	var gotOpts domain.ListOpts
	h := NewPositionHandler(nil, nil, &fakeHistory{
		list: func(_ string, opts domain.ListOpts) ([]domain.Position, error) {
			gotOpts = opts
			return []domain.Position{openPosition("pos-1")}, nil
		},
	}, testLogger())

	rec := httptest.NewRecorder()
	routedMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/history?owner=wallet-1&limit=10&offset=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, gotOpts.Limit)
	assert.Equal(t, 5, gotOpts.Offset)
}
