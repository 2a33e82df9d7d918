package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/solsignal/tradebot/internal/domain"
)

// PositionService defines the ledger methods the position handler requires.
type PositionService interface {
	Get(ctx context.Context, id string) (domain.Position, error)
	ListOpen(ctx context.Context, owner string) ([]domain.Position, error)
}

// PositionCloser closes a position on demand.
type PositionCloser interface {
	ClosePositionManually(ctx context.Context, positionID string, reason domain.ExitReason) (domain.Position, error)
}

// HistoryStore serves closed-position history queries.
type HistoryStore interface {
	ListHistory(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	closer    PositionCloser
	history   HistoryStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, closer PositionCloser, history HistoryStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		closer:    closer,
		history:   history,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns open positions, optionally filtered by owner.
// GET /api/positions?owner=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")

	positions, err := h.positions.ListOpen(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	pos, err := h.positions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

type closePositionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ClosePosition sells out a position at the current market price.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req closePositionRequest
	if r.Body != nil {
		// An empty body means a default manual close.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	pos, err := h.closer.ClosePositionManually(r.Context(), id, domain.ExitReason(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: close position failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "close failed; position remains open")
		}
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// ListHistory returns an owner's past positions.
// GET /api/positions/history?owner=...
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	positions, err := h.history.ListHistory(r.Context(), owner, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
