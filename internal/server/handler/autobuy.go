package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
	"github.com/solsignal/tradebot/internal/engine"
)

// AutoBuyService defines the coordinator methods the auto-buy handler requires.
type AutoBuyService interface {
	Enqueue(ctx context.Context, p engine.EnqueueParams) (string, error)
	GetRequest(ctx context.Context, id string) (domain.AutoBuyRequest, error)
}

// AutoBuyHandler serves auto-buy queue endpoints.
type AutoBuyHandler struct {
	autobuy AutoBuyService
	logger  *slog.Logger
}

// NewAutoBuyHandler creates an AutoBuyHandler.
func NewAutoBuyHandler(autobuy AutoBuyService, logger *slog.Logger) *AutoBuyHandler {
	return &AutoBuyHandler{autobuy: autobuy, logger: logger}
}

type enqueueRequest struct {
	Owner          string `json:"owner"`
	TokenMint      string `json:"token_mint"`
	Amount         string `json:"amount"`
	MaxPrice       string `json:"max_price,omitempty"`
	MaxSlippageBps *int64 `json:"max_slippage_bps,omitempty"`
	SignalID       string `json:"signal_id,omitempty"`
}

type enqueueResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Enqueue queues a buy intent for asynchronous execution.
// POST /api/autobuy
func (h *AutoBuyHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	params := engine.EnqueueParams{
		Owner:          req.Owner,
		TokenMint:      req.TokenMint,
		Amount:         amount,
		MaxSlippageBps: req.MaxSlippageBps,
		SignalID:       req.SignalID,
	}
	if req.MaxPrice != "" {
		mp, err := decimal.NewFromString(req.MaxPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_price")
			return
		}
		params.MaxPrice = &mp
	}

	id, err := h.autobuy.Enqueue(r.Context(), params)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: enqueue autobuy failed",
			slog.String("owner", req.Owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to enqueue request")
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		RequestID: id,
		Status:    string(domain.AutoBuyStatusPending),
	})
}

// GetRequest returns the status of a queued request, including the failure
// reason for failed requests.
// GET /api/autobuy/{id}
func (h *AutoBuyHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	req, err := h.autobuy.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get autobuy failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}

	writeJSON(w, http.StatusOK, req)
}
