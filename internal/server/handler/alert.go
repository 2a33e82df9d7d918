package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// AlertHandler serves price alert endpoints.
type AlertHandler struct {
	alerts domain.AlertStore
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(alerts domain.AlertStore, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logger}
}

type createAlertRequest struct {
	Owner       string `json:"owner"`
	TokenMint   string `json:"token_mint"`
	PositionID  string `json:"position_id,omitempty"`
	Direction   string `json:"direction"`
	TargetPrice string `json:"target_price"`
}

// CreateAlert registers a one-shot price alert.
// POST /api/alerts
func (h *AlertHandler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Owner == "" || req.TokenMint == "" {
		writeError(w, http.StatusBadRequest, "owner and token_mint are required")
		return
	}

	direction := domain.AlertDirection(req.Direction)
	if direction != domain.AlertAbove && direction != domain.AlertBelow {
		writeError(w, http.StatusBadRequest, "direction must be above or below")
		return
	}

	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil || !target.IsPositive() {
		writeError(w, http.StatusBadRequest, "target_price must be a positive decimal")
		return
	}

	alert := domain.PriceAlert{
		ID:          uuid.New().String(),
		Owner:       req.Owner,
		TokenMint:   req.TokenMint,
		PositionID:  req.PositionID,
		Direction:   direction,
		TargetPrice: target,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.alerts.Create(r.Context(), alert); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create alert failed",
			slog.String("owner", req.Owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create alert")
		return
	}

	writeJSON(w, http.StatusCreated, alert)
}

type listAlertsResponse struct {
	Alerts []domain.PriceAlert `json:"alerts"`
}

// ListAlerts returns an owner's alerts, newest first.
// GET /api/alerts?owner=...
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	alerts, err := h.alerts.ListByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list alerts failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	if alerts == nil {
		alerts = []domain.PriceAlert{}
	}
	writeJSON(w, http.StatusOK, listAlertsResponse{Alerts: alerts})
}
