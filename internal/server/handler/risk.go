package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

// RiskHandler serves per-wallet risk configuration endpoints.
type RiskHandler struct {
	configs domain.RiskConfigStore
	logger  *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(configs domain.RiskConfigStore, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{configs: configs, logger: logger}
}

// GetConfig returns the risk configuration for an owner.
// GET /api/risk/{owner}
func (h *RiskHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")

	cfg, err := h.configs.Get(r.Context(), owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "risk config not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get risk config failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get risk config")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

type riskConfigRequest struct {
	AutoBuyEnabled      bool    `json:"auto_buy_enabled"`
	DefaultBuyAmount    string  `json:"default_buy_amount"`
	MaxBuyAmount        string  `json:"max_buy_amount"`
	DefaultSlippageBps  int64   `json:"default_slippage_bps"`
	MaxSlippageBps      int64   `json:"max_slippage_bps"`
	TrailingStopEnabled bool    `json:"trailing_stop_enabled"`
	TrailingPct         string  `json:"trailing_pct"`
	StopLossPct         *string `json:"stop_loss_pct,omitempty"`
	TakeProfitPct       *string `json:"take_profit_pct,omitempty"`
}

// PutConfig creates or replaces the risk configuration for an owner.
// PUT /api/risk/{owner}
func (h *RiskHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")

	var req riskConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := req.toDomain(owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.configs.Upsert(r.Context(), cfg); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: put risk config failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store risk config")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (req riskConfigRequest) toDomain(owner string) (domain.UserRiskConfig, error) {
	cfg := domain.UserRiskConfig{
		Owner:               owner,
		AutoBuyEnabled:      req.AutoBuyEnabled,
		DefaultSlippageBps:  req.DefaultSlippageBps,
		MaxSlippageBps:      req.MaxSlippageBps,
		TrailingStopEnabled: req.TrailingStopEnabled,
		UpdatedAt:           time.Now().UTC(),
	}

	var err error
	if cfg.DefaultBuyAmount, err = parseDecimalField(req.DefaultBuyAmount, "default_buy_amount"); err != nil {
		return domain.UserRiskConfig{}, err
	}
	if cfg.MaxBuyAmount, err = parseDecimalField(req.MaxBuyAmount, "max_buy_amount"); err != nil {
		return domain.UserRiskConfig{}, err
	}
	if req.TrailingPct != "" {
		if cfg.TrailingPct, err = parseFraction(req.TrailingPct, "trailing_pct"); err != nil {
			return domain.UserRiskConfig{}, err
		}
	}
	if req.StopLossPct != nil {
		sl, err := parseFraction(*req.StopLossPct, "stop_loss_pct")
		if err != nil {
			return domain.UserRiskConfig{}, err
		}
		cfg.StopLossPct = &sl
	}
	if req.TakeProfitPct != nil {
		tp, err := parseDecimalField(*req.TakeProfitPct, "take_profit_pct")
		if err != nil {
			return domain.UserRiskConfig{}, err
		}
		if !tp.IsPositive() {
			return domain.UserRiskConfig{}, errors.New("take_profit_pct must be positive")
		}
		cfg.TakeProfitPct = &tp
	}

	if cfg.DefaultSlippageBps < 0 || cfg.MaxSlippageBps < 0 {
		return domain.UserRiskConfig{}, errors.New("slippage bounds must be non-negative")
	}
	if cfg.MaxBuyAmount.IsPositive() && cfg.DefaultBuyAmount.GreaterThan(cfg.MaxBuyAmount) {
		return domain.UserRiskConfig{}, errors.New("default_buy_amount exceeds max_buy_amount")
	}
	return cfg, nil
}

func parseDecimalField(s, name string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("invalid " + name)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New(name + " must be non-negative")
	}
	return d, nil
}

// parseFraction parses a decimal that must lie in (0, 1).
func parseFraction(s, name string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("invalid " + name)
	}
	if !d.IsPositive() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.New(name + " must be a fraction in (0, 1)")
	}
	return d, nil
}
