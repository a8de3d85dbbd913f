// Package handler exposes the engine's request/response contracts over
// HTTP. Money fields travel as decimal strings, never floats.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/your-org/paper-ledger/internal/executor"
	"github.com/your-org/paper-ledger/internal/trading"
)

// TradeHandler handles trade execution and close requests.
type TradeHandler struct {
	exec *executor.Executor
}

// NewTradeHandler creates a new TradeHandler.
func NewTradeHandler(exec *executor.Executor) *TradeHandler {
	return &TradeHandler{exec: exec}
}

// RegisterRoutes registers trade routes on the chi router.
func (h *TradeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/trades", h.ExecuteTrade)
	r.Post("/trades/{tradeID}/close", h.ClosePosition)
}

type executeTradeRequest struct {
	AccountID      string           `json:"account_id"`
	Side           string           `json:"side"`
	Symbol         string           `json:"symbol"`
	Quantity       decimal.Decimal  `json:"quantity"`
	EntryPrice     decimal.Decimal  `json:"entry_price"`
	StopLoss       *decimal.Decimal `json:"stop_loss,omitempty"`
	TargetPrice    *decimal.Decimal `json:"target_price,omitempty"`
	Rationale      string           `json:"rationale,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

type closePositionRequest struct {
	ExitPrice decimal.Decimal `json:"exit_price"`
	Reason    string          `json:"reason,omitempty"`
}

// ExecuteTrade handles POST /trades.
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req executeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &trading.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}

	treq := executor.TradeRequest{
		AccountID:      req.AccountID,
		Symbol:         req.Symbol,
		Quantity:       req.Quantity,
		EntryPrice:     req.EntryPrice,
		Rationale:      req.Rationale,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.StopLoss != nil {
		treq.StopLoss = trading.NewPriceLevel(*req.StopLoss)
	}
	if req.TargetPrice != nil {
		treq.TargetPrice = trading.NewPriceLevel(*req.TargetPrice)
	}

	var (
		result executor.TradeResult
		err    error
	)
	switch trading.Side(req.Side) {
	case trading.SideBuy:
		result, err = h.exec.ExecuteBuy(r.Context(), treq)
	case trading.SideSell:
		result, err = h.exec.ExecuteSell(r.Context(), treq)
	default:
		err = &trading.ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ClosePosition handles POST /trades/{tradeID}/close.
func (h *TradeHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &trading.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}

	result, err := h.exec.ClosePosition(r.Context(), executor.CloseRequest{
		TradeID:   tradeID,
		ExitPrice: req.ExitPrice,
		Reason:    trading.CloseReason(req.Reason),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *trading.ValidationError
		funds      *trading.InsufficientFundsError
		notFound   *trading.NotFoundError
		durability *trading.DurabilityError
		conflict   *trading.ConcurrencyConflictError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &funds):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &durability):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
