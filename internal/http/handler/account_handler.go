package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/your-org/paper-ledger/internal/executor"
	"github.com/your-org/paper-ledger/internal/history"
	"github.com/your-org/paper-ledger/internal/metrics"
	"github.com/your-org/paper-ledger/internal/trading"
)

// AccountHandler serves account overview, open positions, trade history
// and metrics.
type AccountHandler struct {
	exec       *executor.Executor
	store      history.Store
	aggregator *metrics.Aggregator
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(exec *executor.Executor, store history.Store, aggregator *metrics.Aggregator) *AccountHandler {
	return &AccountHandler{exec: exec, store: store, aggregator: aggregator}
}

// RegisterRoutes registers account routes on the chi router.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/accounts/{accountID}", h.GetAccountOverview)
	r.Get("/accounts/{accountID}/positions", h.GetOpenPositions)
	r.Get("/accounts/{accountID}/trades", h.GetTradeHistory)
	r.Get("/accounts/{accountID}/metrics", h.GetMetrics)
}

// GetAccountOverview handles GET /accounts/{accountID}.
func (h *AccountHandler) GetAccountOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.exec.AccountOverview(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type positionResponse struct {
	TradeID       string           `json:"trade_id"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	StopLoss      *decimal.Decimal `json:"stop_loss,omitempty"`
	TargetPrice   *decimal.Decimal `json:"target_price,omitempty"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	OpenedAt      string           `json:"opened_at"`
}

// GetOpenPositions handles GET /accounts/{accountID}/positions.
func (h *AccountHandler) GetOpenPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.exec.OpenPositions(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		pr := positionResponse{
			TradeID:       p.TradeID,
			Symbol:        p.Symbol,
			Side:          string(p.Side),
			Quantity:      p.Quantity,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  p.CurrentPrice,
			UnrealizedPnL: p.UnrealizedPnL(),
			OpenedAt:      p.OpenedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		}
		if p.StopLoss.Valid {
			sl := p.StopLoss.Price
			pr.StopLoss = &sl
		}
		if p.TargetPrice.Valid {
			tp := p.TargetPrice.Price
			pr.TargetPrice = &tp
		}
		resp = append(resp, pr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTradeHistory handles GET /accounts/{accountID}/trades.
func (h *AccountHandler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, &trading.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = parsed
	}

	trades, err := h.store.GetRecent(r.Context(),
		chi.URLParam(r, "accountID"), limit, r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []trading.ClosedTrade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

type metricsResponse struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	AvgWin        decimal.Decimal `json:"avg_win"`
	AvgLoss       decimal.Decimal `json:"avg_loss"`
	LargestWin    decimal.Decimal `json:"largest_win"`
	LargestLoss   decimal.Decimal `json:"largest_loss"`
	WinRate       float64         `json:"win_rate"`
	ProfitFactor  string          `json:"profit_factor"`
}

// GetMetrics handles GET /accounts/{accountID}/metrics.
func (h *AccountHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.aggregator.ForAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	// Infinity has no JSON number representation, so profit factor is a
	// string: "Inf" when there are wins and no losses.
	pf := strconv.FormatFloat(m.ProfitFactor, 'f', -1, 64)
	if math.IsInf(m.ProfitFactor, 1) {
		pf = "Inf"
	}

	writeJSON(w, http.StatusOK, metricsResponse{
		TotalTrades:   m.TotalTrades,
		WinningTrades: m.WinningTrades,
		LosingTrades:  m.LosingTrades,
		AvgWin:        m.AvgWin,
		AvgLoss:       m.AvgLoss,
		LargestWin:    m.LargestWin,
		LargestLoss:   m.LargestLoss,
		WinRate:       m.WinRate,
		ProfitFactor:  pf,
	})
}
