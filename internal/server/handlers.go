package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradequote/internal/quote"
)

// Handlers binds HTTP routes to the orchestrator.
type Handlers struct {
	orch           *quote.Orchestrator
	metricsHandler http.Handler
}

// NewHandlers creates the handler set. metricsHandler may be nil to disable
// the /metrics route.
func NewHandlers(orch *quote.Orchestrator, metricsHandler http.Handler) *Handlers {
	return &Handlers{orch: orch, metricsHandler: metricsHandler}
}

// Health reports feed and book liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"feed_connected": h.orch.Connected(),
		"active_symbol":  h.orch.ActiveSymbol(),
	})
}

// Symbols lists the tracked symbols.
func (h *Handlers) Symbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Symbols())
}

// FeeTiers returns the static fee schedule.
func (h *Handlers) FeeTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.FeeTiers())
}

// Estimate prices a hypothetical order from query parameters.
func (h *Handlers) Estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	quantity, err := strconv.ParseFloat(q.Get("quantity"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "quantity must be a number")
		return
	}
	volatility, err := strconv.ParseFloat(q.Get("volatility"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "volatility must be a number")
		return
	}

	symbol := q.Get("symbol")
	if symbol == "" {
		symbol = h.orch.ActiveSymbol()
	}
	orderType := q.Get("order_type")
	if orderType == "" {
		orderType = "market"
	}

	req := quote.Request{
		Symbol:     symbol,
		OrderType:  orderType,
		Quantity:   quantity,
		Volatility: volatility,
		FeeTier:    q.Get("fee_tier"),
	}

	result, err := h.orch.Estimate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Performance returns the rolling latency statistics.
func (h *Handlers) Performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Performance())
}

// Book returns the symbol's summary and top-of-book liquidity profile.
func (h *Handlers) Book(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	summary, err := h.orch.BookSummary(symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	profile, _ := h.orch.LiquidityProfile(symbol, 10)

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":   summary,
		"liquidity": profile,
	})
}

// SwitchSymbol swaps the active subscription.
func (h *Handlers) SwitchSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	h.orch.SwitchSymbol(symbol)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"symbol": symbol,
	})
}

// NotFound is the JSON 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
