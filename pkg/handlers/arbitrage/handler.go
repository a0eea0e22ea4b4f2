package arbitrage

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/models/api"
	"github.com/arblens/core/pkg/store"
)

// OpportunityReader reads detected opportunities from the store.
type OpportunityReader interface {
	CurrentOpportunities(ctx context.Context, sportKey string, minProfitPct float64, limit int, now time.Time) ([]models.Opportunity, error)
	ListOpportunities(ctx context.Context, f store.OpportunityFilter) ([]models.Opportunity, error)
}

// Handler handles arbitrage opportunity requests
type Handler struct {
	opportunities OpportunityReader
	logger        *logger.Logger
}

// NewHandler creates a new arbitrage handler
func NewHandler(opportunities OpportunityReader, log *logger.Logger) *Handler {
	return &Handler{
		opportunities: opportunities,
		logger:        log,
	}
}

// Current handles the /api/arbitrage endpoint: opportunities from the most
// recent run whose events have not commenced.
// Query parameters: sport, min_profit, limit.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sport := q.Get("sport")
	minProfit := parseFloat(q.Get("min_profit"), 0)
	limit := parseInt(q.Get("limit"), 0)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ops, err := h.opportunities.CurrentOpportunities(ctx, sport, minProfit, limit, time.Now().UTC())
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "query_arbitrage_failed").
			Str("sport_key", sport).
			Msg("Failed to read current opportunities")
		http.Error(w, "Failed to read opportunities", http.StatusInternalServerError)
		return
	}

	h.logger.Debug().
		Str("action", "arbitrage_response").
		Str("sport_key", sport).
		Float64("min_profit_pct", minProfit).
		Int("count", len(ops)).
		Msg("Returning current opportunities")

	h.writeOpportunities(w, ops)
}

// History handles the /api/arbitrage/history endpoint: the append-only
// opportunity log, newest first.
// Query parameters: since (RFC3339), sport, min_profit, limit.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OpportunityFilter{
		Sport:        q.Get("sport"),
		MinProfitPct: parseFloat(q.Get("min_profit"), 0),
		Limit:        parseInt(q.Get("limit"), 0),
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "since must be an RFC3339 timestamp"})
			return
		}
		filter.Since = since
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ops, err := h.opportunities.ListOpportunities(ctx, filter)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "query_history_failed").
			Str("sport_key", filter.Sport).
			Msg("Failed to read opportunity history")
		http.Error(w, "Failed to read opportunity history", http.StatusInternalServerError)
		return
	}

	h.logger.Debug().
		Str("action", "history_response").
		Str("sport_key", filter.Sport).
		Int("count", len(ops)).
		Msg("Returning opportunity history")

	h.writeOpportunities(w, ops)
}

func (h *Handler) writeOpportunities(w http.ResponseWriter, ops []models.Opportunity) {
	if ops == nil {
		ops = []models.Opportunity{}
	}
	response := api.ArbitrageResponse{
		Arbitrage: ops,
		Count:     len(ops),
		Timestamp: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// parseFloat falls back to the default on absent or malformed values, the
// same way limits behave elsewhere on the read surface.
func parseFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
