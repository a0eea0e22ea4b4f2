package odds

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/models/api"
)

// SnapshotReader reads the latest odds snapshot.
type SnapshotReader interface {
	ListLatest(ctx context.Context, sportKey string) ([]models.Event, error)
}

// Handler handles latest-odds requests
type Handler struct {
	snapshots SnapshotReader
	logger    *logger.Logger
}

// NewHandler creates a new odds handler
func NewHandler(snapshots SnapshotReader, log *logger.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		logger:    log,
	}
}

// Latest handles the /api/odds endpoint. The snapshot is whatever the last
// successful refresh wrote; refresh failures never surface here.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	sport := r.URL.Query().Get("sport")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	events, err := h.snapshots.ListLatest(ctx, sport)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "query_odds_failed").
			Str("sport_key", sport).
			Msg("Failed to read odds snapshot")
		http.Error(w, "Failed to read odds snapshot", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	h.logger.Debug().
		Str("action", "odds_response").
		Str("sport_key", sport).
		Int("count", len(events)).
		Msg("Returning odds snapshot")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.OddsResponse{Odds: events, Count: len(events)}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
