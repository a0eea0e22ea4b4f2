package sports

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/models/api"
)

// Catalogue reads the stored sports catalogue.
type Catalogue interface {
	ListSports(ctx context.Context) ([]models.Sport, error)
}

// Handler handles sports catalogue requests
type Handler struct {
	catalogue Catalogue
	logger    *logger.Logger
}

// NewHandler creates a new sports handler
func NewHandler(catalogue Catalogue, log *logger.Logger) *Handler {
	return &Handler{
		catalogue: catalogue,
		logger:    log,
	}
}

// List handles the /api/sports endpoint
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sports, err := h.catalogue.ListSports(ctx)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "query_sports_failed").
			Msg("Failed to read sports catalogue")
		http.Error(w, "Failed to read sports catalogue", http.StatusInternalServerError)
		return
	}
	if sports == nil {
		sports = []models.Sport{}
	}

	h.logger.Debug().
		Str("action", "sports_response").
		Int("count", len(sports)).
		Msg("Returning sports catalogue")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.SportsResponse{Sports: sports, Count: len(sports)}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
