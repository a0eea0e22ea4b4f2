package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/arblens/core/internal/config"
	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/models/api"
)

// RunSource reports the most recently completed refresh.
type RunSource interface {
	LastRun() *models.RefreshResult
}

// QuotaSource is the feed client's in-memory quota observation.
type QuotaSource interface {
	LastQuota() *models.QuotaSnapshot
}

// QuotaStore reads the persisted quota history, used before the first
// upstream call of this process.
type QuotaStore interface {
	LastQuota(ctx context.Context) (*models.QuotaSnapshot, error)
}

// Handler handles application status requests
type Handler struct {
	configured api.ConfiguredResponse
	runs       RunSource
	feed       QuotaSource
	store      QuotaStore
	logger     *logger.Logger
}

// NewHandler creates a new status handler. The configuration snapshot is
// taken once; it cannot change while the process runs.
func NewHandler(cfg *config.Config, runs RunSource, feed QuotaSource, store QuotaStore, log *logger.Logger) *Handler {
	return &Handler{
		configured: api.ConfiguredResponse{
			APIKeyConfigured: cfg.OddsAPI.APIKey != "",
			RefreshIntervalS: cfg.Scheduler.RefreshIntervalS,
			SportsTracked:    emptyIfNil(cfg.Scheduler.Sports),
			Markets:          emptyIfNil(cfg.OddsAPI.Markets),
			Regions:          emptyIfNil(cfg.OddsAPI.Regions),
			MinProfitPct:     cfg.Detector.MinProfitPct,
			OddsFormat:       cfg.OddsAPI.OddsFormat,
		},
		runs:   runs,
		feed:   feed,
		store:  store,
		logger: log,
	}
}

// Status handles the /api/status endpoint
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	quota := h.feed.LastQuota()
	if quota == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stored, err := h.store.LastQuota(ctx)
		if err != nil {
			h.logger.Warn().
				Err(err).
				Str("action", "quota_read_failed").
				Msg("Stored quota unavailable")
		} else {
			quota = stored
		}
	}

	response := api.StatusResponse{
		Configured: h.configured,
		LastRun:    h.runs.LastRun(),
		Quota:      quota,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
