package refresh

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/models/api"
)

// Scheduler starts a refresh run, or joins the one in flight, and waits for
// its result.
type Scheduler interface {
	Trigger(ctx context.Context) (models.RefreshResult, error)
}

// Handler handles manual refresh requests
type Handler struct {
	scheduler Scheduler
	logger    *logger.Logger
}

// NewHandler creates a new refresh handler
func NewHandler(scheduler Scheduler, log *logger.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		logger:    log,
	}
}

// Trigger handles POST /api/refresh. The call blocks until the refresh
// completes; concurrent callers share one run and one result.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.scheduler.Trigger(r.Context())
	if err != nil {
		// Shutdown in progress, or the caller gave up waiting.
		h.logger.Warn().
			Err(err).
			Str("action", "refresh_unavailable").
			Msg("Manual refresh did not complete")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "refresh unavailable: " + err.Error()})
		return
	}

	code := http.StatusOK
	switch res.Status {
	case models.RefreshFailed:
		code = http.StatusBadGateway
	case models.RefreshCancelled:
		code = http.StatusServiceUnavailable
	}

	h.logger.Info().
		Str("action", "manual_refresh").
		Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Int("detected", res.Detected).
		Int("persisted", res.Persisted).
		Int64("duration_ms", res.DurationMs).
		Msg("Manual refresh completed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
