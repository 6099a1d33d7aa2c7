package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/trigger"
)

// HealthHandler serves the health-check endpoint with a summary of the
// deployed triggers.
type HealthHandler struct {
	mode     string
	registry *trigger.Registry
	logger   *slog.Logger
	started  time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(mode string, registry *trigger.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:     mode,
		registry: registry,
		logger:   logger,
		started:  time.Now().UTC(),
	}
}

// HealthCheck reports liveness plus a count of deployed triggers, split by
// whether they have already tripped.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	var total, triggered int
	if h.registry != nil {
		for _, t := range h.registry.List() {
			total++
			if t.State() == domain.TriggerStateTriggered {
				triggered++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"triggers":       total,
		"triggered":      triggered,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
