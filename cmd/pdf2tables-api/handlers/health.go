package handlers

import (
	"net/http"

	"github.com/spherical/pdf2tables/internal/observability"
)

// Prober reports whether new work can still be stored.
type Prober interface {
	Healthy() error
}

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	logger *observability.Logger
	probe  Prober
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(logger *observability.Logger, probe Prober) *HealthHandler {
	return &HealthHandler{logger: logger, probe: probe}
}

// Health handles GET /healthz. It fails only when storage cannot be
// allocated.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.probe.Healthy(); err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("health probe failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "pdf2tables",
			"detail":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pdf2tables",
	})
}
