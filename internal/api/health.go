package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/studymate/internal/realtime"
	"github.com/go-chi/chi/v5"
)

// Service metadata reported by the root endpoint.
const (
	ServiceName    = "StudyMate API"
	ServiceVersion = "1.0.0"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	*Handler
	conns *realtime.ConnManager
	now   func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler, conns *realtime.ConnManager) *HealthHandler {
	return &HealthHandler{Handler: base, conns: conns, now: time.Now}
}

// Root returns service metadata.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":                "healthy",
		"agents_initialized":    h.registry.Count(),
		"websocket_connections": h.conns.Count(),
		"openai_key_configured": h.cfg != nil && h.cfg.OpenAI.APIKey != "",
		"timestamp":             h.now().UTC().Format(time.RFC3339),
		"checks":                checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	active, err := h.repo.CountSessions(ctx)
	if err != nil {
		slog.Warn("Failed to count sessions", "error", err)
		active = h.registry.Count()
	}
	status["active_sessions"] = active

	JSON(w, statusCode, status)
}

// RegisterHealth registers the root and health check routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
}
