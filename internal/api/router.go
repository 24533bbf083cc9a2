package api

import (
	"net/http"

	"github.com/ashureev/studymate/internal/config"
	"github.com/ashureev/studymate/internal/identity"
	"github.com/ashureev/studymate/internal/middleware"
	"github.com/ashureev/studymate/internal/observability"
	"github.com/ashureev/studymate/internal/realtime"
	"github.com/ashureev/studymate/internal/session"
	"github.com/ashureev/studymate/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the dependencies of the HTTP surface.
type RouterConfig struct {
	Config   *config.Config
	Registry *session.Registry
	Repo     store.Repository
	Metrics  *observability.Metrics
	Limiter  *middleware.RateLimiter // nil disables chat throttling
	Conns    *realtime.ConnManager
}

// NewRouter builds the chi router with global middleware and every route.
func NewRouter(rc RouterConfig) chi.Router {
	cfg := rc.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	if rc.Conns == nil {
		rc.Conns = realtime.NewConnManager()
	}

	baseHandler := NewHandler(rc.Registry, rc.Repo, cfg)
	healthHandler := NewHealthHandler(baseHandler, rc.Conns)
	sessionHandler := NewSessionHandler(baseHandler)
	chatHandler := NewChatHandler(baseHandler, rc.Limiter)
	wsHandler := realtime.NewWebSocketHandler(rc.Registry, rc.Conns, rc.Limiter, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware)
	if rc.Metrics != nil {
		r.Use(middleware.Metrics(rc.Metrics))
	}

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	if rc.Metrics != nil {
		r.Handle("/metrics", rc.Metrics.Handler())
	}

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusNotFound, "not found")
	})

	return r
}
