// Package app assembles the StudyMate service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/studymate/internal/agent"
	"github.com/ashureev/studymate/internal/api"
	"github.com/ashureev/studymate/internal/config"
	"github.com/ashureev/studymate/internal/healthrpc"
	"github.com/ashureev/studymate/internal/llm"
	"github.com/ashureev/studymate/internal/middleware"
	"github.com/ashureev/studymate/internal/observability"
	"github.com/ashureev/studymate/internal/progress"
	"github.com/ashureev/studymate/internal/prompts"
	"github.com/ashureev/studymate/internal/realtime"
	"github.com/ashureev/studymate/internal/session"
	"github.com/ashureev/studymate/internal/store"
)

const shutdownTimeout = 10 * time.Second

// NewLogger builds a slog logger for the configured level.
func NewLogger(level string, w io.Writer, jsonFormat bool) *slog.Logger {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: slogLevel}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Repo      store.Repository
	Metrics   *observability.Metrics
	Prompts   *prompts.Set
	Completer llm.Completer
	Tools     *agent.Tools
	Registry  *session.Registry
	Limiter   *middleware.RateLimiter
	Conns     *realtime.ConnManager

	convLog agent.ConversationLogger
}

// Option customizes New.
type Option func(*App)

// WithCompleter replaces the OpenAI client, e.g. with a scripted fake.
func WithCompleter(c llm.Completer) Option {
	return func(a *App) { a.Completer = c }
}

// New opens the store and builds every component. Close releases them.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Metrics: observability.NewMetrics()}
	for _, opt := range opts {
		opt(a)
	}

	set, err := prompts.LoadFile(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	a.Prompts = set

	if a.Completer == nil {
		a.Completer = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		})
	}

	a.convLog, err = agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize conversation logger: %w", err)
	}

	a.Repo, err = store.Open(cfg.Store)
	if err != nil {
		_ = a.convLog.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	progressStore := progress.NewStore(cfg.ProgressDir)
	a.Tools = agent.NewTools(agent.ToolsConfig{
		Completer:        a.Completer,
		Prompts:          a.Prompts,
		Progress:         progressStore,
		Metrics:          a.Metrics,
		ConversationLog:  a.convLog,
		SearchExtensions: cfg.SearchExtensions,
		Root:             cfg.ToolsRoot,
	})
	a.Registry = session.NewRegistry(session.Config{
		Repo:            a.Repo,
		Completer:       a.Completer,
		Prompts:         a.Prompts,
		Tools:           a.Tools,
		Progress:        progressStore,
		Metrics:         a.Metrics,
		ConversationLog: a.convLog,
	})
	a.Limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	a.Conns = realtime.NewConnManager()

	return a, nil
}

// Router builds the HTTP handler.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Config:   a.Config,
		Registry: a.Registry,
		Repo:     a.Repo,
		Metrics:  a.Metrics,
		Limiter:  a.Limiter,
		Conns:    a.Conns,
	})
}

// Serve runs the HTTP server, and the gRPC health server when GRPC_PORT is
// set, until ctx is cancelled, then shuts both down gracefully.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Repo.Ping(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	slog.Info("Store connected", "driver", a.Config.Store.Driver)

	srv := &http.Server{
		Addr:         ":" + a.Config.Port,
		Handler:      a.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	var health *healthrpc.Server
	errCh := make(chan error, 2)

	if a.Config.GRPCPort != "" {
		health = healthrpc.New()
		go func() {
			if err := health.ListenAndServe(":" + a.Config.GRPCPort); err != nil {
				errCh <- err
			}
		}()
	}

	a.Limiter.StartPruner(ctx)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if health != nil {
		health.SetServing(true)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		slog.Error("Server failed", "error", serveErr)
	}

	slog.Info("Shutting down gracefully...")
	if health != nil {
		health.Drain()
	}
	a.Conns.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if health != nil {
		health.Stop()
	}

	slog.Info("Server stopped")
	return serveErr
}

// Close flushes the conversation log and closes the store.
func (a *App) Close() error {
	var errs []error
	if a.convLog != nil {
		if err := a.convLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close conversation log: %w", err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
