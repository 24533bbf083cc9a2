// Package session maps session ids to tutoring engines and their stored history.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/studymate/internal/agent"
	"github.com/ashureev/studymate/internal/domain"
	"github.com/ashureev/studymate/internal/identity"
	"github.com/ashureev/studymate/internal/llm"
	"github.com/ashureev/studymate/internal/observability"
	"github.com/ashureev/studymate/internal/progress"
	"github.com/ashureev/studymate/internal/prompts"
	"github.com/ashureev/studymate/internal/store"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRequest wraps validation failures of caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

// CreateRequest describes a new session.
type CreateRequest struct {
	GithubURL      string
	StudentName    string
	KnowledgeLevel string
}

// CreateResult is returned by Create.
type CreateResult struct {
	SessionID    string `json:"session_id"`
	Greeting     string `json:"greeting"`
	RepoAnalyzed bool   `json:"repo_analyzed"`
}

// Config wires a Registry.
type Config struct {
	Repo            store.Repository
	Completer       llm.Completer
	Prompts         *prompts.Set
	Tools           *agent.Tools
	Progress        *progress.Store
	Metrics         *observability.Metrics
	ConversationLog agent.ConversationLogger
}

// Registry owns one Tutor per live session. Session metadata and the display
// log live in the injected repository; tutors live in process memory.
type Registry struct {
	repo      store.Repository
	completer llm.Completer
	prompts   *prompts.Set
	tools     *agent.Tools
	progress  *progress.Store
	metrics   *observability.Metrics
	convLog   agent.ConversationLogger
	now       func() time.Time

	mu     sync.RWMutex
	tutors map[string]*agent.Tutor
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Repo == nil {
		cfg.Repo = store.NewMemory()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.Default()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.NewStore("data/progress")
	}
	if cfg.ConversationLog == nil {
		cfg.ConversationLog = agent.NopConversationLogger()
	}
	if cfg.Tools == nil {
		cfg.Tools = agent.NewTools(agent.ToolsConfig{
			Completer:       cfg.Completer,
			Prompts:         cfg.Prompts,
			Progress:        cfg.Progress,
			Metrics:         cfg.Metrics,
			ConversationLog: cfg.ConversationLog,
		})
	}
	return &Registry{
		repo:      cfg.Repo,
		completer: cfg.Completer,
		prompts:   cfg.Prompts,
		tools:     cfg.Tools,
		progress:  cfg.Progress,
		metrics:   cfg.Metrics,
		convLog:   cfg.ConversationLog,
		now:       time.Now,
		tutors:    make(map[string]*agent.Tutor),
	}
}

func (r *Registry) newTutor() *agent.Tutor {
	return agent.NewTutor(r.completer,
		agent.WithSystemPrompt(r.prompts.System()),
		agent.WithMetrics(r.metrics),
		agent.WithConversationLogger(r.convLog),
	)
}

// Create starts a session and asks the tutor for a personalized greeting,
// which becomes the first entry of the display log.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if strings.TrimSpace(req.GithubURL) == "" {
		return CreateResult{}, fmt.Errorf("%w: github_url is required", ErrInvalidRequest)
	}
	level, err := domain.ParseKnowledgeLevel(strings.ToLower(strings.TrimSpace(req.KnowledgeLevel)))
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	name := strings.TrimSpace(req.StudentName)
	if name == "" {
		name = domain.DefaultStudentName
	}

	prompt, err := r.prompts.Greeting(prompts.GreetingData{
		StudentName:    name,
		KnowledgeLevel: string(level),
		GithubURL:      req.GithubURL,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("render greeting prompt: %w", err)
	}

	sess := &domain.Session{
		ID:             identity.NewSessionID(),
		GithubURL:      req.GithubURL,
		StudentName:    name,
		KnowledgeLevel: level,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.repo.CreateSession(ctx, sess); err != nil {
		return CreateResult{}, fmt.Errorf("create session: %w", err)
	}

	// The tutor becomes visible only once the greeting is stored.
	tutor := r.newTutor()
	greeting := tutor.Teach(ctx, prompt, sess.ID)
	if err := r.appendMessage(ctx, sess.ID, domain.RoleAssistant, greeting); err != nil {
		return CreateResult{}, err
	}

	r.mu.Lock()
	r.tutors[sess.ID] = tutor
	count := len(r.tutors)
	r.mu.Unlock()
	r.metrics.SetActiveSessions(count)

	slog.Info("Session created",
		"session_id", sess.ID,
		"knowledge_level", level,
		"active_sessions", count,
	)
	r.convLog.Log(agent.ConversationLogEvent{
		SessionID:  sess.ID,
		Channel:    "session",
		Direction:  "outbound",
		EventType:  "session_created",
		ContentRaw: greeting,
		Meta: map[string]any{
			"github_url":      req.GithubURL,
			"student_name":    name,
			"knowledge_level": string(level),
		},
	})

	return CreateResult{SessionID: sess.ID, Greeting: greeting, RepoAnalyzed: false}, nil
}

// tutor returns the engine of a session. A session that exists in the
// repository but not in memory (after a restart) gets a fresh engine.
func (r *Registry) tutor(ctx context.Context, sessionID string) (*agent.Tutor, error) {
	r.mu.RLock()
	t, ok := r.tutors[sessionID]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	if _, err := r.repo.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tutors[sessionID]; ok {
		return t, nil
	}
	t = r.newTutor()
	r.tutors[sessionID] = t
	r.metrics.SetActiveSessions(len(r.tutors))
	slog.Info("Restored tutor for stored session", "session_id", sessionID)
	return t, nil
}

// Exists reports whether the session is known to the repository.
func (r *Registry) Exists(ctx context.Context, sessionID string) (bool, error) {
	r.mu.RLock()
	_, ok := r.tutors[sessionID]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}
	_, err := r.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	return true, nil
}

// Dispatch relays one student message and returns the tutor's reply.
func (r *Registry) Dispatch(ctx context.Context, sessionID, message string) (string, error) {
	tutor, err := r.tutor(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if err := r.appendMessage(ctx, sessionID, domain.RoleUser, message); err != nil {
		return "", err
	}
	r.convLog.Log(agent.ConversationLogEvent{
		SessionID:  sessionID,
		Channel:    "chat",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: message,
	})

	start := r.now()
	reply := tutor.Teach(ctx, message, sessionID)

	if err := r.appendMessage(ctx, sessionID, domain.RoleAssistant, reply); err != nil {
		return "", err
	}
	r.convLog.Log(agent.ConversationLogEvent{
		SessionID:  sessionID,
		Channel:    "chat",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: reply,
		Meta: map[string]any{
			"duration_ms": r.now().Sub(start).Milliseconds(),
			"fallback":    reply == agent.FallbackResponse,
		},
	})
	return reply, nil
}

func (r *Registry) appendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error {
	err := r.repo.AppendMessage(ctx, sessionID, domain.StoredMessage{
		Role:      role,
		Content:   content,
		Timestamp: r.now().UTC(),
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("store %s message: %w", role, err)
	}
	return nil
}

// History returns the display log of a session.
func (r *Registry) History(ctx context.Context, sessionID string) ([]domain.StoredMessage, error) {
	msgs, err := r.repo.ListMessages(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Progress returns the persisted progress of a session. found is false when
// nothing has been tracked yet.
func (r *Registry) Progress(_ context.Context, sessionID string) (domain.Progress, bool, error) {
	p, err := r.progress.Load(sessionID)
	if errors.Is(err, progress.ErrNoProgress) || errors.Is(err, progress.ErrInvalidSessionID) {
		return domain.Progress{}, false, nil
	}
	if err != nil {
		return domain.Progress{}, false, err
	}
	return p, true, nil
}

// Reset clears the tutor transcript of a session. The display log is kept.
func (r *Registry) Reset(ctx context.Context, sessionID string) error {
	tutor, err := r.tutor(ctx, sessionID)
	if err != nil {
		return err
	}
	tutor.Reset()
	slog.Info("Session transcript reset", "session_id", sessionID)
	return nil
}

// RunTool dispatches a tool command on behalf of a session.
func (r *Registry) RunTool(ctx context.Context, sessionID string, cmd agent.Command) (agent.ToolResult, error) {
	if _, err := r.tutor(ctx, sessionID); err != nil {
		return agent.ToolResult{}, err
	}
	return r.tools.Dispatch(ctx, sessionID, cmd), nil
}

// Transcript exposes the engine transcript of a session.
func (r *Registry) Transcript(ctx context.Context, sessionID string) ([]agent.Message, error) {
	tutor, err := r.tutor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return tutor.Transcript(), nil
}

// Count returns the number of sessions with a live tutor in this process.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tutors)
}
