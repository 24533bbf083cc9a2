package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/studymate/internal/agent"
	"github.com/ashureev/studymate/internal/config"
	"github.com/ashureev/studymate/internal/domain"
	"github.com/ashureev/studymate/internal/llm"
	"github.com/ashureev/studymate/internal/middleware"
	"github.com/ashureev/studymate/internal/observability"
	"github.com/ashureev/studymate/internal/progress"
	"github.com/ashureev/studymate/internal/session"
	"github.com/ashureev/studymate/internal/store"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _ []llm.Message, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type testAPI struct {
	router   http.Handler
	registry *session.Registry
	metrics  *observability.Metrics
	root     string
}

func newTestAPI(t *testing.T, c llm.Completer, limiter *middleware.RateLimiter) *testAPI {
	t.Helper()
	repo := store.NewMemory()
	metrics := observability.NewMetrics()
	progressStore := progress.NewStore(t.TempDir())
	root := t.TempDir()

	tools := agent.NewTools(agent.ToolsConfig{
		Completer: c,
		Progress:  progressStore,
		Metrics:   metrics,
		Root:      root,
	})
	registry := session.NewRegistry(session.Config{
		Repo:      repo,
		Completer: c,
		Tools:     tools,
		Progress:  progressStore,
		Metrics:   metrics,
	})
	cfg := &config.Config{OpenAI: config.OpenAIConfig{APIKey: "sk-test"}}

	return &testAPI{
		router: NewRouter(RouterConfig{
			Config:   cfg,
			Registry: registry,
			Repo:     repo,
			Metrics:  metrics,
			Limiter:  limiter,
		}),
		registry: registry,
		metrics:  metrics,
		root:     root,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type createResp struct {
	SessionID    string `json:"session_id"`
	Greeting     string `json:"greeting"`
	RepoAnalyzed bool   `json:"repo_analyzed"`
}

type historyResp struct {
	SessionID     string                 `json:"session_id"`
	Messages      []domain.StoredMessage `json:"messages"`
	TotalMessages int                    `json:"total_messages"`
}

func (a *testAPI) createSession(t *testing.T) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/session/create", map[string]string{
		"github_url":      "https://github.com/x/y",
		"student_name":    "Ana",
		"knowledge_level": "beginner",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[createResp](t, w).SessionID
}

func TestBeginnerSessionScenario(t *testing.T) {
	c := &fakeCompleter{reply: "Hi Ana! What would you like to explore first?"}
	a := newTestAPI(t, c, nil)

	w := a.do(t, http.MethodPost, "/session/create", map[string]string{
		"github_url":      "https://github.com/x/y",
		"student_name":    "Ana",
		"knowledge_level": "beginner",
	})
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[createResp](t, w)
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, c.reply, created.Greeting)
	assert.False(t, created.RepoAnalyzed)

	w = a.do(t, http.MethodPost, "/chat", map[string]string{
		"session_id": created.SessionID,
		"message":    "What is a function?",
	})
	require.Equal(t, http.StatusOK, w.Code)
	chat := decode[map[string]string](t, w)
	assert.Equal(t, created.SessionID, chat["session_id"])
	assert.Equal(t, c.reply, chat["response"])

	w = a.do(t, http.MethodGet, "/session/"+created.SessionID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[historyResp](t, w)
	assert.Equal(t, 3, hist.TotalMessages)
	roles := []domain.Role{}
	for _, m := range hist.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []domain.Role{domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}, roles)

	w = a.do(t, http.MethodGet, "/session/"+created.SessionID+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	prog := decode[map[string]any](t, w)
	assert.Equal(t, []any{}, prog["concepts_covered"])
	assert.Equal(t, "No progress tracked yet", prog["message"])
	assert.Equal(t, created.SessionID, prog["session_id"])
}

func TestCreateSessionValidation(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{reply: "hi"}, nil)

	w := a.do(t, http.MethodPost, "/session/create", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/session/create", map[string]string{"student_name": "Ana"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/session/create", map[string]string{
		"github_url":      "https://github.com/x/y",
		"knowledge_level": "expert",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatErrors(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{reply: "hi"}, nil)
	id := a.createSession(t)

	w := a.do(t, http.MethodPost, "/chat", map[string]string{"session_id": "unknown", "message": "hello"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Session not found"}`, w.Body.String())

	w = a.do(t, http.MethodPost, "/chat", map[string]string{"session_id": id, "message": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/chat", map[string]string{"message": "hello"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/session/unknown/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPost, "/session/unknown/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatFallbackWhenUpstreamFails(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{err: errors.New("no key")}, nil)
	id := a.createSession(t)

	w := a.do(t, http.MethodPost, "/chat", map[string]string{"session_id": id, "message": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, agent.FallbackResponse, decode[map[string]string](t, w)["response"])
}

func TestChatRateLimited(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{reply: "hi"}, middleware.NewRateLimiter(2, time.Hour))
	id := a.createSession(t)

	for i := 0; i < 2; i++ {
		w := a.do(t, http.MethodPost, "/chat", map[string]string{"session_id": id, "message": "hello"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := a.do(t, http.MethodPost, "/chat", map[string]string{"session_id": id, "message": "hello"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestResetEndpoint(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{reply: "hi"}, nil)
	id := a.createSession(t)

	w := a.do(t, http.MethodPost, "/session/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_id":"`+id+`","status":"reset"}`, w.Body.String())

	transcript, err := a.registry.Transcript(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, transcript, 1)

	w = a.do(t, http.MethodGet, "/session/"+id+"/history", nil)
	assert.Equal(t, 1, decode[historyResp](t, w).TotalMessages)
}

func TestToolsEndpoint(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{reply: "hi"}, nil)
	id := a.createSession(t)

	require.NoError(t, os.MkdirAll(filepath.Join(a.root, "demo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a.root, "demo", "main.py"), []byte("print('hi')\n"), 0o644))

	w := a.do(t, http.MethodPost, "/session/"+id+"/tools", `{"tool":"scan_repo","args":{"repo_path":"demo"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[map[string]any](t, w)
	assert.Equal(t, "scan_repo", res["tool"])
	output := res["output"].(map[string]any)
	assert.InDelta(t, 1, output["total_files"], 0)

	w = a.do(t, http.MethodPost, "/session/"+id+"/tools", `{"tool":"scan_repo","args":{"repo_path":"../../etc"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[map[string]any](t, w)["error"])

	w = a.do(t, http.MethodPost, "/session/"+id+"/tools", `{"tool":"track_progress","args":{"concept":"loops","mastery_level":"good"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/session/"+id+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	prog := decode[domain.Progress](t, w)
	require.Len(t, prog.ConceptsCovered, 1)
	assert.Equal(t, domain.MasteryGood, prog.ConceptsCovered[0].Mastery)

	w = a.do(t, http.MethodPost, "/session/"+id+"/tools", `{"tool":"rm_rf","args":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid", decode[map[string]any](t, w)["tool"])

	w = a.do(t, http.MethodPost, "/session/unknown/tools", `{"tool":"scan_repo","args":{"repo_path":"demo"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRootAndHealth(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{reply: "hi"}, nil)
	a.createSession(t)

	w := a.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"StudyMate API","version":"1.0.0"}`, w.Body.String())

	w = a.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", health["status"])
	assert.InDelta(t, 1, health["active_sessions"], 0)
	assert.InDelta(t, 1, health["agents_initialized"], 0)
	assert.Equal(t, true, health["openai_key_configured"])
	assert.NotEmpty(t, health["timestamp"])
	assert.Equal(t, map[string]any{"api": "ok", "store": "ok"}, health["checks"])
	assert.InDelta(t, 0, health["websocket_connections"], 0)
}

func TestHealthCountsChatSockets(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{reply: "hi"}, nil)
	id := a.createSession(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat?session_id="+id, nil)
	require.NoError(t, err)

	sockets := func() float64 {
		w := a.do(t, http.MethodGet, "/health", nil)
		return decode[map[string]any](t, w)["websocket_connections"].(float64)
	}
	assert.Eventually(t, func() bool { return sockets() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "done"))
	assert.Eventually(t, func() bool { return sockets() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, &fakeCompleter{err: errors.New("down")}, nil)
	a.createSession(t)

	w := a.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `studymate_fallbacks_total{component="tutor"} 1`)
	assert.Contains(t, w.Body.String(), `route="/session/create"`)

	n, err := testutil.GatherAndCount(a.metrics.Registry(), "studymate_active_sessions")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
