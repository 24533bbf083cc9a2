package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ashureev/studymate/internal/agent"
	"github.com/ashureev/studymate/internal/domain"
	"github.com/ashureev/studymate/internal/llm"
	"github.com/ashureev/studymate/internal/progress"
	"github.com/ashureev/studymate/internal/prompts"
	"github.com/ashureev/studymate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoCompleter struct {
	mu    sync.Mutex
	err   error
	calls [][]llm.Message
}

func (e *echoCompleter) Complete(_ context.Context, messages []llm.Message, _ llm.Options) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, append([]llm.Message(nil), messages...))
	if e.err != nil {
		return "", e.err
	}
	return "reply " + string(rune('A'+len(e.calls)-1)), nil
}

func newTestRegistry(t *testing.T, c llm.Completer, repo store.Repository) *Registry {
	t.Helper()
	return NewRegistry(Config{
		Repo:      repo,
		Completer: c,
		Progress:  progress.NewStore(t.TempDir()),
	})
}

func TestCreateStoresGreeting(t *testing.T) {
	c := &echoCompleter{}
	r := newTestRegistry(t, c, store.NewMemory())
	ctx := context.Background()

	res, err := r.Create(ctx, CreateRequest{
		GithubURL:      "https://github.com/x/y",
		StudentName:    "Ana",
		KnowledgeLevel: "beginner",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "reply A", res.Greeting)
	assert.False(t, res.RepoAnalyzed)
	assert.Equal(t, 1, r.Count())

	prompt := c.calls[0][len(c.calls[0])-1].Content
	assert.Contains(t, prompt, "Ana")
	assert.Contains(t, prompt, "beginner")
	assert.Contains(t, prompt, "https://github.com/x/y")

	hist, err := r.History(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.RoleAssistant, hist[0].Role)
	assert.Equal(t, "reply A", hist[0].Content)
}

type failingAppendRepo struct {
	store.Repository
}

func (failingAppendRepo) AppendMessage(context.Context, string, domain.StoredMessage) error {
	return errors.New("disk full")
}

func TestCreateFailureLeavesNoTutor(t *testing.T) {
	ctx := context.Background()
	req := CreateRequest{GithubURL: "https://github.com/x/y"}

	r := newTestRegistry(t, &echoCompleter{}, failingAppendRepo{Repository: store.NewMemory()})
	_, err := r.Create(ctx, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, r.Count())

	set, err := prompts.New(prompts.Templates{Greeting: "Hi {{.Nickname}}"})
	require.NoError(t, err)
	repo := store.NewMemory()
	c := &echoCompleter{}
	r = NewRegistry(Config{Repo: repo, Completer: c, Prompts: set, Progress: progress.NewStore(t.TempDir())})
	_, err = r.Create(ctx, req)
	require.Error(t, err)
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, c.calls)
	n, err := repo.CountSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateDefaultsAndValidation(t *testing.T) {
	c := &echoCompleter{}
	r := newTestRegistry(t, c, store.NewMemory())
	ctx := context.Background()

	_, err := r.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y"})
	require.NoError(t, err)
	prompt := c.calls[0][len(c.calls[0])-1].Content
	assert.Contains(t, prompt, domain.DefaultStudentName)
	assert.Contains(t, prompt, string(domain.LevelIntermediate))

	_, err = r.Create(ctx, CreateRequest{GithubURL: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = r.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y", KnowledgeLevel: "guru"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatchAppendsToHistory(t *testing.T) {
	c := &echoCompleter{}
	r := newTestRegistry(t, c, store.NewMemory())
	ctx := context.Background()

	res, err := r.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y"})
	require.NoError(t, err)

	reply, err := r.Dispatch(ctx, res.SessionID, "What is a closure?")
	require.NoError(t, err)
	assert.Equal(t, "reply B", reply)

	hist, err := r.History(ctx, res.SessionID)
	require.NoError(t, err)
	roles := make([]domain.Role, len(hist))
	for i, m := range hist {
		roles[i] = m.Role
	}
	assert.Equal(t, []domain.Role{domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}, roles)
	assert.Equal(t, "What is a closure?", hist[1].Content)
}

func TestDispatchFallbackStillRecorded(t *testing.T) {
	c := &echoCompleter{err: errors.New("upstream down")}
	r := newTestRegistry(t, c, store.NewMemory())
	ctx := context.Background()

	res, err := r.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y"})
	require.NoError(t, err)
	assert.Equal(t, agent.FallbackResponse, res.Greeting)

	reply, err := r.Dispatch(ctx, res.SessionID, "hi")
	require.NoError(t, err)
	assert.Equal(t, agent.FallbackResponse, reply)

	hist, err := r.History(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestUnknownSession(t *testing.T) {
	r := newTestRegistry(t, &echoCompleter{}, store.NewMemory())
	ctx := context.Background()

	_, err := r.Dispatch(ctx, "missing", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = r.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, r.Reset(ctx, "missing"), ErrSessionNotFound)

	_, err = r.RunTool(ctx, "missing", agent.ScanRepoCommand{RepoPath: "."})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	ok, err := r.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoredSessionGetsFreshTutor(t *testing.T) {
	repo := store.NewMemory()
	ctx := context.Background()

	first := newTestRegistry(t, &echoCompleter{}, repo)
	res, err := first.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y"})
	require.NoError(t, err)

	c := &echoCompleter{}
	second := newTestRegistry(t, c, repo)
	assert.Equal(t, 0, second.Count())

	_, err = second.Dispatch(ctx, res.SessionID, "still there?")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Count())

	// system prompt + the new user turn only
	require.Len(t, c.calls, 1)
	assert.Len(t, c.calls[0], 2)

	hist, err := second.History(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestResetKeepsDisplayLog(t *testing.T) {
	r := newTestRegistry(t, &echoCompleter{}, store.NewMemory())
	ctx := context.Background()

	res, err := r.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y"})
	require.NoError(t, err)
	_, err = r.Dispatch(ctx, res.SessionID, "hi")
	require.NoError(t, err)

	require.NoError(t, r.Reset(ctx, res.SessionID))

	transcript, err := r.Transcript(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, transcript, 1)
	assert.Equal(t, domain.RoleSystem, transcript[0].Role)

	hist, err := r.History(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestProgressAndRunTool(t *testing.T) {
	r := newTestRegistry(t, &echoCompleter{}, store.NewMemory())
	ctx := context.Background()

	res, err := r.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y"})
	require.NoError(t, err)

	_, found, err := r.Progress(ctx, res.SessionID)
	require.NoError(t, err)
	assert.False(t, found)

	out, err := r.RunTool(ctx, res.SessionID, agent.TrackProgressCommand{
		Concept:      "closures",
		MasteryLevel: domain.MasteryPartial,
	})
	require.NoError(t, err)
	assert.False(t, out.Failed())

	p, found, err := r.Progress(ctx, res.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, p.ConceptsCovered, 1)
	assert.Equal(t, "closures", p.ConceptsCovered[0].Concept)

	_, found, err = r.Progress(ctx, "../escape")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentCreate(t *testing.T) {
	r := newTestRegistry(t, &echoCompleter{}, store.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Create(ctx, CreateRequest{GithubURL: "https://github.com/x/y"})
			if err == nil {
				ids <- res.SessionID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		assert.NotEmpty(t, id)
		seen[id] = true
	}
	assert.Len(t, seen, 10)
	assert.Equal(t, 10, r.Count())
}
