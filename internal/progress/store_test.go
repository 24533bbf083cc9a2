package progress

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ashureev/studymate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackAppendsInOrder(t *testing.T) {
	s := NewStore(t.TempDir())

	first, err := s.Track("sess-1", "C1", domain.MasteryPartial)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalConcepts)

	second, err := s.Track("sess-1", "C2", domain.MasteryGood)
	require.NoError(t, err)
	assert.Equal(t, Summary{Success: true, TotalConcepts: 2, LatestConcept: "C2", Mastery: domain.MasteryGood}, second)

	p, err := s.Load("sess-1")
	require.NoError(t, err)
	require.Len(t, p.ConceptsCovered, 2)
	assert.Equal(t, "C1", p.ConceptsCovered[0].Concept)
	assert.Equal(t, "C2", p.ConceptsCovered[1].Concept)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.False(t, p.StartTime.IsZero())
	assert.False(t, p.LastUpdated.Before(p.StartTime))
}

func TestFileLayout(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	_, err := s.Track("abc", "loops", domain.MasteryExcellent)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "progress_abc.json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "abc", raw["session_id"])
	assert.Contains(t, raw, "start_time")
	assert.Contains(t, raw, "last_updated")
	records := raw["concepts_covered"].([]any)
	require.Len(t, records, 1)
	rec := records[0].(map[string]any)
	assert.Equal(t, "loops", rec["concept"])
	assert.Equal(t, "excellent", rec["mastery"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Load("nobody")
	assert.True(t, errors.Is(err, ErrNoProgress))
}

func TestRejectsUnsafeSessionIDs(t *testing.T) {
	s := NewStore(t.TempDir())

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := s.Track(id, "x", domain.MasteryPoor)
		assert.ErrorIs(t, err, ErrInvalidSessionID, "id %q", id)
	}
}

func TestCorruptFileStartsOver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "progress_s.json"), []byte("{not json"), 0o644))
	s := NewStore(dir)

	sum, err := s.Track("s", "x", domain.MasteryPoor)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalConcepts)
}

func TestConcurrentTrackSameSessionInProcess(t *testing.T) {
	s := NewStore(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Track("shared", "concept", domain.MasteryGood)
		}()
	}
	wg.Wait()

	p, err := s.Load("shared")
	require.NoError(t, err)
	assert.Len(t, p.ConceptsCovered, 20)
}
