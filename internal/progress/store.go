// Package progress persists per-session learning progress as one JSON file per session.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/studymate/internal/domain"
)

var (
	// ErrNoProgress is returned by Load when a session has no progress file yet.
	ErrNoProgress = errors.New("no progress tracked")

	// ErrInvalidSessionID is returned for ids that are not a safe file name component.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Summary is returned after a concept has been recorded.
type Summary struct {
	Success       bool                `json:"success"`
	TotalConcepts int                 `json:"total_concepts"`
	LatestConcept string              `json:"latest_concept"`
	Mastery       domain.MasteryLevel `json:"mastery"`
}

// Store reads and writes progress files under a directory.
//
// Writers within one process are serialized. Two processes writing the same
// session may still lose an update.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func validateSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, "progress_"+sessionID+".json")
}

// Track appends one concept record, creating the file if absent.
func (s *Store) Track(sessionID, concept string, mastery domain.MasteryLevel) (Summary, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Summary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Summary{}, fmt.Errorf("create progress directory: %w", err)
	}

	now := s.now().UTC()
	p, err := s.read(sessionID)
	if err != nil {
		if !errors.Is(err, ErrNoProgress) {
			slog.Warn("Progress file unreadable, starting a new one", "session_id", sessionID, "error", err)
		}
		p = domain.Progress{
			SessionID:       sessionID,
			StartTime:       now,
			ConceptsCovered: []domain.ConceptRecord{},
		}
	}

	p.ConceptsCovered = append(p.ConceptsCovered, domain.ConceptRecord{
		Concept:   concept,
		Mastery:   mastery,
		Timestamp: now,
	})
	p.LastUpdated = now

	if err := s.write(sessionID, p); err != nil {
		return Summary{}, err
	}

	return Summary{
		Success:       true,
		TotalConcepts: len(p.ConceptsCovered),
		LatestConcept: concept,
		Mastery:       mastery,
	}, nil
}

// Load returns the persisted progress of a session.
func (s *Store) Load(sessionID string) (domain.Progress, error) {
	if err := validateSessionID(sessionID); err != nil {
		return domain.Progress{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(sessionID)
}

func (s *Store) read(sessionID string) (domain.Progress, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Progress{}, ErrNoProgress
		}
		return domain.Progress{}, fmt.Errorf("read progress file: %w", err)
	}

	var p domain.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Progress{}, fmt.Errorf("decode progress file: %w", err)
	}
	if p.ConceptsCovered == nil {
		p.ConceptsCovered = []domain.ConceptRecord{}
	}
	return p, nil
}

// write replaces the progress file via a temp file and rename so readers never
// observe a partially written document.
func (s *Store) write(sessionID string, p domain.Progress) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "progress_"+sessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp progress file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp progress file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp progress file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(sessionID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}
