package domain

import (
	"fmt"
	"time"
)

// MasteryLevel is a four-point ordinal summary of demonstrated understanding.
type MasteryLevel string

const (
	MasteryPoor      MasteryLevel = "poor"
	MasteryPartial   MasteryLevel = "partial"
	MasteryGood      MasteryLevel = "good"
	MasteryExcellent MasteryLevel = "excellent"
)

// ParseMasteryLevel validates a mastery string.
func ParseMasteryLevel(s string) (MasteryLevel, error) {
	switch MasteryLevel(s) {
	case MasteryPoor, MasteryPartial, MasteryGood, MasteryExcellent:
		return MasteryLevel(s), nil
	default:
		return "", fmt.Errorf("invalid mastery level %q: want poor, partial, good or excellent", s)
	}
}

// ConceptRecord is one persisted progress entry.
type ConceptRecord struct {
	Concept   string       `json:"concept"`
	Mastery   MasteryLevel `json:"mastery"`
	Timestamp time.Time    `json:"timestamp"`
}

// Progress is the on-disk progress document of a session.
type Progress struct {
	SessionID       string          `json:"session_id"`
	StartTime       time.Time       `json:"start_time"`
	ConceptsCovered []ConceptRecord `json:"concepts_covered"`
	LastUpdated     time.Time       `json:"last_updated"`
}
