// Package domain contains core domain types for the StudyMate application.
package domain

import (
	"fmt"
	"time"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// KnowledgeLevel is the student's self-reported starting level.
type KnowledgeLevel string

const (
	LevelBeginner     KnowledgeLevel = "beginner"
	LevelIntermediate KnowledgeLevel = "intermediate"
	LevelAdvanced     KnowledgeLevel = "advanced"
)

// Defaults applied when a session request omits optional fields.
const (
	DefaultStudentName    = "Student"
	DefaultKnowledgeLevel = LevelIntermediate
)

// ParseKnowledgeLevel validates a level string. Empty input yields the default level.
func ParseKnowledgeLevel(s string) (KnowledgeLevel, error) {
	switch KnowledgeLevel(s) {
	case "":
		return DefaultKnowledgeLevel, nil
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return KnowledgeLevel(s), nil
	default:
		return "", fmt.Errorf("invalid knowledge level %q: want beginner, intermediate or advanced", s)
	}
}

// Session is the metadata of one tutoring session.
type Session struct {
	ID             string         `json:"id"`
	GithubURL      string         `json:"github_url"`
	StudentName    string         `json:"student_name"`
	KnowledgeLevel KnowledgeLevel `json:"knowledge_level"`
	CreatedAt      time.Time      `json:"created_at"`
}

// StoredMessage is one entry of the display log shown to the UI.
// It is separate from the transcript sent to the model.
type StoredMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
