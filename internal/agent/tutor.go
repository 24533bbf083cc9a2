package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/studymate/internal/domain"
	"github.com/ashureev/studymate/internal/llm"
	"github.com/ashureev/studymate/internal/observability"
	"github.com/ashureev/studymate/internal/prompts"
)

const (
	// MaxTranscript bounds the transcript: one system message plus the latest turns.
	MaxTranscript = 12

	// FallbackResponse replaces the assistant turn whenever the completion fails.
	FallbackResponse = "I encountered an issue. Could you rephrase your question?"

	tutorTemperature = 0.7
)

// Message is one role-tagged transcript entry.
type Message = llm.Message

// Tutor runs the Socratic dialogue for one session.
type Tutor struct {
	completer llm.Completer
	system    string
	repoPath  string
	metrics   *observability.Metrics
	convLog   ConversationLogger

	mu       sync.Mutex
	messages []Message
}

// TutorOption configures a Tutor.
type TutorOption func(*Tutor)

// WithRepoPath annotates every student turn with the repository location.
func WithRepoPath(path string) TutorOption {
	return func(t *Tutor) { t.repoPath = path }
}

// WithSystemPrompt overrides the built-in system message.
func WithSystemPrompt(system string) TutorOption {
	return func(t *Tutor) {
		if system != "" {
			t.system = system
		}
	}
}

// WithMetrics counts fallbacks and completion latency.
func WithMetrics(m *observability.Metrics) TutorOption {
	return func(t *Tutor) { t.metrics = m }
}

// WithConversationLogger records fallback events.
func WithConversationLogger(l ConversationLogger) TutorOption {
	return func(t *Tutor) {
		if l != nil {
			t.convLog = l
		}
	}
}

// NewTutor creates a tutor whose transcript holds only the system message.
func NewTutor(completer llm.Completer, opts ...TutorOption) *Tutor {
	t := &Tutor{
		completer: completer,
		system:    prompts.DefaultSystem,
		convLog:   noopConversationLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.messages = []Message{{Role: domain.RoleSystem, Content: t.system}}
	return t
}

// Teach sends the student's input with the running transcript and returns the
// tutor's reply. It never fails: completion errors yield FallbackResponse, which
// is recorded as the assistant turn. sessionID is used for logging only.
func (t *Tutor) Teach(ctx context.Context, input, sessionID string) string {
	if t.repoPath != "" {
		input = "[Repository at: " + t.repoPath + "]\n\nStudent: " + input
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.appendLocked(Message{Role: domain.RoleUser, Content: input})
	transcript := make([]Message, len(t.messages))
	copy(transcript, t.messages)

	start := time.Now()
	reply, err := t.completer.Complete(ctx, transcript, llm.Options{Temperature: tutorTemperature})
	t.metrics.RecordCompletion("tutor", time.Since(start), err)
	if err != nil {
		slog.Warn("Tutor completion failed, using fallback",
			"session_id", sessionID,
			"error_type", llm.ErrorType(err),
			"error", err,
		)
		t.metrics.RecordFallback("tutor")
		t.convLog.Log(fallbackEvent(sessionID, "tutor", err))
		reply = FallbackResponse
	}

	t.appendLocked(Message{Role: domain.RoleAssistant, Content: reply})
	return reply
}

// appendLocked adds m and drops the oldest non-system messages beyond MaxTranscript.
func (t *Tutor) appendLocked(m Message) {
	t.messages = append(t.messages, m)
	if len(t.messages) <= MaxTranscript {
		return
	}
	trimmed := make([]Message, 0, MaxTranscript)
	trimmed = append(trimmed, t.messages[0])
	trimmed = append(trimmed, t.messages[len(t.messages)-(MaxTranscript-1):]...)
	t.messages = trimmed
}

// Reset drops every turn, keeping only the system message.
func (t *Tutor) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = []Message{{Role: domain.RoleSystem, Content: t.system}}
}

// Transcript returns a copy of the current transcript.
func (t *Tutor) Transcript() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}
