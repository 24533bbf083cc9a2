// Package llm wraps the hosted chat-completion capability behind a small interface.
package llm

import (
	"context"

	"github.com/ashureev/studymate/internal/domain"
)

// Message is one role-tagged entry of a transcript.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Options tune a single completion request.
type Options struct {
	Temperature float32
}

// Completer sends a transcript and returns the model's free-text reply.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, messages []Message, opts Options) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	return f(ctx, messages, opts)
}

// UserPrompt builds a single-message transcript for one-shot tool prompts.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: domain.RoleUser, Content: prompt}}
}
