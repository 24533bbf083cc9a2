package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/studymate/internal/llm"
)

// scriptedCompleter replies with a fixed text (or error) and records every call.
type scriptedCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]llm.Message
	opts  []llm.Options
}

func (s *scriptedCompleter) Complete(_ context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]llm.Message, len(messages))
	copy(cp, messages)
	s.calls = append(s.calls, cp)
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *scriptedCompleter) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	last := s.calls[len(s.calls)-1]
	return last[len(last)-1].Content
}

var errUpstream = llm.NewAPIError(429, "quota exceeded", errors.New("429"))
