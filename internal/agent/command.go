package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ashureev/studymate/internal/domain"
	"github.com/ashureev/studymate/internal/identity"
)

// CommandKind names a tool invocation.
type CommandKind string

const (
	KindScanRepo            CommandKind = "scan_repo"
	KindExtractSnippet      CommandKind = "extract_snippet"
	KindSearchConcept       CommandKind = "search_concept"
	KindGenerateQuestion    CommandKind = "generate_question"
	KindAssessUnderstanding CommandKind = "assess_understanding"
	KindProvideHint         CommandKind = "provide_hint"
	KindTrackProgress       CommandKind = "track_progress"
	KindInvalid             CommandKind = "invalid"
)

// Command is a validated tool invocation. The concrete types below are the
// only implementations.
type Command interface {
	Kind() CommandKind
}

type (
	// ScanRepoCommand runs Tools.ScanRepo.
	ScanRepoCommand struct {
		RepoPath string `json:"repo_path"`
	}

	// ExtractSnippetCommand runs Tools.ExtractSnippet.
	ExtractSnippetCommand struct {
		FilePath  string `json:"file_path"`
		LineStart int    `json:"line_start"`
		LineEnd   int    `json:"line_end"`
	}

	// SearchConceptCommand runs Tools.SearchConcept.
	SearchConceptCommand struct {
		Query    string `json:"query"`
		RepoPath string `json:"repo_path"`
	}

	// GenerateQuestionCommand runs Tools.GenerateQuestion.
	GenerateQuestionCommand struct {
		Concept      string                `json:"concept"`
		StudentLevel domain.KnowledgeLevel `json:"student_level"`
	}

	// AssessUnderstandingCommand runs Tools.AssessUnderstanding.
	AssessUnderstandingCommand struct {
		StudentResponse string `json:"student_response"`
		ExpectedConcept string `json:"expected_concept"`
	}

	// ProvideHintCommand runs Tools.ProvideHint.
	ProvideHintCommand struct {
		Concept              string `json:"concept"`
		StudentStruggleCount int    `json:"student_struggle_count"`
	}

	// TrackProgressCommand runs Tools.TrackProgress for the dispatching session.
	TrackProgressCommand struct {
		Concept      string              `json:"concept"`
		MasteryLevel domain.MasteryLevel `json:"mastery_level"`
	}

	// InvalidCommand is produced for any input that does not parse or validate.
	InvalidCommand struct {
		Reason string
	}
)

func (ScanRepoCommand) Kind() CommandKind            { return KindScanRepo }
func (ExtractSnippetCommand) Kind() CommandKind      { return KindExtractSnippet }
func (SearchConceptCommand) Kind() CommandKind       { return KindSearchConcept }
func (GenerateQuestionCommand) Kind() CommandKind    { return KindGenerateQuestion }
func (AssessUnderstandingCommand) Kind() CommandKind { return KindAssessUnderstanding }
func (ProvideHintCommand) Kind() CommandKind         { return KindProvideHint }
func (TrackProgressCommand) Kind() CommandKind       { return KindTrackProgress }
func (InvalidCommand) Kind() CommandKind             { return KindInvalid }

type rawCommand struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

func invalid(format string, args ...any) Command {
	return InvalidCommand{Reason: fmt.Sprintf(format, args...)}
}

// decodeStrict decodes data into v, rejecting unknown fields and trailing data.
func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing required args: %s", strings.Join(missing, ", "))
}

// ParseCommand decodes {"tool": "...", "args": {...}} into a Command. It never
// fails: malformed or invalid input yields an InvalidCommand with the reason.
func ParseCommand(raw []byte) Command {
	var rc rawCommand
	if err := decodeStrict(raw, &rc); err != nil {
		return invalid("malformed command: %v", err)
	}

	switch CommandKind(rc.Tool) {
	case KindScanRepo:
		var c ScanRepoCommand
		if err := decodeStrict(rc.Args, &c); err != nil {
			return invalid("scan_repo: %v", err)
		}
		if err := required(map[string]string{"repo_path": c.RepoPath}); err != nil {
			return invalid("scan_repo: %v", err)
		}
		return c

	case KindExtractSnippet:
		var c ExtractSnippetCommand
		if err := decodeStrict(rc.Args, &c); err != nil {
			return invalid("extract_snippet: %v", err)
		}
		if err := required(map[string]string{"file_path": c.FilePath}); err != nil {
			return invalid("extract_snippet: %v", err)
		}
		return c

	case KindSearchConcept:
		var c SearchConceptCommand
		if err := decodeStrict(rc.Args, &c); err != nil {
			return invalid("search_concept: %v", err)
		}
		if err := required(map[string]string{"query": c.Query, "repo_path": c.RepoPath}); err != nil {
			return invalid("search_concept: %v", err)
		}
		return c

	case KindGenerateQuestion:
		var c GenerateQuestionCommand
		if err := decodeStrict(rc.Args, &c); err != nil {
			return invalid("generate_question: %v", err)
		}
		if err := required(map[string]string{"concept": c.Concept}); err != nil {
			return invalid("generate_question: %v", err)
		}
		level, err := domain.ParseKnowledgeLevel(string(c.StudentLevel))
		if err != nil {
			return invalid("generate_question: %v", err)
		}
		c.StudentLevel = level
		return c

	case KindAssessUnderstanding:
		var c AssessUnderstandingCommand
		if err := decodeStrict(rc.Args, &c); err != nil {
			return invalid("assess_understanding: %v", err)
		}
		if err := required(map[string]string{"student_response": c.StudentResponse, "expected_concept": c.ExpectedConcept}); err != nil {
			return invalid("assess_understanding: %v", err)
		}
		return c

	case KindProvideHint:
		var c ProvideHintCommand
		if err := decodeStrict(rc.Args, &c); err != nil {
			return invalid("provide_hint: %v", err)
		}
		if err := required(map[string]string{"concept": c.Concept}); err != nil {
			return invalid("provide_hint: %v", err)
		}
		c.StudentStruggleCount = ClampStruggles(c.StudentStruggleCount)
		return c

	case KindTrackProgress:
		var c TrackProgressCommand
		if err := decodeStrict(rc.Args, &c); err != nil {
			return invalid("track_progress: %v", err)
		}
		if err := required(map[string]string{"concept": c.Concept}); err != nil {
			return invalid("track_progress: %v", err)
		}
		mastery, err := domain.ParseMasteryLevel(string(c.MasteryLevel))
		if err != nil {
			return invalid("track_progress: %v", err)
		}
		c.MasteryLevel = mastery
		return c

	case "":
		return invalid("missing tool name")
	default:
		return invalid("unknown tool %q", rc.Tool)
	}
}

// ToolResult is the outcome of a dispatched command.
type ToolResult struct {
	Tool   CommandKind `json:"tool"`
	Output any         `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Failed reports whether the command produced an error descriptor.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// Dispatch runs cmd on behalf of sessionID.
func (t *Tools) Dispatch(ctx context.Context, sessionID string, cmd Command) ToolResult {
	ctx = identity.ContextWithSessionID(ctx, sessionID)
	res := t.dispatch(ctx, sessionID, cmd)
	t.metrics.RecordToolCall(string(res.Tool), res.Failed())
	return res
}

func (t *Tools) dispatch(ctx context.Context, sessionID string, cmd Command) ToolResult {
	switch c := cmd.(type) {
	case ScanRepoCommand:
		s := t.ScanRepo(c.RepoPath)
		return ToolResult{Tool: KindScanRepo, Output: s, Error: s.Error}
	case ExtractSnippetCommand:
		s := t.ExtractSnippet(c.FilePath, c.LineStart, c.LineEnd)
		return ToolResult{Tool: KindExtractSnippet, Output: s, Error: s.Error}
	case SearchConceptCommand:
		out, err := t.SearchConcept(c.Query, c.RepoPath)
		if err != nil {
			return ToolResult{Tool: KindSearchConcept, Error: err.Error()}
		}
		return ToolResult{Tool: KindSearchConcept, Output: out}
	case GenerateQuestionCommand:
		return ToolResult{Tool: KindGenerateQuestion, Output: t.GenerateQuestion(ctx, c.Concept, c.StudentLevel)}
	case AssessUnderstandingCommand:
		return ToolResult{Tool: KindAssessUnderstanding, Output: t.AssessUnderstanding(ctx, c.StudentResponse, c.ExpectedConcept)}
	case ProvideHintCommand:
		return ToolResult{Tool: KindProvideHint, Output: t.ProvideHint(ctx, c.Concept, c.StudentStruggleCount)}
	case TrackProgressCommand:
		sum, err := t.TrackProgress(sessionID, c.Concept, c.MasteryLevel)
		if err != nil {
			return ToolResult{Tool: KindTrackProgress, Error: err.Error()}
		}
		return ToolResult{Tool: KindTrackProgress, Output: sum}
	case InvalidCommand:
		return ToolResult{Tool: KindInvalid, Error: c.Reason}
	default:
		return ToolResult{Tool: KindInvalid, Error: fmt.Sprintf("unsupported command %T", cmd)}
	}
}
