package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/studymate/internal/domain"
	"github.com/ashureev/studymate/internal/identity"
	"github.com/ashureev/studymate/internal/llm"
	"github.com/ashureev/studymate/internal/observability"
	"github.com/ashureev/studymate/internal/progress"
	"github.com/ashureev/studymate/internal/prompts"
)

// MaxSearchResults caps the matches returned by SearchConcept.
const MaxSearchResults = 3

const (
	questionTemperature   = 0.7
	assessmentTemperature = 0.3
	hintTemperature       = 0.6
)

// DefaultSearchExtensions is used when ToolsConfig.SearchExtensions is empty.
var DefaultSearchExtensions = []string{".py", ".go"}

var skippedScanDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	"venv":         true,
}

var keyFileNames = map[string]bool{
	"requirements.txt": true,
	"setup.py":         true,
	"main.py":          true,
	"app.py":           true,
	"go.mod":           true,
	"main.go":          true,
}

var fenceLanguages = map[string]string{
	".py":   "python",
	".go":   "go",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".rs":   "rust",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
}

// RepoStructure summarizes a repository layout.
type RepoStructure struct {
	TotalFiles      int            `json:"total_files"`
	MainDirectories []string       `json:"main_directories"`
	KeyFiles        []string       `json:"key_files"`
	Languages       map[string]int `json:"languages"`
	ReadmeExists    bool           `json:"readme_exists"`
	Error           string         `json:"error,omitempty"`
}

// Snippet is an exact slice of a source file.
type Snippet struct {
	FilePath   string `json:"file_path,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Code       string `json:"code,omitempty"`
	StartLine  int    `json:"start_line,omitempty"`
	EndLine    int    `json:"end_line,omitempty"`
	TotalLines int    `json:"total_lines,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SearchMatch is the first hit of a query inside one file.
type SearchMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// ToolsConfig wires the collaborators of Tools.
type ToolsConfig struct {
	Completer        llm.Completer
	Prompts          *prompts.Set
	Progress         *progress.Store
	Metrics          *observability.Metrics
	ConversationLog  ConversationLogger
	SearchExtensions []string

	// Root confines filesystem tools to a directory. Empty means unrestricted.
	Root string
}

// Tools implements the tutoring helper operations. Tools holds no per-session
// state and is safe for concurrent use.
type Tools struct {
	completer  llm.Completer
	prompts    *prompts.Set
	progress   *progress.Store
	metrics    *observability.Metrics
	convLog    ConversationLogger
	extensions map[string]bool
	root       string
}

// NewTools creates a tool set.
func NewTools(cfg ToolsConfig) *Tools {
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.Default()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.NewStore("data/progress")
	}
	if cfg.ConversationLog == nil {
		cfg.ConversationLog = noopConversationLogger{}
	}
	exts := cfg.SearchExtensions
	if len(exts) == 0 {
		exts = DefaultSearchExtensions
	}
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(e)] = true
	}
	return &Tools{
		completer:  cfg.Completer,
		prompts:    cfg.Prompts,
		progress:   cfg.Progress,
		metrics:    cfg.Metrics,
		convLog:    cfg.ConversationLog,
		extensions: extSet,
		root:       cfg.Root,
	}
}

var errOutsideRoot = errors.New("path is outside the tools root")

// resolve maps a caller-supplied path into the configured root. The check
// is repeated after symlink resolution so links cannot point outside the root.
func (t *Tools) resolve(path string) (string, error) {
	if t.root == "" {
		return path, nil
	}
	if filepath.IsAbs(path) {
		return "", errOutsideRoot
	}
	joined := filepath.Join(t.root, path)
	if !isWithin(t.root, joined) || !t.inRoot(joined) {
		return "", errOutsideRoot
	}
	return joined, nil
}

// inRoot reports whether path, with symlinks followed, stays inside the root.
// Paths that do not exist pass; the caller's stat reports them.
func (t *Tools) inRoot(path string) bool {
	if t.root == "" {
		return true
	}
	root, err := realPath(t.root)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	target, err := realPath(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return isWithin(root, target)
}

func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ScanRepo walks a repository and reports its layout. Hidden entries and
// dependency/cache directories are skipped.
func (t *Tools) ScanRepo(repoPath string) RepoStructure {
	root, err := t.resolve(repoPath)
	if err != nil {
		return RepoStructure{Error: err.Error()}
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return RepoStructure{Error: fmt.Sprintf("Repository path does not exist: %s", repoPath)}
	}

	s := RepoStructure{
		MainDirectories: []string{},
		KeyFiles:        []string{},
		Languages:       map[string]int{},
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Debug("Skipping unreadable path during scan", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || skippedScanDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		s.TotalFiles++
		if ext := filepath.Ext(name); ext != "" {
			s.Languages[ext]++
		}
		switch lower := strings.ToLower(name); {
		case lower == "readme.md" || lower == "readme.txt":
			s.KeyFiles = append(s.KeyFiles, path)
			s.ReadmeExists = true
		case keyFileNames[name]:
			s.KeyFiles = append(s.KeyFiles, path)
		}
		return nil
	})
	if walkErr != nil {
		return RepoStructure{Error: fmt.Sprintf("Could not scan repository: %v", walkErr)}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return RepoStructure{Error: fmt.Sprintf("Could not list repository: %v", err)}
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			s.MainDirectories = append(s.MainDirectories, e.Name())
		}
	}
	return s
}

// splitLines splits text into lines that keep their terminators.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// ExtractSnippet returns lines start..end (1-indexed, inclusive) of a file.
func (t *Tools) ExtractSnippet(filePath string, start, end int) Snippet {
	path, err := t.resolve(filePath)
	if err != nil {
		return Snippet{Error: err.Error()}
	}
	if _, err := os.Stat(path); err != nil {
		return Snippet{Error: fmt.Sprintf("File does not exist: %s", filePath)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Snippet{Error: fmt.Sprintf("Could not read file: %v", err)}
	}
	if !utf8.Valid(data) {
		return Snippet{Error: "Could not read file: not valid UTF-8 text"}
	}

	lines := splitLines(string(data))
	if start < 1 || end > len(lines) {
		return Snippet{Error: fmt.Sprintf("Line numbers out of range (file has %d lines)", len(lines))}
	}
	if start > end {
		return Snippet{Error: fmt.Sprintf("Start line %d is after end line %d", start, end)}
	}

	return Snippet{
		FilePath:   filePath,
		FileName:   filepath.Base(path),
		Code:       strings.Join(lines[start-1:end], ""),
		StartLine:  start,
		EndLine:    end,
		TotalLines: len(lines),
	}
}

// FindConcept returns up to MaxSearchResults files containing query
// (case-insensitive), each with a window of two lines either side of the
// first matching line. Unreadable files and links leaving the root are skipped.
func (t *Tools) FindConcept(query, repoPath string) ([]SearchMatch, error) {
	root, err := t.resolve(repoPath)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	var matches []SearchMatch
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !t.extensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !t.inRoot(path) {
			slog.Debug("Skipping link outside tools root", "path", path)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(data) {
			return nil
		}
		content := string(data)
		if !strings.Contains(strings.ToLower(content), needle) {
			return nil
		}

		lines := strings.Split(content, "\n")
		for i, line := range lines {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			lo := max(0, i-2)
			hi := min(len(lines), i+3)
			matches = append(matches, SearchMatch{
				File:    path,
				Line:    i + 1,
				Snippet: strings.Join(lines[lo:hi], "\n"),
			})
			break
		}
		if len(matches) >= MaxSearchResults {
			return filepath.SkipAll
		}
		return nil
	})
	return matches, nil
}

// SearchConcept runs FindConcept and formats the matches for the model.
func (t *Tools) SearchConcept(query, repoPath string) (string, error) {
	matches, err := t.FindConcept(query, repoPath)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No code found related to '%s' in the repository.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d file(s) related to '%s':\n\n", len(matches), query)
	for i, m := range matches {
		lang := fenceLanguages[strings.ToLower(filepath.Ext(m.File))]
		fmt.Fprintf(&b, "%d. **%s** (Line %d)\n", i+1, filepath.Base(m.File), m.Line)
		fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, m.Snippet)
	}
	return b.String(), nil
}

// GenerateQuestion asks the model for one Socratic question about concept.
func (t *Tools) GenerateQuestion(ctx context.Context, concept string, level domain.KnowledgeLevel) string {
	fallback := fmt.Sprintf("What do you think is the main purpose of %s?", concept)

	prompt, err := t.prompts.Question(concept, string(level))
	if err != nil {
		return t.fallback(ctx, "question", err, fallback)
	}
	out, err := t.complete(ctx, "question", prompt, questionTemperature)
	if err != nil {
		return t.fallback(ctx, "question", err, fallback)
	}
	return out
}

// AssessUnderstanding grades a student's answer. Any failure, including output
// that is not the expected JSON, yields domain.NeutralAssessment.
func (t *Tools) AssessUnderstanding(ctx context.Context, response, concept string) domain.Assessment {
	prompt, err := t.prompts.Assessment(response, concept)
	if err != nil {
		t.fallback(ctx, "assessor", err, "")
		return domain.NeutralAssessment()
	}
	out, err := t.complete(ctx, "assessor", prompt, assessmentTemperature)
	if err != nil {
		t.fallback(ctx, "assessor", err, "")
		return domain.NeutralAssessment()
	}

	a, err := llm.DecodeJSON[domain.Assessment](out)
	if err != nil {
		t.fallback(ctx, "assessor", err, "")
		return domain.NeutralAssessment()
	}
	if !a.Valid() {
		t.fallback(ctx, "assessor", llm.NewParseError(out, errors.New("unknown enum value")), "")
		return domain.NeutralAssessment()
	}
	if a.CorrectPoints == nil {
		a.CorrectPoints = []string{}
	}
	if a.Misconceptions == nil {
		a.Misconceptions = []string{}
	}
	return *a
}

// ClampStruggles bounds a struggle count to the supported hint levels 1..3.
func ClampStruggles(n int) int {
	return min(max(n, 1), 3)
}

// ProvideHint returns a hint whose explicitness grows with the struggle count.
func (t *Tools) ProvideHint(ctx context.Context, concept string, struggles int) string {
	fallback := fmt.Sprintf("Think about what problem %s is trying to solve.", concept)

	prompt, err := t.prompts.Hint(concept, ClampStruggles(struggles))
	if err != nil {
		return t.fallback(ctx, "hint", err, fallback)
	}
	out, err := t.complete(ctx, "hint", prompt, hintTemperature)
	if err != nil {
		return t.fallback(ctx, "hint", err, fallback)
	}
	return out
}

// TrackProgress appends one mastery record for the session.
func (t *Tools) TrackProgress(sessionID, concept string, mastery domain.MasteryLevel) (progress.Summary, error) {
	sum, err := t.progress.Track(sessionID, concept, mastery)
	if err != nil {
		return progress.Summary{}, fmt.Errorf("track progress: %w", err)
	}
	return sum, nil
}

func (t *Tools) complete(ctx context.Context, component, prompt string, temperature float32) (string, error) {
	if t.completer == nil {
		return "", llm.NewConfigError("no completion client configured")
	}
	start := time.Now()
	out, err := t.completer.Complete(ctx, llm.UserPrompt(prompt), llm.Options{Temperature: temperature})
	t.metrics.RecordCompletion(component, time.Since(start), err)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.NewEmptyError()
	}
	return out, nil
}

// fallback records a degraded tool result and returns value.
func (t *Tools) fallback(ctx context.Context, component string, err error, value string) string {
	sessionID := identity.SessionIDFromContext(ctx)
	slog.Warn("Tool completion failed, using fallback",
		"session_id", sessionID,
		"component", component,
		"error_type", llm.ErrorType(err),
		"error", err,
	)
	t.metrics.RecordFallback(component)
	t.convLog.Log(fallbackEvent(sessionID, component, err))
	return value
}
