package llm

import (
	"encoding/json"
	"strings"
)

// CleanMarkdownCodeBlocks removes markdown code block wrappers from JSON.
// Some models wrap JSON in ```json...```.
func CleanMarkdownCodeBlocks(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSpace(content)
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSpace(content)
	}

	if strings.HasSuffix(content, "```") {
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	return content
}

// DecodeJSON parses model output into T after stripping code fences.
func DecodeJSON[T any](content string) (*T, error) {
	cleaned := CleanMarkdownCodeBlocks(content)
	var result T
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, NewParseError(cleaned, err)
	}
	return &result, nil
}
