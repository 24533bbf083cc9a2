package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ChatClient is the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures NewOpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient implements Completer against the OpenAI chat completions API.
type OpenAIClient struct {
	client     ChatClient
	model      string
	configured bool
}

// NewOpenAIClient creates a client. A missing API key is not an error: every
// completion then fails fast so callers take their fallback paths.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	if cfg.APIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, completions will use fallback responses")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	slog.Info("Initializing OpenAI client", "model", cfg.Model)
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		configured: cfg.APIKey != "",
	}
}

// NewOpenAIClientWithChat creates a client around a custom ChatClient (useful for testing).
func NewOpenAIClientWithChat(client ChatClient, model string) *OpenAIClient {
	return &OpenAIClient{client: client, model: model, configured: true}
}

// Model returns the model identifier sent with every request.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Complete implements Completer.
func (o *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if !o.configured {
		return "", NewConfigError("OPENAI_API_KEY is not configured")
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: opts.Temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err, "model", o.model, "duration", duration)
		return "", classify(ctx, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		slog.Warn("OpenAI returned no choices or empty content", "model", o.model)
		return "", NewEmptyError()
	}

	slog.Debug("Received response from OpenAI",
		"model", o.model,
		"finish_reason", resp.Choices[0].FinishReason,
		"duration", duration,
	)
	return resp.Choices[0].Message.Content, nil
}

func classify(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewAPIError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewAPIError(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return NewNetworkError(err)
}
