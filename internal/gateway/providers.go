package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/catalogqa/internal/anthropic"
)

// Provider is a single, unretried model call.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

const defaultMaxTokens = 2000

type anthropicProvider struct {
	client    *anthropic.Client
	maxTokens int
}

// NewAnthropic adapts the Anthropic messages client.
func NewAnthropic(client *anthropic.Client, maxTokens int) Provider {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &anthropicProvider{client: client, maxTokens: maxTokens}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.client.Complete(ctx, "", []anthropic.Message{{Role: "user", Content: prompt}}, p.maxTokens)
}

type openAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI talks to any OpenAI-compatible chat completions endpoint. An
// empty baseURL means the public API.
func NewOpenAI(apiKey, baseURL, model string, maxTokens int) Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &openAIProvider{client: openai.NewClientWithConfig(cfg), model: model, maxTokens: maxTokens}
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   p.maxTokens,
		Temperature: 0.1,
		TopP:        0.8,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify labels an attempt failure and reports whether a retry can help.
func classify(err error) (class string, retryable bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	if errors.Is(err, context.Canceled) {
		return "canceled", false
	}

	var se *anthropic.StatusError
	if errors.As(err, &se) {
		return statusClass(se.StatusCode), se.Retryable()
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusClass(apiErr.HTTPStatusCode), retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusClass(reqErr.HTTPStatusCode), retryableStatus(reqErr.HTTPStatusCode)
	}
	return "transport", true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 || code == 0
}

func statusClass(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "rate_limit"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "auth"
	case code >= 500:
		return "server"
	case code >= 400:
		return "client"
	}
	return "unknown"
}
