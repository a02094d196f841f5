package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// OpenAIBackend implements TextBackend against an OpenAI-compatible chat
// API. It carries no image support; decks built with this provider fall
// back to image-less slides unless Imagen is configured separately.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewOpenAIBackend creates the backend. Model defaults to gpt-4o-mini.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &OpenAIBackend{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// GenerateJSON calls the chat API with JSON response format.
func (b *OpenAIBackend) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, prompt, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
}

// GenerateText calls the chat API in plain text mode.
func (b *OpenAIBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, prompt, nil)
}

func (b *OpenAIBackend) generate(ctx context.Context, prompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          b.model,
		Temperature:    b.temperature,
		MaxTokens:      b.maxTokens,
		ResponseFormat: format,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", toolerr.New(toolerr.InvalidOutput, "openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return toolerr.FromStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return toolerr.FromStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return toolerr.Wrap(toolerr.BackendPermanent, err, "openai: %v", err)
}
