package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// GeminiBackend implements TextBackend and ImageBackend using the Google
// Gen AI SDK (Gemini for text, Imagen for images).
type GeminiBackend struct {
	client      *genai.Client
	textModel   string
	imageModel  string
	temperature float32
	maxTokens   int32
}

// GeminiConfig configures a GeminiBackend.
type GeminiConfig struct {
	APIKey      string
	TextModel   string
	ImageModel  string
	Temperature float64
	MaxTokens   int
}

// NewGeminiBackend creates the backend. The API key is required; models
// default to gemini-2.0-flash and imagen-3.0-generate-002.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gemini-2.0-flash"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "imagen-3.0-generate-002"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	maxTokens := min(cfg.MaxTokens, math.MaxInt32)
	return &GeminiBackend{
		client:      client,
		textModel:   cfg.TextModel,
		imageModel:  cfg.ImageModel,
		temperature: float32(cfg.Temperature),
		// #nosec G115 -- bounded by min above
		maxTokens: int32(maxTokens),
	}, nil
}

// GenerateJSON calls Gemini in JSON output mode.
func (b *GeminiBackend) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, prompt, "application/json")
}

// GenerateText calls Gemini in plain text mode.
func (b *GeminiBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, prompt, "")
}

func (b *GeminiBackend) generate(ctx context.Context, prompt, mimeType string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(b.temperature),
		MaxOutputTokens: b.maxTokens,
	}
	if mimeType != "" {
		cfg.ResponseMIMEType = mimeType
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.textModel, genai.Text(prompt), cfg)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", toolerr.New(toolerr.InvalidOutput, "gemini returned empty response")
	}
	return text, nil
}

// GenerateImage calls Imagen and returns the first generated image.
func (b *GeminiBackend) GenerateImage(ctx context.Context, prompt, aspect, safetyTier string) ([]byte, error) {
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages:    1,
		AspectRatio:       aspect,
		SafetyFilterLevel: safetyFilterLevel(safetyTier),
	}

	resp, err := b.client.Models.GenerateImages(ctx, b.imageModel, prompt, cfg)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, toolerr.New(toolerr.InvalidOutput, "imagen returned no images")
	}
	return resp.GeneratedImages[0].Image.ImageBytes, nil
}

func safetyFilterLevel(tier string) genai.SafetyFilterLevel {
	switch tier {
	case "block_most":
		return genai.SafetyFilterLevelBlockLowAndAbove
	case "block_only_high":
		return genai.SafetyFilterLevelBlockOnlyHigh
	case "block_none":
		return genai.SafetyFilterLevelBlockNone
	default:
		return genai.SafetyFilterLevelBlockMediumAndAbove
	}
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return toolerr.FromStatus(apiErr.Code, apiErr.Message)
	}
	return toolerr.Wrap(toolerr.BackendPermanent, err, "gemini: %v", err)
}
