// Package llm provides the text and image generation backends behind the
// summarizer, image, and data-query tools. Tools depend on the interfaces;
// the concrete Gemini and OpenAI clients are selected by configuration.
package llm

import "context"

// TextBackend generates text from a prompt.
type TextBackend interface {
	// GenerateJSON asks the model for a single JSON value and returns the
	// raw text, which may still carry code fences.
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	// GenerateText returns plain text output.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ImageBackend generates one image per call.
type ImageBackend interface {
	// GenerateImage returns PNG bytes for the prompt at the given aspect
	// ratio ("16:9", "1:1", "4:3").
	GenerateImage(ctx context.Context, prompt, aspect, safetyTier string) ([]byte, error)
}
