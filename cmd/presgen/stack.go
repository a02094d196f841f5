package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/haasonsaas/presgen/internal/cache"
	"github.com/haasonsaas/presgen/internal/config"
	"github.com/haasonsaas/presgen/internal/data"
	"github.com/haasonsaas/presgen/internal/idempotency"
	"github.com/haasonsaas/presgen/internal/llm"
	"github.com/haasonsaas/presgen/internal/orchestrator"
	"github.com/haasonsaas/presgen/internal/rpc"
	"github.com/haasonsaas/presgen/internal/slides"
	"github.com/haasonsaas/presgen/internal/tools/dataquery"
	"github.com/haasonsaas/presgen/internal/tools/deck"
	"github.com/haasonsaas/presgen/internal/tools/imagegen"
	"github.com/haasonsaas/presgen/internal/tools/summarize"
)

// stack is the wired service: tool registry, dispatcher, orchestrator,
// and the shared stores.
type stack struct {
	cfg       config.Config
	registry  *rpc.Registry
	orch      *orchestrator.Orchestrator
	dataStore *data.Store
	logger    *slog.Logger
}

// buildStack constructs backends and registers every available tool.
// Tools whose backend is not configured are left unregistered; callers
// get a method-not-found instead of a half-wired tool.
func buildStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stack, error) {
	var resultCache *cache.Store
	if cfg.Cache.Enabled {
		resultCache = cache.NewStore(cfg.CacheDir(), logger)
	}
	idem := idempotency.NewStore(cfg.IdempotencyPath(), logger)
	dataStore := data.NewStore(cfg.DataDir(), logger)
	registry := rpc.NewRegistry(logger)

	textBackend, imageBackend, err := buildLLMBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if textBackend != nil {
		tool := summarize.New(textBackend, cfg.LLM.Model, resultCache, cfg.Cache.TTL(), logger)
		if err := rpc.Register(registry, summarize.Method, tool.Summarize); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no text backend configured, llm.summarize unavailable")
	}

	var deckBackend slides.Backend
	if cfg.Slides.TokenFile != "" {
		backend, err := slides.NewGoogleBackend(ctx, cfg.Slides.TokenFile, logger)
		if err != nil {
			return nil, fmt.Errorf("slides backend: %w", err)
		}
		deckBackend = backend
	}

	if imageBackend != nil {
		var uploader imagegen.Uploader
		if deckBackend != nil {
			uploader = deckBackend
		}
		tool := imagegen.New(imageBackend, uploader, cfg.Imagen.Model, cfg.Imagen.Size, cfg.ImagesDir(), resultCache, cfg.Cache.TTL(), logger)
		if err := rpc.Register(registry, imagegen.Method, tool.Generate); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no image backend configured, image.generate unavailable")
	}

	if deckBackend != nil {
		tool := deck.New(deckBackend, idem, logger)
		if err := rpc.Register(registry, deck.Method, tool.Create); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no slides token configured, slides.create unavailable")
	}

	queryTool := dataquery.New(dataStore, textBackend, cfg.ChartsDir(), logger)
	if err := rpc.Register(registry, dataquery.Method, queryTool.Query); err != nil {
		return nil, err
	}

	if err := registry.RegisterToolList(); err != nil {
		return nil, err
	}

	orch := orchestrator.New(rpc.NewLocalCaller(registry), orchestrator.Options{
		CallTimeout:    cfg.Orchestrator.CallTimeout(),
		DefaultSlides:  cfg.Orchestrator.DefaultSlides,
		MaxBullets:     cfg.Orchestrator.MaxBullets,
		MaxScriptChars: cfg.Orchestrator.MaxScript,
		Idempotency:    idem,
		Logger:         logger,
	})
	return &stack{
		cfg:       cfg,
		registry:  registry,
		orch:      orch,
		dataStore: dataStore,
		logger:    logger,
	}, nil
}

// buildLLMBackends resolves the text backend from config and, when a
// Gemini key is available, the Imagen image backend alongside it.
func buildLLMBackends(ctx context.Context, cfg config.Config) (llm.TextBackend, llm.ImageBackend, error) {
	geminiKey := cfg.LLM.APIKey
	if cfg.LLM.Provider != "gemini" || geminiKey == "" {
		if env := os.Getenv("GEMINI_API_KEY"); env != "" {
			geminiKey = env
		}
	}

	var gemini *llm.GeminiBackend
	if geminiKey != "" {
		backend, err := llm.NewGeminiBackend(ctx, llm.GeminiConfig{
			APIKey:      geminiKey,
			TextModel:   cfg.LLM.Model,
			ImageModel:  cfg.Imagen.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxOutputTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		gemini = backend
	}

	switch cfg.LLM.Provider {
	case "gemini":
		if gemini == nil {
			return nil, nil, nil
		}
		return gemini, gemini, nil
	case "openai":
		key := cfg.LLM.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, imageOrNil(gemini), nil
		}
		backend, err := llm.NewOpenAIBackend(llm.OpenAIConfig{
			APIKey:      key,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxOutputTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		// Imagen still handles images when a Gemini key is present.
		return backend, imageOrNil(gemini), nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func imageOrNil(g *llm.GeminiBackend) llm.ImageBackend {
	if g == nil {
		return nil
	}
	return g
}

func loadConfig(path string) (config.Config, error) {
	return config.Load(configPathFromEnv(path))
}
