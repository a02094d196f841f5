// Package config defines the explicit configuration record built once at
// startup and handed to components. Components hold no process-global state;
// the caches are constructed from these values and injected.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" json:"server"`
	LLM          LLMConfig          `yaml:"llm" json:"llm"`
	Imagen       ImagenConfig       `yaml:"imagen" json:"imagen"`
	Slides       SlidesConfig       `yaml:"slides" json:"slides"`
	Cache        CacheConfig        `yaml:"cache" json:"cache"`
	Paths        PathsConfig        `yaml:"paths" json:"paths"`
	Slack        SlackConfig        `yaml:"slack" json:"slack"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
}

// ServerConfig configures the HTTP edge.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// LLMConfig selects and tunes the text backend.
type LLMConfig struct {
	// Provider is "gemini" or "openai".
	Provider        string  `yaml:"provider" json:"provider"`
	Model           string  `yaml:"model" json:"model"`
	APIKey          string  `yaml:"api_key" json:"api_key"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// ImagenConfig tunes the image generation backend.
type ImagenConfig struct {
	Model string `yaml:"model" json:"model"`
	// Size is "<width>x<height>"; empty means derive from aspect.
	Size string `yaml:"size" json:"size"`
}

// SlidesConfig configures the deck rendering backend. Token acquisition
// itself is outside this system; the file holds an already-issued token.
type SlidesConfig struct {
	TokenFile string `yaml:"token_file" json:"token_file"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	TTLHours float64 `yaml:"ttl_hours" json:"ttl_hours"`
}

// TTL returns the configured entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours * float64(time.Hour))
}

// PathsConfig is the root of the persisted state layout.
type PathsConfig struct {
	OutDir string `yaml:"out_dir" json:"out_dir"`
}

// SlackConfig configures the chat-platform webhook edge.
type SlackConfig struct {
	SigningSecret string `yaml:"signing_secret" json:"signing_secret"`
	// BypassSignature disables verification for local testing only.
	BypassSignature bool `yaml:"bypass_signature" json:"bypass_signature"`
}

// OrchestratorConfig tunes the fan-out engine.
type OrchestratorConfig struct {
	DefaultSlides   int `yaml:"default_slides" json:"default_slides"`
	CallTimeoutSecs int `yaml:"call_timeout_secs" json:"call_timeout_secs"`
	MaxBullets      int `yaml:"max_bullets" json:"max_bullets"`
	MaxScript       int `yaml:"max_script_chars" json:"max_script_chars"`
}

// CallTimeout returns the per-tool-call deadline.
func (c OrchestratorConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		LLM: LLMConfig{
			Provider:        "gemini",
			Model:           "gemini-2.0-flash",
			Temperature:     0.2,
			MaxOutputTokens: 1024,
		},
		Imagen: ImagenConfig{Model: "imagen-3.0-generate-002"},
		Cache:  CacheConfig{Enabled: true, TTLHours: 10},
		Paths:  PathsConfig{OutDir: "out"},
		Orchestrator: OrchestratorConfig{
			DefaultSlides:   1,
			CallTimeoutSecs: 60,
			MaxBullets:      5,
			MaxScript:       700,
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider must be gemini or openai, got %q", c.LLM.Provider)
	}
	if c.Orchestrator.DefaultSlides < 1 || c.Orchestrator.DefaultSlides > 10 {
		return fmt.Errorf("orchestrator.default_slides must be in 1..10")
	}
	if c.Paths.OutDir == "" {
		return fmt.Errorf("paths.out_dir is required")
	}
	return nil
}

// State layout helpers. Callers create directories on first write.

// CacheDir is the result-cache root.
func (c *Config) CacheDir() string { return filepath.Join(c.Paths.OutDir, "cache") }

// IdempotencyPath is the durable idempotency map file.
func (c *Config) IdempotencyPath() string {
	return filepath.Join(c.Paths.OutDir, "state", "idempotency.json")
}

// ImagesDir holds generated image artifacts.
func (c *Config) ImagesDir() string { return filepath.Join(c.Paths.OutDir, "images") }

// ChartsDir holds rendered query charts, namespaced per dataset.
func (c *Config) ChartsDir() string { return filepath.Join(c.Paths.OutDir, "images", "charts") }

// DataDir holds ingested datasets.
func (c *Config) DataDir() string { return filepath.Join(c.Paths.OutDir, "data") }

// CatalogPath is the append-only dataset catalog.
func (c *Config) CatalogPath() string { return filepath.Join(c.Paths.OutDir, "data", "catalog.json") }
