// Package main provides the CLI entry point for presgen, the research
// report to slide deck orchestration service.
//
// # Basic Usage
//
// Start the HTTP edge:
//
//	presgen serve --config presgen.yaml
//
// Build one deck from a report file:
//
//	presgen orchestrate report.txt --slides 3
//
// Run the tool dispatcher over stdio (JSON-RPC 2.0, one object per line):
//
//	presgen tool-server
//
// # Environment Variables
//
//   - PRESGEN_CONFIG: Path to configuration file
//   - GEMINI_API_KEY: Google Gen AI key (Gemini text + Imagen images)
//   - OPENAI_API_KEY: OpenAI key when llm.provider is "openai"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "presgen",
		Short: "presgen - research reports to presentation decks",
		Long: `presgen turns research reports into multi-slide presentations:
an LLM summarizer plans sections, an image model illustrates them, and
the deck renderer assembles Google Slides. Tabular datasets can be
ingested and queried in natural language to add data-driven slides.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildOrchestrateCmd(),
		buildToolServerCmd(),
		buildBatchCmd(),
	)
	return rootCmd
}

func configPathFromEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("PRESGEN_CONFIG")
}
