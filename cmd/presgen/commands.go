package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/presgen/internal/gateway"
	"github.com/haasonsaas/presgen/internal/orchestrator"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP edge and tool stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			srv := gateway.NewServer(gateway.Config{
				Host:                 cfg.Server.Host,
				Port:                 cfg.Server.Port,
				SlackSigningSecret:   cfg.Slack.SigningSecret,
				SlackBypassSignature: cfg.Slack.BypassSignature,
			}, st.orch, st.dataStore, st.logger)
			if err := srv.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			slog.Info("shutting down")
			srv.Shutdown(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

func buildToolServerCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "tool-server",
		Short: "Serve the tool dispatcher over stdio (JSON-RPC 2.0 lines)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := buildStack(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			// EOF on stdin is the shutdown signal; exit 0 after drain.
			return st.registry.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

func buildOrchestrateCmd() *cobra.Command {
	var (
		configPath    string
		requestID     string
		slideCount    int
		noCache       bool
		cacheTTLHours float64
		questions     []string
		datasetHint   string
	)
	cmd := &cobra.Command{
		Use:   "orchestrate <report_path>",
		Short: "Build one deck from a report file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			report, err := os.ReadFile(args[0])
			if err != nil {
				slog.Error("cannot read report", "path", args[0], "error", err)
				os.Exit(2)
			}
			if slideCount < 1 || slideCount > orchestrator.MaxSlides {
				slog.Error("invalid slide count", "slides", slideCount)
				os.Exit(2)
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(2)
			}
			if noCache {
				cfg.Cache.Enabled = false
			}
			if cacheTTLHours > 0 {
				cfg.Cache.TTLHours = cacheTTLHours
			}

			st, err := buildStack(cmd.Context(), cfg, slog.Default())
			if err != nil {
				slog.Error("stack construction failed", "error", err)
				os.Exit(1)
			}
			res, err := st.orch.Run(cmd.Context(), orchestrator.Params{
				ReportText:      string(report),
				ClientRequestID: requestID,
				SlideCount:      slideCount,
				DataQuestions:   questions,
				DatasetID:       datasetHint,
			})
			if err != nil {
				slog.Error("orchestration failed", "error", err)
				os.Exit(1)
			}
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Idempotency key for this request")
	cmd.Flags().IntVar(&slideCount, "slides", 1, "Number of slides (1-10)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the result cache")
	cmd.Flags().Float64Var(&cacheTTLHours, "cache-ttl-hours", 0, "Cache entry lifetime in hours")
	cmd.Flags().StringSliceVar(&questions, "ask", nil, "Data questions to answer as extra slides")
	cmd.Flags().StringVar(&datasetHint, "dataset", "", "Dataset id, filename, or 'latest' for --ask")
	return cmd
}

func buildBatchCmd() *cobra.Command {
	var (
		configPath string
		slideCount int
		pauseSecs  int
	)
	cmd := &cobra.Command{
		Use:   "batch <path>...",
		Short: "Build decks for many report files sequentially",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			items, err := collectBatchItems(args)
			if err != nil {
				slog.Error("cannot collect reports", "error", err)
				os.Exit(2)
			}
			if len(items) == 0 {
				slog.Error("no report files found", "paths", args)
				os.Exit(2)
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(2)
			}
			st, err := buildStack(cmd.Context(), cfg, slog.Default())
			if err != nil {
				slog.Error("stack construction failed", "error", err)
				os.Exit(1)
			}

			results := st.orch.RunBatch(cmd.Context(), items, slideCount, time.Duration(pauseSecs)*time.Second)
			out, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(out))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().IntVar(&slideCount, "slides", 1, "Slides per deck (1-10)")
	cmd.Flags().IntVar(&pauseSecs, "pause-secs", 0, "Pause between items in seconds")
	return cmd
}

// collectBatchItems expands files and directories into named reports.
// Directories contribute their .txt and .md files, sorted by name.
func collectBatchItems(paths []string) ([]orchestrator.BatchItem, error) {
	var items []orchestrator.BatchItem
	addFile := func(path string) error {
		text, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		items = append(items, orchestrator.BatchItem{Name: name, Text: string(text)})
		return nil
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if err := addFile(path); err != nil {
				return nil, err
			}
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".txt", ".md":
				if err := addFile(filepath.Join(path, entry.Name())); err != nil {
					return nil, err
				}
			}
		}
	}
	return items, nil
}
