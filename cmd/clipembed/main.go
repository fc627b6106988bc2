package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/clipembed/internal/config"
	"github.com/ajitpratap0/clipembed/internal/embedder"
	"github.com/ajitpratap0/clipembed/internal/host"
	"github.com/ajitpratap0/clipembed/internal/hub"
	"github.com/ajitpratap0/clipembed/internal/worker"
	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "clipembed",
		Short: "clipembed: CLIP text-embedding worker",
		Long:  "clipembed loads a CLIP text encoder once and answers embedding requests over stdio, HTTP or MCP.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		embedCmd(),
		healthCmd(),
		mcpCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newLoader(logger *slog.Logger) *embedder.Loader {
	files := hub.NewClient(hub.Options{
		RemoteHost:       cfg.Hub.RemoteHost,
		Revision:         cfg.Hub.Revision,
		AllowLocalModels: cfg.Hub.AllowLocalModels,
		LocalModelPath:   cfg.Hub.LocalModelPath,
		Timeout:          cfg.Hub.Timeout,
		MaxFileSize:      cfg.Hub.MaxFileSize,
	}, logger)
	return embedder.NewLoader(files, cfg, logger)
}

func newWorker(logger *slog.Logger) *worker.Worker {
	return worker.New(newLoader(logger), worker.Options{
		ModelID: cfg.Model.ID,
		Tokenizer: tokenizer.Options{
			Padding:    cfg.Tokenizer.Padding,
			Truncation: cfg.Tokenizer.Truncation,
		},
		EmitErrors: cfg.Worker.EmitErrors,
		OutboxSize: cfg.Worker.QueueSize,
	}, logger)
}

// newHost starts a worker behind a host. The caller must Close it.
func newHost(ctx context.Context, logger *slog.Logger) *host.Host {
	h := host.New(newWorker(logger), cfg.Worker.QueueSize, logger)
	h.Start(ctx)
	return h
}
