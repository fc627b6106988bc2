package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/clipembed/internal/api"
	"github.com/ajitpratap0/clipembed/internal/search"
	"github.com/ajitpratap0/clipembed/internal/transport"
)

func serveCmd() *cobra.Command {
	var stdio bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the embedding worker over HTTP, or over stdin/stdout with --stdio",
		Long: `Runs the embedding worker.

With --stdio the worker reads one JSON request per line from stdin and writes
every worker message, status signals included, as one JSON line to stdout.
Logs always go to stderr.

Without --stdio it starts the HTTP/JSON API on api.listen_addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			if stdio {
				logger.Info("worker starting", "transport", "stdio", "model", cfg.Model.ID, "backend", cfg.Model.Backend)
				return transport.Serve(cmd.Context(), newWorker(logger), os.Stdin, os.Stdout, logger)
			}

			h := newHost(cmd.Context(), logger)
			defer func() { _ = h.Close() }()

			srv := api.NewServer(h, cfg.Model.ID, cfg.Worker.RequestTimeout, logger, cfg.API.AuthToken).
				WithSearch(search.Thresholds{
					Positive: cfg.Search.PositiveThreshold,
					Negative: cfg.Search.NegativeThreshold,
				}, cfg.Search.MaxResults)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set CLIPEMBED_API_AUTH_TOKEN or api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      cfg.Worker.RequestTimeout + 30*time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr)
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-cmd.Context().Done():
				logger.Info("shutting down")
			case <-h.Done():
				logger.Error("worker exited, shutting down")
			case startErr := <-errCh:
				if startErr != nil {
					return startErr
				}
				return nil
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// Drain the errCh in case ListenAndServe returned after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}

			if err := h.Err(); err != nil {
				return fmt.Errorf("serve: worker: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve the worker message protocol over stdin/stdout instead of HTTP")
	return cmd
}
