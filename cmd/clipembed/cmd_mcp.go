package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	clipmcp "github.com/ajitpratap0/clipembed/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  embed_text     embed a positive text and an optional negative text
  worker_status  report whether the model has finished loading

The model loads in the background; embed_text calls made before it is ready
wait up to worker.request_timeout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			h := newHost(cmd.Context(), logger)
			defer func() { _ = h.Close() }()

			srv := clipmcp.NewServer(h, cfg.Model.ID, cfg.Worker.RequestTimeout, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: clipembed MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
