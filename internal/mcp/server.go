// Package mcp implements the Model Context Protocol server for clipembed.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/clipembed/internal/models"
)

// Embedder is the worker-facing side of the MCP server.
type Embedder interface {
	Embed(ctx context.Context, positive, negative string) (*models.Response, error)
	Status() models.Status
	Dimension() int
}

// Server wraps an MCPServer with the embedding worker.
type Server struct {
	mcp     *mcpserver.MCPServer
	emb     Embedder
	modelID string
	timeout time.Duration
	logger  *slog.Logger
}

// NewServer creates a new MCP server. If emb is nil, tool calls return an
// error response instead of panicking.
func NewServer(emb Embedder, modelID string, timeout time.Duration, logger *slog.Logger) *Server {
	s := &Server{
		emb:     emb,
		modelID: modelID,
		timeout: timeout,
		logger:  logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"clipembed",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildEmbedTextTool(), s.handleEmbedText)
	mcpSrv.AddTool(buildWorkerStatusTool(), s.handleWorkerStatus)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleEmbedText is the exported handler for the "embed_text" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleEmbedText(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleEmbedText(ctx, req)
}

// HandleWorkerStatus is the exported handler for the "worker_status" tool.
func (s *Server) HandleWorkerStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleWorkerStatus(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// --- tool definitions ---

func buildEmbedTextTool() mcpgo.Tool {
	return mcpgo.NewTool("embed_text",
		mcpgo.WithDescription("Compute CLIP text embeddings for a positive prompt and an optional negative prompt."),
		mcpgo.WithString("positive",
			mcpgo.Required(),
			mcpgo.Description("The text to embed"),
		),
		mcpgo.WithString("negative",
			mcpgo.Description("Optional second text; omitted or empty yields a null negative embedding"),
		),
	)
}

func buildWorkerStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("worker_status",
		mcpgo.WithDescription("Report whether the embedding model has finished loading."),
	)
}

// --- tool handlers ---

// handleEmbedText forwards one request to the worker and returns its response.
func (s *Server) handleEmbedText(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.emb == nil {
		return mcpgo.NewToolResultError("embedder is unavailable"), nil
	}

	args := req.GetArguments()
	if _, ok := args["positive"].(string); !ok {
		return mcpgo.NewToolResultError("positive is required and must be a string"), nil
	}
	positive := req.GetString("positive", "")
	negative := req.GetString("negative", "")

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.emb.Embed(ctx, positive, negative)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return mcpgo.NewToolResultErrorf("worker did not respond within %s", s.timeout), nil
		}
		s.logger.Error("embed_text failed", "error", err)
		return mcpgo.NewToolResultErrorf("embedding failed: %s", err.Error()), nil
	}
	return toolResultJSON(resp)
}

// handleWorkerStatus returns the last readiness signal seen from the worker.
func (s *Server) handleWorkerStatus(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.emb == nil {
		return mcpgo.NewToolResultError("embedder is unavailable"), nil
	}

	st := s.emb.Status()
	return toolResultJSON(map[string]any{
		"status":    st,
		"ready":     st == models.StatusReady,
		"model":     s.modelID,
		"dimension": s.emb.Dimension(),
	})
}
