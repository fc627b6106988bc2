package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/clipembed/internal/host"
	"github.com/ajitpratap0/clipembed/internal/models"
	"github.com/ajitpratap0/clipembed/internal/search"
)

const (
	maxEmbedBody  = 1 << 20  // 1 MB
	maxSearchBody = 64 << 20 // candidate vectors
)

// Embedder is the worker-facing side of the API.
type Embedder interface {
	Embed(ctx context.Context, positive, negative string) (*models.Response, error)
	Status() models.Status
	Dimension() int
}

// Server is an HTTP API server that exposes the embedding worker.
type Server struct {
	emb       Embedder
	modelID   string
	timeout   time.Duration
	logger    *slog.Logger
	authToken string // empty = no auth required

	thresholds search.Thresholds
	maxResults int
}

// NewServer creates a new Server. timeout bounds how long a request waits for
// the worker to answer.
func NewServer(emb Embedder, modelID string, timeout time.Duration, logger *slog.Logger, authToken string) *Server {
	return &Server{
		emb:       emb,
		modelID:   modelID,
		timeout:   timeout,
		logger:    logger,
		authToken: authToken,

		thresholds: search.DefaultThresholds(),
	}
}

// WithSearch sets the default thresholds and result cap of /v1/search.
// maxResults <= 0 returns every match.
func (s *Server) WithSearch(th search.Thresholds, maxResults int) *Server {
	s.thresholds = th
	s.maxResults = maxResults
	return s
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check, no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /v1/status", s.auth(s.handleStatus))
	mux.HandleFunc("POST /v1/embed", s.auth(s.handleEmbed))
	mux.HandleFunc("POST /v1/search", s.auth(s.handleSearch))
	mux.Handle("GET /debug/vars", s.auth(expvar.Handler().ServeHTTP))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is returned by GET /v1/status.
type statusResponse struct {
	Status    models.Status `json:"status"`
	Ready     bool          `json:"ready"`
	Model     string        `json:"model"`
	Dimension int           `json:"dimension"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.emb.Status()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:    st,
		Ready:     st == models.StatusReady,
		Model:     s.modelID,
		Dimension: s.emb.Dimension(),
	})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEmbedBody)
	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, "positive is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp, err := s.emb.Embed(ctx, *req.Positive, req.Negative)
	if err != nil {
		s.writeEmbedError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// searchRequest is the body of POST /v1/search. Nil thresholds and limit
// fall back to the server defaults.
type searchRequest struct {
	Positive          *string     `json:"positive"`
	Negative          string      `json:"negative"`
	Candidates        [][]float32 `json:"candidates"`
	PositiveThreshold *float64    `json:"positive_threshold"`
	NegativeThreshold *float64    `json:"negative_threshold"`
	Limit             *int        `json:"limit"`
}

// searchResponse is returned by POST /v1/search.
type searchResponse struct {
	Matches           []search.Match `json:"matches"`
	PositiveThreshold float64        `json:"positive_threshold"`
	NegativeThreshold float64        `json:"negative_threshold"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSearchBody)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Positive == nil {
		s.writeError(w, http.StatusBadRequest, "positive is required")
		return
	}

	th := s.thresholds
	if req.PositiveThreshold != nil {
		th.Positive = *req.PositiveThreshold
	}
	if req.NegativeThreshold != nil {
		th.Negative = *req.NegativeThreshold
	}
	if th.Positive < 0 || th.Positive > 100 || th.Negative < 0 || th.Negative > 100 {
		s.writeError(w, http.StatusBadRequest, "thresholds must be between 0 and 100")
		return
	}
	limit := s.maxResults
	if req.Limit != nil {
		limit = *req.Limit
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	emb, err := s.emb.Embed(ctx, *req.Positive, req.Negative)
	if err != nil {
		s.writeEmbedError(w, err)
		return
	}

	scores, err := search.Score(ctx, emb.Positive, emb.Negative, req.Candidates, th)
	if err != nil {
		if errors.Is(err, search.ErrDimensionMismatch) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeEmbedError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, searchResponse{
		Matches:           search.Rank(scores, limit),
		PositiveThreshold: th.Positive,
		NegativeThreshold: th.Negative,
	})
}

// --- helpers ---

// writeEmbedError maps a worker-side failure to an HTTP status.
func (s *Server) writeEmbedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("embed request timed out", "timeout", s.timeout)
		s.writeError(w, http.StatusGatewayTimeout, "worker did not respond in time")
	case errors.Is(err, host.ErrWorkerStopped):
		s.writeError(w, http.StatusServiceUnavailable, "worker is not running")
	case errors.Is(err, context.Canceled):
		s.logger.Debug("client went away", "error", err)
	default:
		s.logger.Error("embed request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to generate embedding")
	}
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
