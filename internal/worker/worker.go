// Package worker implements the embedding worker: it loads a text encoder
// and tokenizer once, announces readiness, and answers embedding requests
// received on an inbound channel with messages on an outbound channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/clipembed/internal/embedder"
	"github.com/ajitpratap0/clipembed/internal/metrics"
	"github.com/ajitpratap0/clipembed/internal/models"
	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

var (
	// ErrNotReady is returned by Embed before the model has finished loading.
	ErrNotReady = errors.New("worker: model not loaded")

	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("worker: already started")
)

// Loader acquires the encoder and tokenizer of a pretrained model.
type Loader interface {
	LoadTokenizer(ctx context.Context, modelID string) (embedder.Tokenizer, error)
	LoadTextModel(ctx context.Context, modelID string) (embedder.TextModel, error)
}

// Options configures a Worker.
type Options struct {
	ModelID string

	// Tokenizer is passed on every tokenizer call.
	Tokenizer tokenizer.Options

	// EmitErrors makes failed requests produce an ErrorResponse instead of silence.
	EmitErrors bool

	// OutboxSize is the buffer of the outbound message channel.
	OutboxSize int
}

// session holds the handles shared by every request.
type session struct {
	model embedder.TextModel
	tok   embedder.Tokenizer
}

// Worker is a long-lived embedding worker. Create it with New and start it with Run.
type Worker struct {
	loader Loader
	opts   Options
	logger *slog.Logger

	out     chan models.Message
	ready   chan struct{}
	started atomic.Bool
	current atomic.Pointer[session]

	// mu serialises access to the encoder and tokenizer.
	mu sync.Mutex
}

// New creates a worker. Nothing is loaded until Run is called.
func New(loader Loader, opts Options, logger *slog.Logger) *Worker {
	if opts.OutboxSize < 0 {
		opts.OutboxSize = 0
	}
	return &Worker{
		loader: loader,
		opts:   opts,
		logger: logger.With("component", "worker", "model", opts.ModelID),
		out:    make(chan models.Message, opts.OutboxSize),
		ready:  make(chan struct{}),
	}
}

// Messages returns the outbound channel. It is closed when Run returns.
func (w *Worker) Messages() <-chan models.Message {
	return w.out
}

// Ready is closed once the model and tokenizer are loaded.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Dimension returns the encoder's embedding size, or 0 before loading completes.
func (w *Worker) Dimension() int {
	s, err := w.handles()
	if err != nil {
		return 0
	}
	return s.model.Dimension()
}

// Run emits the loading signal, loads the model and tokenizer concurrently,
// emits the ready signal and then serves requests from in until in is closed
// or ctx is cancelled. If loading fails the ready signal is never emitted and
// the error is returned. The outbound channel is closed on return, after all
// in-flight requests have finished.
func (w *Worker) Run(ctx context.Context, in <-chan models.Request) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(w.out)

	if !w.post(ctx, models.Signal{Status: models.StatusLoading}) {
		return nil
	}

	s, err := w.load(ctx)
	if err != nil {
		metrics.Inc(metrics.ModelLoadFailures)
		w.logger.Error("model load failed", "error", err)
		return fmt.Errorf("loading model %s: %w", w.opts.ModelID, err)
	}
	metrics.Inc(metrics.ModelLoadsTotal)
	defer w.release(s)

	w.current.Store(s)
	if !w.post(ctx, models.Signal{Status: models.StatusReady}) {
		return nil
	}
	close(w.ready)
	w.logger.Info("worker ready", "dimension", s.model.Dimension())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "reason", ctx.Err())
			return nil
		case req, ok := <-in:
			if !ok {
				w.logger.Info("request channel closed")
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.handle(ctx, req)
			}()
		}
	}
}

// Embed computes the response for a single request using the loaded handles.
func (w *Worker) Embed(ctx context.Context, req models.Request) (*models.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s, err := w.handles()
	if err != nil {
		return nil, err
	}

	positive, err := w.encode(ctx, s, *req.Positive)
	if err != nil {
		return nil, fmt.Errorf("encoding positive text: %w", err)
	}

	var negative []float32
	if req.WantsNegative() {
		negative, err = w.encode(ctx, s, req.Negative)
		if err != nil {
			return nil, fmt.Errorf("encoding negative text: %w", err)
		}
	}

	return &models.Response{
		ID:       req.ID,
		Status:   models.StatusReady,
		Positive: positive,
		Negative: negative,
	}, nil
}

// handles is the single accessor for the process-wide model state.
func (w *Worker) handles() (*session, error) {
	s := w.current.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	return s, nil
}

func (w *Worker) load(ctx context.Context) (*session, error) {
	var s session
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m, err := w.loader.LoadTextModel(gctx, w.opts.ModelID)
		if err != nil {
			return fmt.Errorf("text model: %w", err)
		}
		s.model = m
		return nil
	})
	g.Go(func() error {
		tok, err := w.loader.LoadTokenizer(gctx, w.opts.ModelID)
		if err != nil {
			return fmt.Errorf("tokenizer: %w", err)
		}
		s.tok = tok
		return nil
	})

	if err := g.Wait(); err != nil {
		w.release(&s)
		return nil, err
	}
	return &s, nil
}

// release frees native handles held by the model and tokenizer, if any.
func (w *Worker) release(s *session) {
	if c, ok := s.model.(io.Closer); ok {
		if err := c.Close(); err != nil {
			w.logger.Warn("closing text model", "error", err)
		}
	}
	if c, ok := s.tok.(io.Closer); ok {
		if err := c.Close(); err != nil {
			w.logger.Warn("closing tokenizer", "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, req models.Request) {
	defer func() {
		if p := recover(); p != nil {
			metrics.Inc(metrics.InferenceErrorsTotal)
			w.logger.Error("request handler panicked", "id", req.ID, "panic", p)
			w.fail(ctx, req, fmt.Errorf("handler panic: %v", p))
		}
	}()

	metrics.Inc(metrics.RequestsTotal)

	if err := req.Validate(); err != nil {
		metrics.Inc(metrics.MalformedTotal)
		w.logger.Warn("dropping malformed request", "id", req.ID, "error", err)
		w.fail(ctx, req, err)
		return
	}

	resp, err := w.Embed(ctx, req)
	if err != nil {
		metrics.Inc(metrics.InferenceErrorsTotal)
		w.logger.Error("embedding request failed", "id", req.ID, "error", err)
		w.fail(ctx, req, err)
		return
	}

	if w.post(ctx, *resp) {
		metrics.Inc(metrics.ResponsesTotal)
		w.logger.Debug("response posted", "id", req.ID, "negative", resp.Negative != nil)
	}
}

func (w *Worker) encode(ctx context.Context, s *session, text string) ([]float32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	inputs, err := s.tok.Encode(text, w.opts.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}
	out, err := s.model.Encode(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}
	if out == nil || len(out.TextEmbeds) == 0 {
		return nil, fmt.Errorf("encoder returned no text embedding")
	}
	metrics.Inc(metrics.EmbeddingsTotal)
	return out.TextEmbeds, nil
}

// fail reports a failed request when error responses are enabled.
func (w *Worker) fail(ctx context.Context, req models.Request, err error) {
	if !w.opts.EmitErrors {
		return
	}
	w.post(ctx, models.ErrorResponse{ID: req.ID, Status: models.StatusError, Error: err.Error()})
}

func (w *Worker) post(ctx context.Context, m models.Message) bool {
	select {
	case w.out <- m:
		return true
	case <-ctx.Done():
		return false
	}
}
