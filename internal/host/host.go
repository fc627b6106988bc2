// Package host is the caller side of the worker channel. It feeds requests
// to a running worker and routes each response back to the goroutine that
// asked for it.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ajitpratap0/clipembed/internal/models"
	"github.com/ajitpratap0/clipembed/internal/worker"
)

var (
	// ErrWorkerStopped is returned when the worker exits before answering.
	ErrWorkerStopped = errors.New("host: worker stopped")

	// ErrRequestFailed wraps an error response emitted by the worker.
	ErrRequestFailed = errors.New("host: request failed")
)

// Host owns one worker and its request channel.
type Host struct {
	w      *worker.Worker
	in     chan models.Request
	logger *slog.Logger

	status    atomic.Int64
	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan models.Message

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates a host around w. queueSize is the inbound request buffer.
func New(w *worker.Worker, queueSize int, logger *slog.Logger) *Host {
	if queueSize < 0 {
		queueSize = 0
	}
	h := &Host{
		w:       w,
		in:      make(chan models.Request, queueSize),
		logger:  logger.With("component", "host"),
		pending: make(map[string]chan models.Message),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	h.status.Store(int64(models.StatusLoading))
	return h
}

// Start launches the worker and the response dispatcher.
func (h *Host) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	runErr := make(chan error, 1)
	go func() {
		runErr <- h.w.Run(ctx, h.in)
	}()
	go func() {
		h.dispatch()
		h.err = <-runErr
		if h.err != nil {
			h.logger.Error("worker exited", "error", h.err)
		}
		close(h.done)
	}()
}

// Close stops the worker and waits for it to drain.
func (h *Host) Close() error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return h.err
}

// Done is closed when the worker has exited.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Err returns the worker's exit error once Done is closed.
func (h *Host) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Ready is closed once the ready signal has been observed. Status reports
// StatusReady from then on.
func (h *Host) Ready() <-chan struct{} {
	return h.ready
}

// Status returns the last readiness signal observed.
func (h *Host) Status() models.Status {
	return models.Status(h.status.Load())
}

// Dimension returns the loaded encoder's embedding size, or 0 while loading.
func (h *Host) Dimension() int {
	return h.w.Dimension()
}

// Embed sends a request and waits for its response. The worker never times
// out on its own; ctx bounds how long the caller is willing to wait.
func (h *Host) Embed(ctx context.Context, positive, negative string) (*models.Response, error) {
	return h.Send(ctx, models.NewRequest("", positive, negative))
}

// Send forwards req to the worker, assigning an ID when it has none.
func (h *Host) Send(ctx context.Context, req models.Request) (*models.Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ch := make(chan models.Message, 1)
	h.mu.Lock()
	if _, dup := h.pending[req.ID]; dup {
		h.mu.Unlock()
		return nil, fmt.Errorf("host: request %s already pending", req.ID)
	}
	h.pending[req.ID] = ch
	h.mu.Unlock()
	defer h.forget(req.ID)

	select {
	case h.in <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrWorkerStopped
	}

	select {
	case m, ok := <-ch:
		if !ok {
			return nil, ErrWorkerStopped
		}
		switch v := m.(type) {
		case models.Response:
			return &v, nil
		case models.ErrorResponse:
			return nil, fmt.Errorf("%w: %s", ErrRequestFailed, v.Error)
		default:
			return nil, fmt.Errorf("host: unexpected message %T", m)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrWorkerStopped
	}
}

func (h *Host) forget(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

func (h *Host) dispatch() {
	for m := range h.w.Messages() {
		if sig, ok := m.(models.Signal); ok {
			h.status.Store(int64(sig.Status))
			h.logger.Info("worker status", "status", sig.Status.String())
			if sig.Status == models.StatusReady {
				h.readyOnce.Do(func() { close(h.ready) })
			}
			continue
		}

		id := models.RequestID(m)
		h.mu.Lock()
		ch, ok := h.pending[id]
		if ok {
			delete(h.pending, id)
		}
		h.mu.Unlock()

		if !ok {
			h.logger.Debug("dropping response with no waiting caller", "id", id)
			continue
		}
		ch <- m
	}

	h.mu.Lock()
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
	h.mu.Unlock()
}
