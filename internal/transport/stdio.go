// Package transport carries the worker's message protocol over a byte stream:
// one JSON request object per input line, one JSON message per output line.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ajitpratap0/clipembed/internal/models"
	"github.com/ajitpratap0/clipembed/internal/worker"
)

// maxLineSize bounds a single request line.
const maxLineSize = 1 << 20

// Serve runs w, feeding it requests decoded from r and writing every message
// it posts (readiness signals included) to out. Lines that are not valid JSON
// are forwarded as malformed requests. Serve returns when r is exhausted and
// all in-flight requests are answered, when ctx is cancelled, or when the
// model fails to load.
func Serve(ctx context.Context, w *worker.Worker, r io.Reader, out io.Writer, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan models.Request)

	var wg sync.WaitGroup
	wg.Add(1)
	writeErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		writeErr <- writeMessages(w.Messages(), out)
	}()

	go readRequests(ctx, r, in, logger)

	runErr := w.Run(ctx, in)
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	if err := <-writeErr; err != nil {
		return fmt.Errorf("writing messages: %w", err)
	}
	return nil
}

func readRequests(ctx context.Context, r io.Reader, in chan<- models.Request, logger *slog.Logger) {
	defer close(in)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		req, err := models.DecodeRequest(line)
		if err != nil {
			logger.Warn("undecodable request line", "error", err)
			req = models.Request{}
		}
		select {
		case in <- req:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		logger.Error("reading requests", "error", err)
	}
}

// writeMessages drains msgs even after a write error so the worker never blocks.
func writeMessages(msgs <-chan models.Message, out io.Writer) error {
	enc := json.NewEncoder(out)
	var firstErr error
	for m := range msgs {
		if firstErr != nil {
			continue
		}
		if err := enc.Encode(m); err != nil {
			firstErr = err
		}
	}
	return firstErr
}
