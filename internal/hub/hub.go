// Package hub resolves the files of a pretrained model by identifier,
// either from a local model directory or from a remote model repository.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultRevision = "main"
	defaultTimeout  = 60 * time.Second

	// defaultMaxFileSize caps a single downloaded file. It fits the full
	// precision CLIP ViT-B/32 text tower.
	defaultMaxFileSize = 512 << 20
)

// ErrInvalidModelID is returned for identifiers that could escape the model directory.
var ErrInvalidModelID = errors.New("invalid model id")

// Options configures a Client.
type Options struct {
	RemoteHost       string
	Revision         string
	AllowLocalModels bool
	LocalModelPath   string
	Timeout          time.Duration
	MaxFileSize      int64
}

// Client fetches model files.
type Client struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a hub client. Local lookup only happens when
// opts.AllowLocalModels is set.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Revision == "" {
		opts.Revision = defaultRevision
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	opts.RemoteHost = strings.TrimRight(opts.RemoteHost, "/")
	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

// Fetch returns the contents of file for the given model.
func (c *Client) Fetch(ctx context.Context, modelID, file string) ([]byte, error) {
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}

	if c.opts.AllowLocalModels {
		data, err := c.fetchLocal(modelID, file)
		if err == nil {
			return data, nil
		}
		if c.opts.RemoteHost == "" {
			return nil, err
		}
		c.logger.Debug("local model file unavailable, falling back to remote", "model", modelID, "file", file, "error", err)
	}

	return c.fetchRemote(ctx, modelID, file)
}

func (c *Client) fetchLocal(modelID, file string) ([]byte, error) {
	path := filepath.Join(c.opts.LocalModelPath, filepath.FromSlash(modelID), filepath.FromSlash(file))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hub: reading local file %s: %w", path, err)
	}
	c.logger.Debug("loaded local model file", "path", path, "bytes", len(data))
	return data, nil
}

func (c *Client) fetchRemote(ctx context.Context, modelID, file string) ([]byte, error) {
	u := c.opts.RemoteHost + "/" + modelID + "/resolve/" + url.PathEscape(c.opts.Revision) + "/" + file

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("hub: creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub: fetching %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hub: %s returned %d: %s", u, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("hub: reading %s: %w", u, err)
	}
	if int64(len(data)) > c.opts.MaxFileSize {
		return nil, fmt.Errorf("hub: %s exceeds %d bytes", u, c.opts.MaxFileSize)
	}

	c.logger.Debug("fetched remote model file", "url", u, "bytes", len(data))
	return data, nil
}

func validateModelID(id string) error {
	if id == "" || strings.HasPrefix(id, "/") || strings.Contains(id, "..") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}
	return nil
}
