package hub

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFakeHub(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/org/model/resolve/main/config.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"projection_dim":512}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_Remote(t *testing.T) {
	srv := newFakeHub(t, nil)
	c := NewClient(Options{RemoteHost: srv.URL + "/"}, quietLogger())

	data, err := c.Fetch(context.Background(), "org/model", "config.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"projection_dim":512}`, string(data))
}

func TestFetch_RemoteNotFound(t *testing.T) {
	srv := newFakeHub(t, nil)
	c := NewClient(Options{RemoteHost: srv.URL}, quietLogger())

	_, err := c.Fetch(context.Background(), "org/model", "missing.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_LocalIgnoredWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "org", "model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "org", "model", "config.json"), []byte(`{"projection_dim":8}`), 0o600))

	var hits atomic.Int32
	srv := newFakeHub(t, &hits)
	c := NewClient(Options{RemoteHost: srv.URL, LocalModelPath: dir}, quietLogger())

	data, err := c.Fetch(context.Background(), "org/model", "config.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"projection_dim":512}`, string(data))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_LocalPreferredWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "org", "model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "org", "model", "config.json"), []byte(`{"projection_dim":8}`), 0o600))

	var hits atomic.Int32
	srv := newFakeHub(t, &hits)
	c := NewClient(Options{RemoteHost: srv.URL, AllowLocalModels: true, LocalModelPath: dir}, quietLogger())

	data, err := c.Fetch(context.Background(), "org/model", "config.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"projection_dim":8}`, string(data))
	assert.Zero(t, hits.Load())
}

func TestFetch_LocalMissFallsBackToRemote(t *testing.T) {
	srv := newFakeHub(t, nil)
	c := NewClient(Options{RemoteHost: srv.URL, AllowLocalModels: true, LocalModelPath: t.TempDir()}, quietLogger())

	data, err := c.Fetch(context.Background(), "org/model", "config.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"projection_dim":512}`, string(data))
}

func TestFetch_LocalOnlyMiss(t *testing.T) {
	c := NewClient(Options{AllowLocalModels: true, LocalModelPath: t.TempDir()}, quietLogger())

	_, err := c.Fetch(context.Background(), "org/model", "config.json")
	require.Error(t, err)
}

func TestFetch_InvalidModelID(t *testing.T) {
	c := NewClient(Options{RemoteHost: "http://unused"}, quietLogger())
	for _, id := range []string{"", "/etc", "org/../secret", `org\model`} {
		_, err := c.Fetch(context.Background(), id, "config.json")
		assert.ErrorIs(t, err, ErrInvalidModelID, id)
	}
}

func TestFetch_RemoteSizeLimit(t *testing.T) {
	srv := newFakeHub(t, nil)
	c := NewClient(Options{RemoteHost: srv.URL, MaxFileSize: 8}, quietLogger())

	_, err := c.Fetch(context.Background(), "org/model", "config.json")
	assert.ErrorContains(t, err, "exceeds 8 bytes")
}
