package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Logging.Development = true
	cfg.Terminal.DefaultCwd = t.TempDir()

	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "Squadron"},
		{"/health", "healthy"},
		{"/providers", `"anthropic"`},
		{"/terminals", `"term-6"`},
		{"/metrics/json", "avg_latency_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(s, tt.path)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestServer_MetricsExposition(t *testing.T) {
	s := newTestServer(t)

	// one request so the HTTP series exist
	get(s, "/health")

	w := get(s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "squadron_http_requests_total")
	assert.Contains(t, w.Body.String(), `path="/health"`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNewTerminalManager_ProvidersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: local
  name: Local Model
  executable: ollama
  models:
    - id: llama3
      name: Llama 3
`), 0o600))

	cfg := config.Default()
	cfg.Providers.File = path

	m, err := NewTerminalManager(cfg, logging.Nop())
	require.NoError(t, err)

	provider, ok := m.Registry().Get("local")
	require.True(t, ok)
	assert.Equal(t, "llama3", provider.DefaultModel())

	_, ok = m.Registry().Get("shell")
	assert.True(t, ok)
}

func TestNewTerminalManager_BadProvidersFile(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.File = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewTerminalManager(cfg, logging.Nop())
	assert.Error(t, err)
}
