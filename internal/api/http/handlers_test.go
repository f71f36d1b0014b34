//go:build !windows

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/logging"
)

const testProviders = `
- id: shell
  name: Shell
  executable: shell
- id: ghost
  name: Ghost
  executable: ghost-cli-not-installed
  models:
    - id: g1
      name: G1
`

func newTestRouter(t *testing.T, mutate func(*terminal.Options)) (*gin.Engine, *terminal.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := terminal.NewRegistry([]byte(testProviders))
	require.NoError(t, err)

	opts := terminal.Options{
		Registry:    registry,
		Resolver:    &terminal.Resolver{Platform: terminal.PlatformPOSIX, DefaultShell: "/bin/sh"},
		Logger:      logging.Nop(),
		KillGrace:   time.Second,
		DefaultCwd:  t.TempDir(),
		MaxSessions: 2,
		Slots:       []string{"term-1", "term-2"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	m := terminal.NewManager(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	router := gin.New()
	NewHandlers(m, nil, logging.Nop()).Register(router)
	return router, m
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "terminals")
}

func TestProviders(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(t, router, "GET", "/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	providers := decode(t, w)["providers"].([]any)
	require.Len(t, providers, 2)
	assert.Equal(t, "shell", providers[0].(map[string]any)["id"])

	w = do(t, router, "GET", "/providers/ghost", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ghost", decode(t, w)["name"])

	w = do(t, router, "GET", "/providers/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreflightProvider(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(t, router, "POST", "/providers/shell/preflight", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pf := decode(t, w)["preflight"].(map[string]any)
	assert.Equal(t, true, pf["ready"])
	assert.Equal(t, true, pf["skipped"])

	w = do(t, router, "POST", "/providers/ghost/preflight", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pf = decode(t, w)["preflight"].(map[string]any)
	assert.Equal(t, false, pf["ready"])

	w = do(t, router, "POST", "/providers/nope/preflight", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnsureTerminal(t *testing.T) {
	router, m := newTestRouter(t, nil)

	w := do(t, router, "PUT", "/terminals/term-1", EnsureRequest{Provider: "shell"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["spawned"])
	assert.Equal(t, "running", body["session"].(map[string]any)["state"])

	// same provider and model is a no-op
	w = do(t, router, "PUT", "/terminals/term-1", EnsureRequest{Provider: "shell"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["spawned"])

	info, ok := m.Get("term-1")
	require.True(t, ok)
	assert.Equal(t, terminal.StateRunning, info.State)

	w = do(t, router, "GET", "/terminals/term-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "term-1", decode(t, w)["id"])
}

func TestEnsureTerminal_Errors(t *testing.T) {
	allowed := t.TempDir()
	router, _ := newTestRouter(t, func(o *terminal.Options) {
		o.DefaultCwd = allowed
		o.AllowedDirs = []string{allowed}
	})

	tests := []struct {
		name       string
		id         string
		body       any
		wantStatus int
		wantKind   string
	}{
		{"invalid id", "bad$id", EnsureRequest{Provider: "shell"}, http.StatusBadRequest, ""},
		{"bad body", "term-1", "not an object", http.StatusBadRequest, ""},
		{"cli missing", "term-1", EnsureRequest{Provider: "ghost"}, http.StatusUnprocessableEntity, "preflight"},
		{"cwd not allowed", "term-2", EnsureRequest{Provider: "shell", Cwd: "/"}, http.StatusForbidden, "spawn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "PUT", "/terminals/"+tt.id, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, decode(t, w)["kind"])
			}
		})
	}
}

func TestEnsureTerminal_SessionLimit(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	for _, id := range []string{"a", "b"} {
		w := do(t, router, "PUT", "/terminals/"+id, EnsureRequest{Provider: "shell"})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := do(t, router, "PUT", "/terminals/c", EnsureRequest{Provider: "shell"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestInputAndResize(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	// dead session: accepted and dropped
	w := do(t, router, "POST", "/terminals/term-1/input", InputRequest{Data: "ls\n"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, false, decode(t, w)["running"])

	require.Equal(t, http.StatusCreated, do(t, router, "PUT", "/terminals/term-1", EnsureRequest{Provider: "shell"}).Code)

	w = do(t, router, "POST", "/terminals/term-1/input", InputRequest{Data: "true\n"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["running"])

	w = do(t, router, "POST", "/terminals/term-1/resize", ResizeRequest{Cols: 132, Rows: 43})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "GET", "/terminals/term-1", nil)
	body := decode(t, w)
	assert.EqualValues(t, 132, body["cols"])
	assert.EqualValues(t, 43, body["rows"])

	w = do(t, router, "POST", "/terminals/term-1/resize", ResizeRequest{Cols: 0, Rows: 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/terminals/term-1/input", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKillTerminal(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(t, router, "DELETE", "/terminals/term-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["killed"])

	require.Equal(t, http.StatusCreated, do(t, router, "PUT", "/terminals/term-2", EnsureRequest{Provider: "shell"}).Code)

	w = do(t, router, "DELETE", "/terminals/term-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["killed"])

	w = do(t, router, "GET", "/terminals/term-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTerminals(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	require.Equal(t, http.StatusCreated, do(t, router, "PUT", "/terminals/term-2", EnsureRequest{Provider: "shell"}).Code)

	w := do(t, router, "GET", "/terminals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)

	terminals := body["terminals"].([]any)
	require.Len(t, terminals, 1)
	assert.Equal(t, "term-2", terminals[0].(map[string]any)["id"])

	slots := body["slots"].([]any)
	require.Len(t, slots, 2)
	assert.Equal(t, "uninitialized", slots[0].(map[string]any)["state"])
	assert.Equal(t, "running", slots[1].(map[string]any)["state"])
}
