package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetricsWith(reg), reg
}

func TestRecordExit(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordExit("shell", 0, "")
	m.RecordExit("shell", 2, "")
	m.RecordExit("shell", -1, "hangup")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exits.WithLabelValues("shell", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exits.WithLabelValues("shell", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exits.WithLabelValues("shell", "signaled")))
}

func TestRecordInstall(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordInstall("anthropic", true, false)
	m.RecordInstall("anthropic", false, false)
	m.RecordInstall("anthropic", false, true)

	for _, outcome := range []string{"success", "failure", "timeout"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Installs.WithLabelValues("anthropic", outcome)), outcome)
	}
}

func TestRecordSpawn(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordSpawn("shell", "running", 20*time.Millisecond)
	m.RecordSpawn("acme", "preflight", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Spawns.WithLabelValues("shell", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Spawns.WithLabelValues("acme", "preflight")))

	// failed spawns do not observe a duration
	count, err := testutil.GatherAndCount(reg, "squadron_terminal_spawn_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSnapshot(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetSessionsActive(3)
	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordHTTPRequest("GET", "/health", "200", 100*time.Millisecond, 0, 10)
	m.RecordHTTPRequest("PUT", "/terminals/:id", "422", 300*time.Millisecond, 10, 10)

	snap := m.Snapshot()
	assert.EqualValues(t, 3, snap.ActiveSessions)
	assert.EqualValues(t, 1, snap.ActiveConnections)
	assert.EqualValues(t, 2, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.TotalErrors)
	assert.InDelta(t, 200.0, snap.AverageLatencyMs(), 0.001)

	assert.Equal(t, 0.0, MetricsSnapshot{}.AverageLatencyMs())
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := newTestMetrics(t)

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/terminals/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"term-1", "term-2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/terminals/"+id, nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/terminals/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandler(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.AddTerminalBytes("out", 42)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `squadron_terminal_bytes_total{direction="out"} 42`)
}

func TestNewMetricsWith_IsolatedRegistries(t *testing.T) {
	// constructing twice on fresh registries must not panic on duplicate registration
	assert.NotPanics(t, func() {
		newTestMetrics(t)
		newTestMetrics(t)
	})
}
