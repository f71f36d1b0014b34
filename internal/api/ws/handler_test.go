//go:build !windows

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/logging"
)

const readTimeout = 5 * time.Second

func newTestServer(t *testing.T) (*httptest.Server, *terminal.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := terminal.NewRegistry([]byte(`
- id: shell
  name: Shell
  executable: shell
`))
	require.NoError(t, err)

	m := terminal.NewManager(terminal.Options{
		Registry:   registry,
		Resolver:   &terminal.Resolver{Platform: terminal.PlatformPOSIX, DefaultShell: "/bin/sh"},
		Logger:     logging.Nop(),
		KillGrace:  time.Second,
		DefaultCwd: t.TempDir(),
	})

	router := gin.New()
	router.GET("/terminals/:id/stream", NewHandler(m, nil, logging.Nop()).HandleStream)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return srv, m
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// stream reads frames from a socket, splitting output from control events
type stream struct {
	t      *testing.T
	conn   *websocket.Conn
	output strings.Builder
}

func (s *stream) sendControl(msg ControlMessage) {
	s.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(s.t, err)
	require.NoError(s.t, s.conn.WriteMessage(websocket.TextMessage, data))
}

// next returns the next control event, accumulating output on the way
func (s *stream) next() map[string]any {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		kind, data, err := s.conn.ReadMessage()
		require.NoError(s.t, err)
		if kind == websocket.BinaryMessage {
			s.output.Write(data)
			continue
		}
		var ev map[string]any
		require.NoError(s.t, json.Unmarshal(data, &ev))
		return ev
	}
}

// expect reads until an event of type typ arrives
func (s *stream) expect(typ string) map[string]any {
	s.t.Helper()
	for {
		ev := s.next()
		if ev["type"] == typ {
			return ev
		}
	}
}

// waitOutput reads output frames until re matches
func (s *stream) waitOutput(re *regexp.Regexp) {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for !re.MatchString(s.output.String()) {
		kind, data, err := s.conn.ReadMessage()
		require.NoError(s.t, err, "output so far: %q", s.output.String())
		if kind == websocket.BinaryMessage {
			s.output.Write(data)
		}
	}
}

var hiLine = regexp.MustCompile(`(?m)(?:^|\s)hi\r?$`)

func TestStream_EnsureInputKill(t *testing.T) {
	srv, m := newTestServer(t)
	s := &stream{t: t, conn: dial(t, srv, "/terminals/term-1/stream")}

	s.sendControl(ControlMessage{Type: TypeEnsure, Provider: "shell"})
	ev := s.expect(TypeEnsured)
	result := ev["result"].(map[string]any)
	assert.Equal(t, true, result["spawned"])

	require.NoError(t, s.conn.WriteMessage(websocket.BinaryMessage, []byte("echo h''i\n")))
	s.waitOutput(hiLine)

	s.sendControl(ControlMessage{Type: TypeKill})
	ev = s.expect(TypeExit)
	assert.EqualValues(t, -1, ev["code"])
	assert.Equal(t, "hangup", ev["signal"])

	_, ok := m.Get("term-1")
	assert.False(t, ok)

	// the socket is still the subscriber for the next process
	s.output.Reset()
	s.sendControl(ControlMessage{Type: TypeEnsure, Provider: "shell"})
	s.expect(TypeEnsured)
	s.sendControl(ControlMessage{Type: TypeInput, Data: "echo h''i\n"})
	s.waitOutput(hiLine)
}

func TestStream_NaturalExit(t *testing.T) {
	srv, _ := newTestServer(t)
	s := &stream{t: t, conn: dial(t, srv, "/terminals/term-2/stream?provider=shell&cols=100&rows=30")}

	ev := s.expect(TypeEnsured)
	session := ev["result"].(map[string]any)["session"].(map[string]any)
	assert.EqualValues(t, 100, session["cols"])
	assert.EqualValues(t, 30, session["rows"])

	s.sendControl(ControlMessage{Type: TypeInput, Data: "exit 7\n"})
	ev = s.expect(TypeExit)
	assert.EqualValues(t, 7, ev["code"])
	assert.Empty(t, ev["signal"])
}

func TestStream_KillAfterExitKeepsStreaming(t *testing.T) {
	srv, _ := newTestServer(t)
	s := &stream{t: t, conn: dial(t, srv, "/terminals/term-5/stream?provider=shell")}
	s.expect(TypeEnsured)

	s.sendControl(ControlMessage{Type: TypeInput, Data: "exit 0\n"})
	s.expect(TypeExit)

	// nothing is running, so this kill must leave the socket subscribed
	s.sendControl(ControlMessage{Type: TypeKill})
	s.sendControl(ControlMessage{Type: TypePing})
	s.expect(TypePong)

	s.output.Reset()
	s.sendControl(ControlMessage{Type: TypeEnsure, Provider: "shell"})
	s.expect(TypeEnsured)
	s.sendControl(ControlMessage{Type: TypeInput, Data: "echo h''i\n"})
	s.waitOutput(hiLine)
}

func TestStream_ControlErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	s := &stream{t: t, conn: dial(t, srv, "/terminals/term-3/stream")}

	s.sendControl(ControlMessage{Type: TypePing})
	assert.Equal(t, "term-3", s.expect(TypePong)["session_id"])

	s.sendControl(ControlMessage{Type: "teleport"})
	assert.Equal(t, "unknown message type", s.expect(TypeError)["error"])

	require.NoError(t, s.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed control message", s.expect(TypeError)["error"])

	// write and resize to a session that never started are dropped
	s.sendControl(ControlMessage{Type: TypeResize, Cols: 10, Rows: 10})
	require.NoError(t, s.conn.WriteMessage(websocket.BinaryMessage, []byte("ls\n")))
	s.sendControl(ControlMessage{Type: TypePing})
	s.expect(TypePong)
	assert.Empty(t, s.output.String())
}

func TestStream_InvalidID(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/terminals/bad$id/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStream_DisconnectKeepsSession(t *testing.T) {
	srv, m := newTestServer(t)
	conn := dial(t, srv, "/terminals/term-4/stream?provider=shell")
	s := &stream{t: t, conn: conn}
	s.expect(TypeEnsured)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return m.Stats().Subscribers == 0
	}, readTimeout, 10*time.Millisecond)

	info, ok := m.Get("term-4")
	require.True(t, ok)
	assert.Equal(t, terminal.StateRunning, info.State)

	// a new socket picks up the same process
	s2 := &stream{t: t, conn: dial(t, srv, "/terminals/term-4/stream")}
	s2.sendControl(ControlMessage{Type: TypeInput, Data: "echo h''i\n"})
	s2.waitOutput(hiLine)

	again, _ := m.Get("term-4")
	assert.Equal(t, info.PID, again.PID)
}
