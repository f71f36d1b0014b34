package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/squadron/backend/internal/shared/id"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs origins
	},
}

// Handler manages terminal stream connections
type Handler struct {
	terminals *terminal.Manager
	metrics   *monitoring.Metrics
	logger    *logging.Logger
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(terminals *terminal.Manager, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{terminals: terminals, metrics: metrics, logger: logger}
}

// HandleStream upgrades the request and streams session :id until either
// side closes
func (h *Handler) HandleStream(c *gin.Context) {
	sessionID := c.Param("id")
	if err := terminal.ValidateID(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		id:        id.NewConnectionID(),
		sessionID: sessionID,
		ws:        ws,
		handler:   h,
		ctx:       ctx,
		cancel:    cancel,
	}
	conn.logger = h.logger.Connection(conn.id.String()).Session(sessionID)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	conn.logger.Info("Stream connected")
	conn.subscribe()

	if provider := c.Query("provider"); provider != "" {
		msg := ControlMessage{
			Type:     TypeEnsure,
			Provider: provider,
			Model:    c.Query("model"),
			Cwd:      c.Query("cwd"),
		}
		msg.Cols, _ = strconv.Atoi(c.Query("cols"))
		msg.Rows, _ = strconv.Atoi(c.Query("rows"))
		conn.ensure(msg)
	}

	go conn.keepalive()
	conn.readLoop()

	conn.close()
	conn.logger.Info("Stream disconnected")
}

// connection is one socket bound to one session
type connection struct {
	id        id.ConnectionID
	sessionID string
	ws        *websocket.Conn
	handler   *Handler
	logger    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // gorilla allows one concurrent writer

	subMu       sync.Mutex
	unsubscribe func()
	closed      bool
	ensures     sync.WaitGroup
}

// subscribe makes this socket the session's subscriber. It is called again
// after every exit: a kill releases the subscriber, and the next ensure on
// this socket must still reach it.
func (c *connection) subscribe() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.unsubscribe = c.handler.terminals.Subscribe(c.sessionID, c.onData, c.onExit)
}

func (c *connection) onData(p []byte) {
	if err := c.write(websocket.BinaryMessage, p); err != nil {
		c.cancel()
	}
}

func (c *connection) onExit(status terminal.ExitStatus) {
	c.send(exitEvent(c.sessionID, status))
	c.subscribe()
}

func (c *connection) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.BinaryMessage:
			c.record("in", TypeInput)
			c.handler.terminals.Write(c.sessionID, data)
		case websocket.TextMessage:
			var msg ControlMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				c.sendError("malformed control message", "")
				continue
			}
			c.record("in", msg.Type)
			c.dispatch(msg)
		}
	}
}

func (c *connection) dispatch(msg ControlMessage) {
	switch msg.Type {
	case TypeInput:
		c.handler.terminals.Write(c.sessionID, []byte(msg.Data))
	case TypeResize:
		c.handler.terminals.Resize(c.sessionID, msg.Cols, msg.Rows)
	case TypeEnsure:
		c.ensure(msg)
	case TypeKill:
		c.handler.terminals.Kill(c.sessionID)
	case TypePing:
		c.send(Event{Type: TypePong, SessionID: c.sessionID})
	default:
		c.sendError("unknown message type", "")
	}
}

// ensure runs EnsureRunning off the read loop; an install can take minutes
// and input, resize and kill must keep flowing meanwhile
func (c *connection) ensure(msg ControlMessage) {
	c.ensures.Add(1)
	go func() {
		defer c.ensures.Done()

		res, err := c.handler.terminals.EnsureRunning(c.ctx, c.sessionID, msg.config())
		if err != nil {
			kind := ""
			var spawnErr *terminal.SpawnError
			if errors.As(err, &spawnErr) {
				kind = string(spawnErr.Kind)
			}
			c.sendError(err.Error(), kind)
			return
		}
		c.send(Event{Type: TypeEnsured, SessionID: c.sessionID, Result: &res})
	}()
}

func (c *connection) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.cancel()
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *connection) send(ev Event) {
	ev.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(ev)
	if err != nil {
		c.logger.Error("Failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := c.write(websocket.TextMessage, data); err == nil {
		c.record("out", ev.Type)
	}
}

func (c *connection) sendError(message, kind string) {
	c.send(Event{Type: TypeError, SessionID: c.sessionID, Error: message, Kind: kind})
}

func (c *connection) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *connection) record(direction, msgType string) {
	if c.handler.metrics != nil {
		c.handler.metrics.RecordWSMessage(direction, msgType)
	}
}

// close releases the subscription. The session itself keeps running; the
// grid reattaches to it on reconnect.
func (c *connection) close() {
	c.cancel()
	c.ensures.Wait()

	c.subMu.Lock()
	c.closed = true
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.subMu.Unlock()

	_ = c.ws.Close()
}
