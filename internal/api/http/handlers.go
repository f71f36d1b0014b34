package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/squadron/backend/internal/api/middleware"
	"github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/monitoring"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	terminals *terminal.Manager
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	startedAt time.Time
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(terminals *terminal.Manager, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handlers{
		terminals: terminals,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/providers", h.ListProviders)
	r.GET("/providers/:id", h.GetProvider)
	r.POST("/providers/:id/preflight", h.PreflightProvider)

	r.GET("/terminals", h.ListTerminals)
	r.GET("/terminals/:id", h.GetTerminal)
	r.PUT("/terminals/:id", h.EnsureTerminal)
	r.POST("/terminals/:id/input", h.WriteTerminal)
	r.POST("/terminals/:id/resize", h.ResizeTerminal)
	r.DELETE("/terminals/:id", h.KillTerminal)
}

// Root handles the bare service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Squadron Terminal Service (Go)",
		"version": "1.0.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"terminals": h.terminals.Stats(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// ListProviders lists the provider table
func (h *Handlers) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": h.terminals.Registry().List(),
	})
}

// GetProvider returns one provider
func (h *Handlers) GetProvider(c *gin.Context) {
	provider, ok := h.terminals.Registry().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	c.JSON(http.StatusOK, provider)
}

// PreflightProvider checks the provider CLI and installs it when missing.
// Blocks for the duration of the install.
func (h *Handlers) PreflightProvider(c *gin.Context) {
	providerID := c.Param("id")
	if _, ok := h.terminals.Registry().Get(providerID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	var progress []string
	res, err := h.terminals.Preflight(c.Request.Context(), providerID, func(line string) {
		progress = append(progress, line)
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":  providerID,
		"preflight": res,
		"progress":  progress,
	})
}

// ListTerminals lists live sessions and the grid slots
func (h *Handlers) ListTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"terminals": h.terminals.List(),
		"slots":     h.terminals.Slots(),
		"stats":     h.terminals.Stats(),
	})
}

// GetTerminal returns one session
func (h *Handlers) GetTerminal(c *gin.Context) {
	id, ok := terminalID(c)
	if !ok {
		return
	}

	info, found := h.terminals.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "terminal not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, info)
}

// EnsureTerminal makes the session run the requested provider and model
func (h *Handlers) EnsureTerminal(c *gin.Context) {
	id, ok := terminalID(c)
	if !ok {
		return
	}

	var req EnsureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.terminals.EnsureRunning(c.Request.Context(), id, req.Config())
	if err != nil {
		h.logger.Session(id).Info("Ensure failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
		status, body := ensureError(err)
		c.JSON(status, body)
		return
	}

	status := http.StatusOK
	if res.Spawned {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// WriteTerminal sends input to the session. Input to a session that is not
// running is dropped.
func (h *Handlers) WriteTerminal(c *gin.Context) {
	id, ok := terminalID(c)
	if !ok {
		return
	}

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.terminals.Write(id, []byte(req.Data))
	c.JSON(http.StatusAccepted, gin.H{
		"id":      id,
		"running": running(h.terminals, id),
	})
}

// ResizeTerminal changes the session's terminal dimensions
func (h *Handlers) ResizeTerminal(c *gin.Context) {
	id, ok := terminalID(c)
	if !ok {
		return
	}

	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.terminals.Resize(id, req.Cols, req.Rows)
	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"running": running(h.terminals, id),
	})
}

// KillTerminal terminates the session
func (h *Handlers) KillTerminal(c *gin.Context) {
	id, ok := terminalID(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"killed": h.terminals.Kill(id),
	})
}

func terminalID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := terminal.ValidateID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id, true
}

func running(m *terminal.Manager, id string) bool {
	info, ok := m.Get(id)
	return ok && info.State == terminal.StateRunning
}

// ensureError maps an EnsureRunning error to a status and body
func ensureError(err error) (int, gin.H) {
	var spawnErr *terminal.SpawnError
	switch {
	case errors.As(err, &spawnErr):
		body := gin.H{
			"error": spawnErr.Error(),
			"kind":  spawnErr.Kind,
		}
		if spawnErr.InstallOutput != "" {
			body["install_output"] = spawnErr.InstallOutput
		}
		if errors.Is(err, terminal.ErrCwdNotAllowed) {
			return http.StatusForbidden, body
		}
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, terminal.ErrInvalidID):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, terminal.ErrCwdNotAllowed):
		return http.StatusForbidden, gin.H{"error": err.Error()}
	case errors.Is(err, terminal.ErrTooManySessions):
		return http.StatusTooManyRequests, gin.H{"error": err.Error()}
	case errors.Is(err, terminal.ErrShuttingDown):
		return http.StatusServiceUnavailable, gin.H{"error": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}
}
