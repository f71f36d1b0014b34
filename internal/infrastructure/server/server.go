package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/squadron/backend/internal/api/http"
	"github.com/GriffinCanCode/squadron/backend/internal/api/middleware"
	"github.com/GriffinCanCode/squadron/backend/internal/api/ws"
	"github.com/GriffinCanCode/squadron/backend/internal/credentials"
	"github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/monitoring"
)

// shutdownTimeout bounds HTTP drain plus terminal teardown
const shutdownTimeout = 15 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router    *gin.Engine
	http      *http.Server
	terminals *terminal.Manager
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
	registry  *prometheus.Registry
	stop      chan struct{}
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing Squadron terminal server",
		zap.String("port", cfg.Server.Port),
		zap.Int("max_sessions", cfg.Terminal.MaxSessions),
		zap.Int("slots", cfg.Terminal.Slots),
	)

	// Metrics first, the manager reports into them
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetricsWith(registry)

	terminals, err := NewTerminalManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	terminals.WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(terminals, metrics, logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(terminals, metrics, logger)
	router.GET("/terminals/:id/stream", wsHandler.HandleStream)

	router.GET("/metrics", gin.WrapH(monitoring.Handler(registry)))
	router.GET("/metrics/json", func(c *gin.Context) {
		snap := metrics.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"metrics":        snap,
			"avg_latency_ms": snap.AverageLatencyMs(),
			"uptime":         metrics.UptimeDuration().Round(time.Second).String(),
		})
	})

	logger.Info("Server initialized successfully")

	return &Server{
		router:    router,
		terminals: terminals,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
		registry:  registry,
		stop:      make(chan struct{}),
	}, nil
}

// NewTerminalManager builds the session manager described by cfg
func NewTerminalManager(cfg *config.Config, logger *logging.Logger) (*terminal.Manager, error) {
	providers, err := terminal.LoadRegistry(cfg.Providers.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers: %w", err)
	}

	creds := credentials.Chain{credentials.NewEnvStore()}
	if cfg.Credentials.URL != "" {
		creds = append(creds, credentials.NewRemoteStore(credentials.RemoteConfig{
			BaseURL: cfg.Credentials.URL,
			Token:   cfg.Credentials.Token,
			Timeout: cfg.Credentials.Timeout,
			Retries: cfg.Credentials.Retries,
		}, logger.Logger))
		logger.Info("Remote credential store enabled", zap.String("url", cfg.Credentials.URL))
	}

	return terminal.NewManager(terminal.Options{
		Registry:     providers,
		Preflight:    terminal.NewPreflight(logger.Logger, cfg.Terminal.InstallTimeout),
		Resolver:     terminal.NewResolver(cfg.Terminal.DefaultShell),
		Credentials:  creds,
		Logger:       logger,
		Cols:         cfg.Terminal.Cols,
		Rows:         cfg.Terminal.Rows,
		MaxSessions:  cfg.Terminal.MaxSessions,
		KillGrace:    cfg.Terminal.KillGrace,
		BacklogBytes: cfg.Terminal.BacklogBytes,
		DefaultCwd:   cfg.Terminal.DefaultCwd,
		AllowedDirs:  cfg.Terminal.AllowedDirs,
		Slots:        cfg.Terminal.SlotIDs(),
	}), nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Terminals returns the session manager
func (s *Server) Terminals() *terminal.Manager {
	return s.terminals
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.metrics.Run(s.stop)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			_ = s.Close()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Close()
	}
}

// Close stops accepting requests, kills every terminal and flushes logs
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	select {
	case <-s.stop:
	default:
		close(s.stop)
	}

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.terminals.Shutdown(ctx); err != nil {
		s.logger.Error("Terminal shutdown failed", zap.Error(err))
		errs = append(errs, err)
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
