package health

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// Checker is a dependency that can report its health
type Checker interface {
	Health(ctx context.Context) error
}

// CheckFunc adapts a function into a Checker
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Health(ctx context.Context) error { return f(ctx) }

// Server provides health check HTTP endpoints for probes
type Server struct {
	server    *http.Server
	engine    *gin.Engine
	checks    map[string]Checker
	startTime time.Time
	timeout   time.Duration
	ready     bool
	readyMu   sync.RWMutex
}

// HealthStatus represents system health
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ReadinessStatus represents system readiness
type ReadinessStatus struct {
	Ready     bool              `json:"ready"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// NewServer creates new health check server. checks maps a dependency name
// (database, redis, clickhouse) to its checker.
func NewServer(port string, checks map[string]Checker) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		checks:    checks,
		startTime: time.Now(),
		timeout:   3 * time.Second,
		server: &http.Server{
			Addr:         ":" + port,
			Handler:      engine,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/ready", s.handleReadiness)
	engine.GET("/readyz", s.handleReadiness)

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called
func (s *Server) Start() error {
	logger.Info("health check server starting", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("stopping health check server...")
	return s.server.Shutdown(ctx)
}

// SetReady marks the service as ready
func (s *Server) SetReady(ready bool) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	s.ready = ready

	if ready {
		logger.Info("service marked as ready")
	} else {
		logger.Warn("service marked as not ready")
	}
}

// handleHealth is the liveness probe: 200 while the process is alive, even
// if dependencies are down. ?verbose=true adds dependency checks.
func (s *Server) handleHealth(c *gin.Context) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	if c.Query("verbose") == "true" {
		status.Checks, _ = s.runChecks(c.Request.Context())
	}
	c.JSON(http.StatusOK, status)
}

// handleReadiness returns 200 only after startup and with healthy dependencies
func (s *Server) handleReadiness(c *gin.Context) {
	s.readyMu.RLock()
	ready := s.ready
	s.readyMu.RUnlock()

	checks, allHealthy := s.runChecks(c.Request.Context())
	status := ReadinessStatus{
		Ready:     ready && allHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) runChecks(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		if err := s.checks[name].Health(ctx); err != nil {
			out[name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		out[name] = "healthy"
	}
	return out, allHealthy
}
