package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health check states, ordered from best to worst.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	Port        int // 0 picks a free port
	MetricsPath string
	HealthPath  string
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:        9090,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// Check is the result of one health check.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker performs one health check.
type HealthChecker func() Check

// ConnectedCheck reports unhealthy while connected returns false.
func ConnectedCheck(connected func() bool) HealthChecker {
	return func() Check {
		if connected() {
			return Check{Status: StatusHealthy}
		}
		return Check{Status: StatusUnhealthy, Message: "venue disconnected"}
	}
}

// StaleCheck reports unhealthy when last is older than maxAge. A zero last
// time means nothing ran yet and counts as healthy.
func StaleCheck(last func() time.Time, maxAge time.Duration) HealthChecker {
	return func() Check {
		t := last()
		if t.IsZero() {
			return Check{Status: StatusHealthy, Message: "no cycle yet"}
		}
		if age := time.Since(t); age > maxAge {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("last cycle %s ago", age.Truncate(time.Second))}
		}
		return Check{Status: StatusHealthy}
	}
}

// HaltedCheck reports degraded while any system is halted. The other systems
// keep trading, so the process stays ready.
func HaltedCheck(halted func() []string) HealthChecker {
	return func() Check {
		systems := halted()
		if len(systems) == 0 {
			return Check{Status: StatusHealthy}
		}
		sort.Strings(systems)
		return Check{Status: StatusDegraded, Message: "halted: " + strings.Join(systems, ",")}
	}
}

func rank(status string) int {
	switch status {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Server serves Prometheus metrics and the health endpoints.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	addr     net.Addr
}

// NewServer creates a new metrics server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger,
		checkers:  make(map[string]HealthChecker),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// RegisterHealthCheck registers a health checker under name.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// Start binds the port and serves in the background. A bind failure is
// returned here rather than logged later.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("starting metrics server",
		"addr", ln.Addr().String(),
		"metrics_path", s.cfg.MetricsPath,
		"health_path", s.cfg.HealthPath,
	)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "err", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

// evaluate runs every check and returns the results with the worst status.
func (s *Server) evaluate() (map[string]Check, string) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for k, v := range s.checkers {
		checkers[k] = v
	}
	s.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	overall := StatusHealthy
	for name, checker := range checkers {
		check := checker()
		checks[name] = check
		if rank(check.Status) > rank(overall) {
			overall = check.Status
			if rank(overall) == 2 {
				overall = StatusUnhealthy
			}
		}
	}
	return checks, overall
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks, overall := s.evaluate()

	status := HealthStatus{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    s.Uptime().String(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// readyHandler answers the readiness probe. Degraded is still ready.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if _, overall := s.evaluate(); overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
