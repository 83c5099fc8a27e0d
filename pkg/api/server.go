// Package api provides the admin HTTP endpoints for health, cache
// introspection and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/campaignmaster/campaignmaster/internal/cache"
	"github.com/campaignmaster/campaignmaster/internal/circuit"
	"github.com/campaignmaster/campaignmaster/internal/metrics"
	"github.com/campaignmaster/campaignmaster/pkg/health"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// Version is reported by /info.
var Version = "dev"

// CacheAdmin is the cache surface exposed by the admin endpoints.
// *cache.Manager satisfies it.
type CacheAdmin interface {
	Stats() cache.Stats
	Keys() []string
	Tags() []string
	InvalidateByTag(tag string) int
	InvalidateByPattern(pattern string) int
	InvalidateByVersion(version string) int
	Sweep() cache.SweepResult
	Clear()
}

// BreakerView exposes the state of a circuit breaker. *circuit.Breaker
// satisfies it.
type BreakerView interface {
	Snapshot() circuit.Snapshot
}

// Server provides the admin HTTP API
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	config     ServerConfig
	cache      CacheAdmin
	breakers   []BreakerView
	health     *health.Tracker
	metrics    *metrics.Collector
	logger     *utils.StructuredLogger
	started    time.Time
}

// ServerConfig configures the admin server
type ServerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Address to bind the server to (e.g., ":8080")
	Address string `yaml:"address" json:"address"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// CORSOrigins lists allowed origins; "*" allows any. Empty disables CORS.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:         true,
		Address:         ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"*"},
	}
}

// Option configures a Server.
type Option func(*Server)

// WithCache exposes a cache through the /cache endpoints.
func WithCache(c CacheAdmin) Option {
	return func(s *Server) { s.cache = c }
}

// WithBreaker reports a circuit breaker in /health.
func WithBreaker(b BreakerView) Option {
	return func(s *Server) {
		if b != nil {
			s.breakers = append(s.breakers, b)
		}
	}
}

// WithHealth derives /health and /health/ready from tracker.
func WithHealth(tracker *health.Tracker) Option {
	return func(s *Server) { s.health = tracker }
}

// WithMetrics serves the collector at its configured path and at
// /debug/operations.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLogger sets the request logger.
func WithLogger(l *utils.StructuredLogger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new admin server
func NewServer(config ServerConfig, opts ...Option) *Server {
	s := &Server{
		config:  config,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrDefault(s.logger).WithComponent("api")

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Cache endpoints
	mux.HandleFunc("/cache", s.handleCache)
	mux.HandleFunc("/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/cache/keys", s.handleCacheKeys)
	mux.HandleFunc("/cache/tags", s.handleCacheTags)
	mux.HandleFunc("/cache/invalidate", s.handleCacheInvalidate)
	mux.HandleFunc("/cache/sweep", s.handleCacheSweep)

	if s.metrics.Enabled() {
		mux.Handle(s.metrics.Path(), s.metrics.Handler())
		mux.Handle("/debug/operations", s.metrics.OperationsHandler())
	}

	mux.HandleFunc("/info", s.handleInfo)

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	if len(config.CORSOrigins) > 0 {
		handler = s.corsMiddleware(handler)
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting admin server", map[string]interface{}{"address": s.config.Address})
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server error", map[string]interface{}{"error": err})
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

// overallState combines the tracker with breaker states; an open breaker
// counts as degraded when no tracker is configured.
func (s *Server) overallState() (health.State, []circuit.Snapshot) {
	state := health.StateHealthy
	if s.health != nil {
		state = s.health.GetOverallHealth()
	}

	breakers := make([]circuit.Snapshot, 0, len(s.breakers))
	for _, b := range s.breakers {
		snap := b.Snapshot()
		breakers = append(breakers, snap)
		if snap.State != circuit.StateClosed && state == health.StateHealthy {
			state = health.StateDegraded
		}
	}
	return state, breakers
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	state, breakers := s.overallState()

	response := map[string]interface{}{
		"status":    state.String(),
		"timestamp": time.Now(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"breakers":  breakers,
	}
	if s.health != nil {
		response["components"] = len(s.health.GetAllComponents())
	}
	if s.cache != nil {
		response["cache"] = s.cache.Stats()
	}

	statusCode := http.StatusOK
	switch state {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	if s.health == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Health tracking not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.health.GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	// Readiness probe: the cache is wired and no component is down.
	state, _ := s.overallState()
	ready := s.cache != nil && state != health.StateUnavailable
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    state.String(),
		"timestamp": time.Now(),
	})
}

// Cache endpoint handlers

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodDelete) || !s.requireCache(w) {
		return
	}

	removed := s.cache.Stats().TotalEntries
	s.cache.Clear()
	s.logger.Info("Cache cleared via admin API", map[string]interface{}{"removed": removed})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleared":   true,
		"removed":   removed,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.requireCache(w) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.requireCache(w) {
		return
	}

	keys := s.cache.Keys()
	if contains := r.URL.Query().Get("contains"); contains != "" {
		filtered := keys[:0]
		for _, k := range keys {
			if strings.Contains(k, contains) {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

func (s *Server) handleCacheTags(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.requireCache(w) {
		return
	}

	tags := s.cache.Tags()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tags":  tags,
		"count": len(tags),
	})
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) || !s.requireCache(w) {
		return
	}

	query := r.URL.Query()
	var by, value string
	for _, name := range []string{"tag", "pattern", "version"} {
		if v := query.Get(name); v != "" {
			if by != "" {
				s.respondError(w, http.StatusBadRequest, "Specify exactly one of tag, pattern or version")
				return
			}
			by, value = name, v
		}
	}

	var removed int
	switch by {
	case "tag":
		removed = s.cache.InvalidateByTag(value)
	case "pattern":
		removed = s.cache.InvalidateByPattern(value)
	case "version":
		removed = s.cache.InvalidateByVersion(value)
	default:
		s.respondError(w, http.StatusBadRequest, "Specify exactly one of tag, pattern or version")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"by":      by,
		"value":   value,
		"removed": removed,
	})
}

func (s *Server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) || !s.requireCache(w) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.cache.Sweep())
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	endpoints := []string{
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"/cache",
		"/cache/stats",
		"/cache/keys",
		"/cache/tags",
		"/cache/invalidate",
		"/cache/sweep",
		"/info",
	}
	if s.metrics.Enabled() {
		endpoints = append(endpoints, s.metrics.Path(), "/debug/operations")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "CampaignMaster",
		"version":   Version,
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Middleware

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("Admin request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(s.config.CORSOrigins))
	for _, origin := range s.config.CORSOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) requireCache(w http.ResponseWriter) bool {
	if s.cache == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Cache not configured")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", map[string]interface{}{"error": err})
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
