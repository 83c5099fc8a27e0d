package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records cache, store and HTTP client metrics
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	cacheLookups      *prometheus.CounterVec
	cacheEvictions    *prometheus.CounterVec
	cacheEntries      *prometheus.GaugeVec
	persistCounter    *prometheus.CounterVec
	persistDuration   *prometheus.HistogramVec
	storeOperations   *prometheus.CounterVec
	storeDuration     *prometheus.HistogramVec
	requestCounter    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	circuitStateGauge *prometheus.GaugeVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// DefaultConfig returns an enabled configuration in the campaignmaster namespace.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "campaignmaster",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether observations are recorded.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// Registry returns the private registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.Enabled() {
		return nil
	}
	return c.registry
}

// Path returns the configured exposition path, "/metrics" by default.
func (c *Collector) Path() string {
	if c == nil || c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordLookup counts a cache hit or miss.
func (c *Collector) RecordLookup(cache string, hit bool) {
	if !c.Enabled() {
		return
	}

	c.cacheLookups.With(prometheus.Labels{
		"cache":  cache,
		"result": map[bool]string{true: "hit", false: "miss"}[hit],
	}).Inc()
}

// RecordEviction counts entries removed by a sweep.
func (c *Collector) RecordEviction(cache, reason string, count int) {
	if !c.Enabled() || count <= 0 {
		return
	}

	c.cacheEvictions.With(prometheus.Labels{
		"cache":  cache,
		"reason": reason,
	}).Add(float64(count))
}

// RecordEntries sets the current entry count of a cache.
func (c *Collector) RecordEntries(cache string, count int) {
	if !c.Enabled() {
		return
	}

	c.cacheEntries.With(prometheus.Labels{"cache": cache}).Set(float64(count))
}

// RecordPersist records a snapshot write.
func (c *Collector) RecordPersist(cache string, success bool, duration time.Duration) {
	if !c.Enabled() {
		return
	}

	c.persistCounter.With(prometheus.Labels{
		"cache":  cache,
		"status": statusLabel(success),
	}).Inc()
	c.persistDuration.With(prometheus.Labels{"cache": cache}).Observe(duration.Seconds())
}

// RecordStoreOperation records a durable store load, save or remove.
func (c *Collector) RecordStoreOperation(op string, success bool, duration time.Duration) {
	if !c.Enabled() {
		return
	}

	c.track("store."+op, duration, success)
	c.storeOperations.With(prometheus.Labels{
		"operation": op,
		"status":    statusLabel(success),
	}).Inc()
	c.storeDuration.With(prometheus.Labels{"operation": op}).Observe(duration.Seconds())
}

// RecordRequest records an HTTP client request. status is 0 when no
// response was received; source is "network" or "cache".
func (c *Collector) RecordRequest(method string, status int, source string, duration time.Duration) {
	if !c.Enabled() {
		return
	}

	c.track("http."+method, duration, status >= 200 && status < 300)
	c.requestCounter.With(prometheus.Labels{
		"method": method,
		"status": StatusClass(status),
		"source": source,
	}).Inc()
	if source != "cache" {
		c.requestDuration.With(prometheus.Labels{"method": method}).Observe(duration.Seconds())
	}
}

// RecordCircuitState sets the breaker state gauge (0 closed, 1 open, 2 half-open).
func (c *Collector) RecordCircuitState(name string, state int) {
	if !c.Enabled() {
		return
	}

	c.circuitStateGauge.With(prometheus.Labels{"name": name}).Set(float64(state))
}

// StatusClass maps an HTTP status to its class label.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (c *Collector) track(operation string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
}

// GetMetrics returns a copy of the per-operation summaries.
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	if !c.Enabled() {
		return map[string]OperationMetrics{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return operations
}

// ResetMetrics clears the per-operation summaries.
func (c *Collector) ResetMetrics() {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// OperationsHandler writes the per-operation summaries as a text table.
func (c *Collector) OperationsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operations := c.GetMetrics()

		c.mu.RLock()
		lastReset := c.lastReset
		c.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain")

		writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

		writef("CampaignMaster Operations Summary\n")
		writef("=================================\n\n")
		if !lastReset.IsZero() {
			writef("Since: %v\n\n", lastReset.Format(time.RFC3339))
		}

		if len(operations) == 0 {
			writef("No operations recorded.\n")
			return
		}

		names := make([]string, 0, len(operations))
		for name := range operations {
			names = append(names, name)
		}
		sort.Strings(names)

		writef("%-20s %10s %10s %12s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
		writef("%-20s %10s %10s %12s %10s\n", "---------", "-----", "------", "------------", "-------")
		for _, name := range names {
			op := operations[name]
			writef("%-20s %10d %10d %12v %10s\n",
				name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
		}
	})
}

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	// Cache metrics
	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_lookups_total",
			Help:        "Total number of cache lookups",
			ConstLabels: labels,
		},
		[]string{"cache", "result"},
	)

	c.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_evictions_total",
			Help:        "Total number of entries removed by sweeps",
			ConstLabels: labels,
		},
		[]string{"cache", "reason"},
	)

	c.cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_entries",
			Help:        "Current number of cache entries",
			ConstLabels: labels,
		},
		[]string{"cache"},
	)

	c.persistCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_persist_total",
			Help:        "Total number of cache snapshot writes",
			ConstLabels: labels,
		},
		[]string{"cache", "status"},
	)

	c.persistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_persist_duration_seconds",
			Help:        "Duration of cache snapshot writes in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			ConstLabels: labels,
		},
		[]string{"cache"},
	)

	// Store metrics
	c.storeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "store_operations_total",
			Help:        "Total number of durable store operations",
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "store_operation_duration_seconds",
			Help:        "Duration of durable store operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 15),
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	// HTTP client metrics
	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "http_client_requests_total",
			Help:        "Total number of backend API requests",
			ConstLabels: labels,
		},
		[]string{"method", "status", "source"},
	)

	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "http_client_request_duration_seconds",
			Help:        "Duration of backend API requests in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			ConstLabels: labels,
		},
		[]string{"method"},
	)

	c.circuitStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "circuit_state",
			Help:        "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			ConstLabels: labels,
		},
		[]string{"name"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheLookups,
		c.cacheEvictions,
		c.cacheEntries,
		c.persistCounter,
		c.persistDuration,
		c.storeOperations,
		c.storeDuration,
		c.requestCounter,
		c.requestDuration,
		c.circuitStateGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
