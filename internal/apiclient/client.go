package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/campaignmaster/campaignmaster/internal/cache"
	"github.com/campaignmaster/campaignmaster/internal/circuit"
	"github.com/campaignmaster/campaignmaster/pkg/retry"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// CacheTag is attached to every response the client caches.
const CacheTag = "api"

// Config configures a Client.
type Config struct {
	BaseURL         string         `yaml:"base_url"`
	Timeout         time.Duration  `yaml:"timeout"`
	CacheTTL        time.Duration  `yaml:"cache_ttl"`
	CacheMaxEntries int            `yaml:"cache_max_entries"`
	Coalesce        bool           `yaml:"coalesce"`
	Retry           retry.Config   `yaml:"retry"`
	CircuitBreaker  circuit.Config `yaml:"circuit_breaker"`
}

// DefaultConfig returns the default client configuration. GETs are not
// retried unless Retry.MaxAttempts is raised.
func DefaultConfig() *Config {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 1

	return &Config{
		BaseURL:         "http://localhost:5000/api",
		Timeout:         10 * time.Second,
		CacheTTL:        5 * time.Minute,
		CacheMaxEntries: 1000,
		Retry:           retryCfg,
	}
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder receives one observation per request. status is 0 when no
// response was received; source is "network" or "cache".
type Recorder interface {
	RecordRequest(method string, status int, source string, duration time.Duration)
}

type circuitRecorder interface {
	RecordCircuitState(name string, state int)
}

type recorders []Recorder

func (rs recorders) RecordRequest(method string, status int, source string, duration time.Duration) {
	for _, r := range rs {
		r.RecordRequest(method, status, source, duration)
	}
}

// Response is the envelope returned for every successful request. JSON
// bodies are kept in Data; other bodies are returned in Text.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Text    string          `json:"text,omitempty"`
}

func (r *Response) clone() *Response {
	out := *r
	if r.Data != nil {
		out.Data = append(json.RawMessage(nil), r.Data...)
	}
	return &out
}

// Client calls the backend API. GET responses are served from a cache
// keyed by the full request URL while they are live.
type Client struct {
	cfg       Config
	http      Doer
	cache     *cache.Manager
	ownsCache bool
	breaker   *circuit.Breaker
	retryer   *retry.Retryer
	group     singleflight.Group
	logger    *utils.StructuredLogger
	recorder  recorders
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithCache stores responses in m instead of a private in-memory cache.
// The client does not close m.
func WithCache(m *cache.Manager) Option {
	return func(c *Client) {
		c.cache = m
	}
}

// WithLogger sets the client logger.
func WithLogger(l *utils.StructuredLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder reports request metrics to r. When r also records cache or
// circuit metrics, the private cache and breaker report to it too.
// Repeated options add recorders.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = append(c.recorder, r)
		}
	}
}

// New creates a Client. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}

	c := &Client{
		cfg:  *cfg,
		http: &http.Client{},
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = def.BaseURL
	}
	c.cfg.BaseURL = strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.Timeout <= 0 {
		c.cfg.Timeout = def.Timeout
	}
	if c.cfg.CacheTTL <= 0 {
		c.cfg.CacheTTL = def.CacheTTL
	}
	if c.cfg.CacheMaxEntries <= 0 {
		c.cfg.CacheMaxEntries = def.CacheMaxEntries
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrDefault(c.logger).WithComponent("apiclient")

	if c.cache == nil {
		cacheOpts := []cache.Option{cache.WithLogger(c.logger)}
		for _, r := range c.recorder {
			if cr, ok := r.(cache.Recorder); ok {
				cacheOpts = append(cacheOpts, cache.WithRecorder(cr))
				break
			}
		}
		c.cache = cache.New(&cache.Config{
			Name:       CacheTag,
			DefaultTTL: c.cfg.CacheTTL,
			MaxEntries: c.cfg.CacheMaxEntries,
		}, cacheOpts...)
		c.ownsCache = true
	}

	breakerCfg := c.cfg.CircuitBreaker
	breakerCfg.IsSuccessful = func(err error) bool { return !isUpstreamFailure(err) }
	onChange := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		c.logger.Warn("Circuit breaker state changed", map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
		for _, r := range c.recorder {
			if cr, ok := r.(circuitRecorder); ok {
				cr.RecordCircuitState(name, int(to))
			}
		}
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	c.breaker = circuit.New("backend", breakerCfg)

	retryCfg := c.cfg.Retry
	retryCfg.ShouldRetry = isRetryable
	c.retryer = retry.New(retryCfg)

	return c
}

// BaseURL returns the URL prefix used for every endpoint.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Breaker returns the circuit breaker guarding the backend.
func (c *Client) Breaker() *circuit.Breaker {
	return c.breaker
}

// Get fetches endpoint, answering from the cache when a live response for
// the same URL is held.
func (c *Client) Get(ctx context.Context, endpoint string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, opts...)
}

// Post sends body as JSON. A nil body sends no payload.
func (c *Client) Post(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, endpoint, body, opts...)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPut, endpoint, body, opts...)
}

// Patch sends body as JSON.
func (c *Client) Patch(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPatch, endpoint, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, endpoint, nil, opts...)
}

// InvalidateCache drops cached responses whose URL contains pattern.
func (c *Client) InvalidateCache(pattern string) int {
	return c.cache.InvalidateByPattern(pattern)
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.InvalidateByTag(CacheTag)
}

// Close releases the private cache. An injected cache is left open.
func (c *Client) Close() error {
	if c.ownsCache {
		return c.cache.Close()
	}
	return nil
}
