// Package client provides the Jira HTTP client with rate limiting,
// caching, and error handling. It is the transport used by package search.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/jira-search-client/pkg/cache"
	"github.com/Sternrassler/jira-search-client/pkg/ratelimit"
	"github.com/Sternrassler/jira-search-client/pkg/search"
)

// Prometheus metrics for Jira client operations.
var (
	jiraRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_requests_total",
		Help: "Total Jira requests by endpoint and status",
	}, []string{"endpoint", "status"})

	jiraRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jira_request_duration_seconds",
		Help:    "Jira request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	jiraErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_errors_total",
		Help: "Total Jira errors by class",
	}, []string{"class"})
)

// HeaderRequestID carries the correlation ID of each outgoing request.
const HeaderRequestID = "X-Request-Id"

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// classifyStatus maps an HTTP status to its error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classifyError maps an attempt error to its class.
func classifyError(err error) ErrorClass {
	var jiraErr *JiraError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &jiraErr):
		return jiraErr.ErrorClass
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ""
	default:
		return ErrorClassNetwork
	}
}

// Client is the Jira HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	limiter    *ratelimit.Limiter
	tracker    *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the Jira root, including any context path.
	BaseURL string

	Credentials Credentials

	// Redis backs the response cache and the shared rate limit state.
	// Both are disabled when nil.
	Redis *redis.Client

	UserAgent string
	Timeout   time.Duration

	// Rate Limiting
	RateLimit float64 // Requests per second, <= 0 disables the local limiter
	RateBurst int

	// Caching
	CacheEnabled bool
	CacheTTL     time.Duration // Used when responses carry no freshness headers

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Credentials:    Anonymous(),
		UserAgent:      "jira-search-client/1.0",
		Timeout:        30 * time.Second,
		RateLimit:      10,
		RateBurst:      20,
		CacheEnabled:   true,
		CacheTTL:       cache.DefaultTTL,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
	}
}

// New creates a new Jira client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("base url scheme must be http or https (got %q)", baseURL.Scheme)
	}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("base url host is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.Credentials.Kind == "" {
		cfg.Credentials = Anonymous()
	}

	logger := log.With().Str("component", "jira-client").Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "jira-client").Logger()
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		limiter: ratelimit.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		config:  cfg,
		logger:  logger,
	}

	if cfg.Redis != nil {
		c.tracker = ratelimit.NewTracker(cfg.Redis, logger)
		if cfg.CacheEnabled {
			c.cache = cache.NewManager(cfg.Redis)
		}
	}

	logger.Debug().
		Str("base_url", baseURL.String()).
		Str("auth", cfg.Credentials.String()).
		Bool("cache", c.cache != nil).
		Bool("shared_rate_limit", c.tracker != nil).
		Msg("Jira client created")

	return c, nil
}

// BaseURL returns the configured Jira root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// retryConfig converts the client settings to a retry schedule.
func (c *Client) retryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = c.config.MaxRetries + 1
	cfg.InitialBackoff = c.config.InitialBackoff
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

// Do performs an HTTP request with rate limiting, caching, and error handling.
// Responses with status >= 400 are returned as *JiraError with the body consumed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		jiraRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(HeaderRequestID, requestID)
	}
	logger := c.logger.With().Str("request_id", requestID).Str("endpoint", endpoint).Logger()

	c.config.Credentials.Apply(req)
	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	// Step 1: Check Cache
	cacheable := c.cache != nil && req.Method == http.MethodGet
	cacheKey := cache.CacheKey{
		Endpoint:    endpoint,
		QueryParams: req.URL.Query(),
		Principal:   c.config.Credentials.Fingerprint(),
	}

	var cachedEntry *cache.CacheEntry
	if cacheable {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Cache get error")
		}
		if entry != nil && !entry.IsExpired() {
			logger.Debug().Dur("ttl", entry.TTL()).Msg("Serving fresh cache entry")
			jiraRequestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
			return cache.EntryToResponse(entry, req), nil
		}

		// Step 2: Make Conditional Request for a stale entry
		if entry != nil && cache.ShouldMakeConditionalRequest(entry) {
			cachedEntry = entry
			cache.AddConditionalHeaders(req, entry)
			cache.ConditionalRequestsSent.Inc()
			logger.Debug().
				Str("etag", entry.ETag).
				Msg("Making conditional request")
		}
	}

	// Step 3: Check Rate Limit
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("rate limit check: %w", err)
			}
			// Redis trouble must not take searches down with it.
			logger.Warn().Err(err).Msg("Rate limit check failed, continuing")
		} else if !allowed {
			logger.Warn().Msg("Request blocked by rate limiter")
			jiraRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return nil, fmt.Errorf("request blocked: %w", ErrRateLimited)
		}
	}

	// Step 4: Execute HTTP Request with Retry Logic
	logger.Debug().
		Str("method", req.Method).
		Msg("Executing Jira request")

	var resp *http.Response
	retryErr := retryWithBackoff(ctx, logger, c.retryConfig(), func() error {
		attemptReq, err := replayable(req)
		if err != nil {
			return err
		}

		r, reqErr := c.httpClient.Do(attemptReq)
		if reqErr != nil {
			logger.Error().Err(reqErr).Msg("HTTP request failed")
			jiraErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			jiraRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		if c.tracker != nil {
			if err := c.tracker.UpdateFromHeaders(ctx, r.Header); err != nil {
				logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		jiraRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()

		if r.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
			r.Body.Close()

			jiraErr := newJiraError(r, body)
			jiraErrorsTotal.WithLabelValues(string(jiraErr.ErrorClass)).Inc()
			logger.Warn().
				Int("status", r.StatusCode).
				Str("error_class", string(jiraErr.ErrorClass)).
				Msg("Jira request error")
			return jiraErr
		}

		resp = r
		return nil
	}, classifyError)

	if retryErr != nil {
		return nil, retryErr
	}

	// Step 5: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		logger.Debug().Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()

		refreshed, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		resp.Body.Close()
		if err == nil {
			cachedEntry.Expires = refreshed.Expires
			if err := c.cache.UpdateTTL(ctx, cacheKey, refreshed.Expires); err != nil {
				logger.Warn().Err(err).Msg("Failed to update cache TTL")
			}
		}

		return cache.EntryToResponse(cachedEntry, req), nil
	}

	// Step 6: Update Cache on success
	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			logger.Debug().
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// replayable returns a copy of req whose body can be sent again.
func replayable(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

// Send performs one search round trip and returns the response body.
// It implements search.Transport.
func (c *Client) Send(ctx context.Context, sr search.Request) ([]byte, error) {
	method := sr.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(sr.Body) > 0 {
		body = bytes.NewReader(sr.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, sr.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, values := range sr.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if len(sr.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// SendAsync starts Send on its own goroutine. It implements search.AsyncTransport.
func (c *Client) SendAsync(ctx context.Context, sr search.Request) <-chan search.Response {
	ch := make(chan search.Response, 1)
	go func() {
		defer close(ch)
		body, err := c.Send(ctx, sr)
		ch <- search.Response{Body: body, Err: err}
	}()
	return ch
}

// Get performs a GET request to a path below the base URL.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// SearchConfig returns a search configuration that pages through this client.
// Cooperative waiting is used so that cancelled searches release the caller
// without waiting for the round trip.
func (c *Client) SearchConfig(version search.Version) search.Config {
	return search.Config{
		BaseURL: c.BaseURL(),
		Version: version,
		Awaiter: search.Cooperative(c),
		Logger:  c.config.Logger,
	}
}

// ClearCache removes all cached responses and returns how many were removed.
func (c *Client) ClearCache(ctx context.Context) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	return c.cache.Clear(ctx)
}

// RateLimitState reports the shared rate limit state, or nil without Redis.
func (c *Client) RateLimitState(ctx context.Context) (*ratelimit.RateLimitState, error) {
	if c.tracker == nil {
		return nil, nil
	}
	return c.tracker.GetState(ctx)
}

// Close releases idle connections. The Redis client is owned by the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, or nil when caching is off.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
