package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jira_rate_limit_remaining",
		Help: "Requests remaining in the current Jira rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_rate_limit_blocks_total",
		Help: "Total number of requests refused because the budget was exhausted",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_rate_limit_throttles_total",
		Help: "Total number of requests delayed because the budget was low",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_rate_limit_waits_total",
		Help: "Total number of requests that waited for a token or a window reset",
	})
)

// ErrRateLimited is returned when the budget is exhausted and the reset is
// further away than the tracker is willing to wait.
var ErrRateLimited = errors.New("rate limit exhausted")

const (
	// DefaultThrottleDelay is the pause applied in the warning state.
	DefaultThrottleDelay = time.Second

	// DefaultMaxWait is the longest the tracker waits for a window reset.
	DefaultMaxWait = 30 * time.Second
)

// Tracker monitors the Jira request budget and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
	maxWait       time.Duration
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
		maxWait:       DefaultMaxWait,
	}
}

// SetThrottleDelay changes the pause applied in the warning state.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// SetMaxWait changes the longest wait for a window reset.
// Zero refuses immediately instead of waiting.
func (t *Tracker) SetMaxWait(d time.Duration) {
	t.maxWait = d
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	vals, err := t.redis.MGet(ctx, RedisKeyRemaining, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if vals[0] == nil {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return &RateLimitState{
			Remaining:  100,
			ResetAt:    time.Now(),
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	remaining, err := redisInt(vals[0])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetUnix, err := redisInt(vals[1])
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	lastUnix, err := redisInt(vals[2])
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &RateLimitState{
		Remaining:  int(remaining),
		ResetAt:    time.UnixMilli(resetUnix),
		LastUpdate: time.UnixMilli(lastUnix),
	}
	state.UpdateHealth()

	return state, nil
}

func redisInt(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

// UpdateFromHeaders parses Jira rate limit headers and updates Redis state.
// Retry-After (sent with 429 and some 503 responses) zeroes the budget until
// the given interval has passed. Responses without rate limit headers leave
// the state unchanged.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	now := time.Now()
	state := &RateLimitState{LastUpdate: now}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		wait, ok := ParseRetryAfter(retryAfter, now)
		if !ok {
			return fmt.Errorf("parse Retry-After header %q", retryAfter)
		}
		state.Remaining = 0
		state.ResetAt = now.Add(wait)
	} else {
		remainStr := headers.Get("X-RateLimit-Remaining")
		if remainStr == "" {
			return nil
		}

		remain, err := strconv.Atoi(strings.TrimSpace(remainStr))
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
		}
		state.Remaining = remain

		state.ResetAt = now
		if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
			resetAt, ok := parseReset(resetStr, now)
			if !ok {
				return fmt.Errorf("parse X-RateLimit-Reset header %q", resetStr)
			}
			state.ResetAt = resetAt
		}
	}
	state.UpdateHealth()

	ttl := state.TimeUntilReset() + time.Minute
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.UnixMilli(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, state.LastUpdate.UnixMilli(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Jira rate limit CRITICAL - requests will wait or be refused")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Jira rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Jira rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest gates one request on the shared state.
// In the critical state it waits for the reset when that is within the
// configured maximum, and otherwise returns false. In the warning state it
// pauses for the throttle delay. Waits end early if ctx is done.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		wait := state.TimeUntilReset()
		if wait > t.maxWait {
			t.logger.Error().
				Int("remaining", state.Remaining).
				Dur("wait_duration", wait).
				Msg("Jira rate limit exhausted - refusing request")
			rateLimitBlocksTotal.Inc()
			return false, nil
		}

		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Jira rate limit exhausted - waiting for reset")
		rateLimitWaitsTotal.Inc()
		if err := sleep(ctx, wait); err != nil {
			return false, err
		}
		return true, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Jira rate limit low - throttling request")
		rateLimitThrottlesTotal.Inc()
		if err := sleep(ctx, t.throttleDelay); err != nil {
			return false, err
		}
	}

	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter parses a Retry-After value given in seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// parseReset accepts seconds until reset, a Unix timestamp, or an ISO 8601 time.
func parseReset(v string, now time.Time) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n < 0 {
			return time.Time{}, false
		}
		if n > 1_000_000_000 {
			return time.Unix(n, 0), true
		}
		return now.Add(time.Duration(n) * time.Second), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00", "2006-01-02T15:04:05.000Z0700"} {
		if at, err := time.Parse(layout, v); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}
