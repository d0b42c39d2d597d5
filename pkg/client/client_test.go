package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/jira-search-client/internal/testutil"
	"github.com/Sternrassler/jira-search-client/pkg/cache"
	"github.com/Sternrassler/jira-search-client/pkg/issues"
	"github.com/Sternrassler/jira-search-client/pkg/search"
)

// setupTestRedis starts an in-memory Redis for the test.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// newTestClient builds a client against baseURL with fast retries.
func newTestClient(t *testing.T, baseURL string, redisClient *redis.Client) *Client {
	t.Helper()

	logger := zerolog.Nop()
	cfg := DefaultConfig(baseURL)
	cfg.Redis = redisClient
	cfg.RateLimit = 0
	cfg.InitialBackoff = time.Millisecond
	cfg.Logger = &logger

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("https://jira.example.com"),
			expectError: false,
		},
		{
			name:        "valid config with context path",
			config:      DefaultConfig("http://localhost:8080/jira"),
			expectError: false,
		},
		{
			name:        "missing base url",
			config:      DefaultConfig(""),
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "unsupported scheme",
			config:      DefaultConfig("ftp://jira.example.com"),
			expectError: true,
			errorMsg:    "scheme must be http or https",
		},
		{
			name:        "missing host",
			config:      DefaultConfig("https:///rest"),
			expectError: true,
			errorMsg:    "host is required",
		},
		{
			name: "missing user agent",
			config: func() Config {
				cfg := DefaultConfig("https://jira.example.com")
				cfg.UserAgent = ""
				return cfg
			}(),
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "negative retries",
			config: func() Config {
				cfg := DefaultConfig("https://jira.example.com")
				cfg.MaxRetries = -1
				return cfg
			}(),
			expectError: true,
			errorMsg:    "max_retries must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("New() expected error, got nil")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("New() error = %q, want containing %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("New() unexpected error = %v", err)
			}
			if client == nil {
				t.Error("New() returned nil client")
			}
		})
	}
}

func TestNew_WithoutRedis(t *testing.T) {
	c, err := New(DefaultConfig("https://jira.example.com"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.GetCache() != nil {
		t.Error("cache enabled without redis")
	}
	if state, err := c.RateLimitState(context.Background()); state != nil || err != nil {
		t.Errorf("RateLimitState() = %v, %v, want nil without redis", state, err)
	}
	if n, err := c.ClearCache(context.Background()); n != 0 || err != nil {
		t.Errorf("ClearCache() = %d, %v", n, err)
	}
}

func TestClient_LegacySearchThroughSearcher(t *testing.T) {
	mock := testutil.NewMockJiraWithContextPath("/jira")
	defer mock.Close()
	mock.SetIssues("OPS", 120)

	c := newTestClient(t, mock.URL(), nil)
	searcher, err := issues.NewSearcher(c.SearchConfig(search.VersionAuto))
	if err != nil {
		t.Fatalf("NewSearcher() error = %v", err)
	}
	if searcher.Version() != search.VersionLegacy {
		t.Fatalf("Version() = %s, want legacy for a self-hosted host", searcher.Version())
	}

	res, err := searcher.ListWithResult(context.Background(), "project = OPS", search.Options{})
	if err != nil {
		t.Fatalf("ListWithResult() error = %v", err)
	}
	if len(res.Items) != 120 || res.Pages != 3 || res.Total != 120 {
		t.Errorf("items=%d pages=%d total=%d, want 120/3/120", len(res.Items), res.Pages, res.Total)
	}
	if res.Items[0].Key != "OPS-1" || res.Items[119].Key != "OPS-120" {
		t.Errorf("order broken: first=%s last=%s", res.Items[0].Key, res.Items[119].Key)
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("requests = %d, want 3", mock.GetRequestCount())
	}
}

func TestClient_NextSearchThroughSearcher(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 120)

	c := newTestClient(t, mock.URL(), nil)
	searcher, err := issues.NewSearcher(c.SearchConfig(search.VersionNext))
	if err != nil {
		t.Fatalf("NewSearcher() error = %v", err)
	}

	var keys []string
	for issue, err := range searcher.Stream("project = OPS", search.Options{Fields: search.Fields("summary")}).Seq(context.Background()) {
		if err != nil {
			t.Fatalf("stream error = %v", err)
		}
		keys = append(keys, issue.Key)
	}

	if len(keys) != 120 {
		t.Fatalf("streamed %d issues, want 120", len(keys))
	}
	if keys[50] != "OPS-51" {
		t.Errorf("keys[50] = %s, want OPS-51", keys[50])
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("requests = %d, want 3", mock.GetRequestCount())
	}
	for i, q := range mock.GetQueries() {
		if strings.Contains(q, "startAt") {
			t.Errorf("request %d sent startAt under the token protocol: %s", i, q)
		}
	}
}

func TestClient_JQLErrorSurfacesAsTransportError(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.FailNext(testutil.NewJQLErrorResponse("Field 'sprnt' does not exist or you do not have permission to view it."))

	c := newTestClient(t, mock.URL(), nil)
	searcher, err := issues.NewSearcher(c.SearchConfig(search.VersionLegacy))
	if err != nil {
		t.Fatalf("NewSearcher() error = %v", err)
	}

	_, err = searcher.List(context.Background(), "sprnt = 4", search.Options{})
	if !errors.Is(err, search.ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	var jiraErr *JiraError
	if !errors.As(err, &jiraErr) || jiraErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v, want wrapped 400 JiraError", err)
	}
	if !strings.Contains(jiraErr.Error(), "sprnt") {
		t.Errorf("Jira message lost: %v", jiraErr)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (client errors are not retried)", mock.GetRequestCount())
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 3)
	mock.FailNext(testutil.NewServerErrorResponse(), testutil.NewServerErrorResponse())

	c := newTestClient(t, mock.URL(), nil)
	resp, err := c.Get(context.Background(), testutil.LegacySearchPath, url.Values{"jql": {"project = OPS"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "OPS-3") {
		t.Errorf("body = %s", body)
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("requests = %d, want 3", mock.GetRequestCount())
	}
}

func TestClient_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	for i := 0; i < 4; i++ {
		mock.FailNext(testutil.NewServerErrorResponse())
	}

	c := newTestClient(t, mock.URL(), nil)
	_, err := c.Get(context.Background(), testutil.LegacySearchPath, nil)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	// MaxRetries 3 means four attempts.
	if mock.GetRequestCount() != 4 {
		t.Errorf("requests = %d, want 4", mock.GetRequestCount())
	}
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), nil)
	_, err := c.Get(context.Background(), "/rest/api/2/nothing", nil)

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestClient_HonorsRetryAfter(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 1)
	mock.FailNext(testutil.NewRateLimitResponse("1"))

	c := newTestClient(t, mock.URL(), nil)
	start := time.Now()
	resp, err := c.Get(context.Background(), testutil.LegacySearchPath, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("retried after %v, want Retry-After of 1s", elapsed)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.GetRequestCount())
	}
}

func TestClient_SendsHeaders(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 1)

	logger := zerolog.Nop()
	cfg := DefaultConfig(mock.URL())
	cfg.Credentials = Bearer("pat-xyz")
	cfg.UserAgent = "search-tests/0.1"
	cfg.Logger = &logger
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Send(context.Background(), search.Request{URL: mock.URL() + testutil.LegacySearchPath}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	h := mock.GetLastRequestHeader()
	if h.Get("Authorization") != "Bearer pat-xyz" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("User-Agent") != "search-tests/0.1" {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}
	if h.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", h.Get("Accept"))
	}
	if h.Get(HeaderRequestID) == "" {
		t.Error("request id header missing")
	}
}

func TestClient_FreshCacheHitSkipsNetwork(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 2)
	mock.SetMaxAge(60)

	redisClient, _ := setupTestRedis(t)
	c := newTestClient(t, mock.URL(), redisClient)
	ctx := context.Background()
	query := url.Values{"jql": {"project = OPS"}}

	first, err := c.Get(ctx, testutil.LegacySearchPath, query)
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	firstBody := readBody(t, first)

	second, err := c.Get(ctx, testutil.LegacySearchPath, query)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if second.Header.Get(cache.HeaderCache) != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", second.Header.Get(cache.HeaderCache))
	}
	if body := readBody(t, second); body != firstBody {
		t.Errorf("cached body differs")
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestClient_StaleEntryRevalidated(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 2)
	mock.SetMaxAge(0)

	redisClient, _ := setupTestRedis(t)
	c := newTestClient(t, mock.URL(), redisClient)
	ctx := context.Background()
	query := url.Values{"jql": {"project = OPS"}}

	first, err := c.Get(ctx, testutil.LegacySearchPath, query)
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	firstBody := readBody(t, first)

	second, err := c.Get(ctx, testutil.LegacySearchPath, query)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if second.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 rebuilt from cache", second.StatusCode)
	}
	if body := readBody(t, second); body != firstBody {
		t.Errorf("revalidated body differs")
	}
	if mock.GetConditionalCount() != 1 || mock.GetNotModifiedCount() != 1 {
		t.Errorf("conditional=%d notModified=%d, want 1/1", mock.GetConditionalCount(), mock.GetNotModifiedCount())
	}

	// A changed issue set invalidates the ETag.
	mock.SetIssues("OPS", 3)
	third, err := c.Get(ctx, testutil.LegacySearchPath, query)
	if err != nil {
		t.Fatalf("third Get() error = %v", err)
	}
	if body := readBody(t, third); !strings.Contains(body, "OPS-3") {
		t.Errorf("stale body served after change: %s", body)
	}
}

func TestClient_CacheIsolatedPerPrincipal(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 1)
	mock.SetMaxAge(60)

	redisClient, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, creds := range []Credentials{Bearer("alice"), Bearer("bob"), Bearer("alice")} {
		logger := zerolog.Nop()
		cfg := DefaultConfig(mock.URL())
		cfg.Redis = redisClient
		cfg.Credentials = creds
		cfg.Logger = &logger
		c, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		resp, err := c.Get(ctx, testutil.LegacySearchPath, nil)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()
	}

	// alice twice, bob once: only the repeat is served from cache.
	if mock.GetRequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.GetRequestCount())
	}
}

func TestClient_ClearCache(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 1)
	mock.SetMaxAge(60)

	redisClient, _ := setupTestRedis(t)
	c := newTestClient(t, mock.URL(), redisClient)
	ctx := context.Background()

	for _, jql := range []string{"project = A", "project = B"} {
		resp, err := c.Get(ctx, testutil.LegacySearchPath, url.Values{"jql": {jql}})
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()
	}

	n, err := c.ClearCache(ctx)
	if err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearCache() = %d, want 2", n)
	}

	resp, err := c.Get(ctx, testutil.LegacySearchPath, url.Values{"jql": {"project = A"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if mock.GetRequestCount() != 3 {
		t.Errorf("requests = %d, want 3 after clear", mock.GetRequestCount())
	}
}

func TestClient_RateLimitTrackerRefuses(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()

	redisClient, _ := setupTestRedis(t)
	c := newTestClient(t, mock.URL(), redisClient)
	ctx := context.Background()

	if err := c.tracker.UpdateFromHeaders(ctx, http.Header{"Retry-After": {"600"}}); err != nil {
		t.Fatalf("seed tracker: %v", err)
	}

	_, err := c.Get(ctx, testutil.LegacySearchPath, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want none", mock.GetRequestCount())
	}

	state, err := c.RateLimitState(ctx)
	if err != nil {
		t.Fatalf("RateLimitState() error = %v", err)
	}
	if state.Remaining != 0 || !state.NeedsCriticalBlock() {
		t.Errorf("state = %+v, want critical", state)
	}
}

func TestClient_TrackerLearnsFromHeaders(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 1)
	mock.SetRateLimitRemaining("42")

	redisClient, _ := setupTestRedis(t)
	c := newTestClient(t, mock.URL(), redisClient)
	ctx := context.Background()

	resp, err := c.Get(ctx, testutil.LegacySearchPath, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	state, err := c.RateLimitState(ctx)
	if err != nil {
		t.Fatalf("RateLimitState() error = %v", err)
	}
	if state.Remaining != 42 {
		t.Errorf("Remaining = %d, want 42", state.Remaining)
	}
}

func TestClient_PostBodyReplayedOnRetry(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()

	var mu sync.Mutex
	var bodies []string
	mock.SetHandler(testutil.NextSearchPath, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		w.Write([]byte(`{"issues":[],"isLast":true}`))
	})
	mock.FailNext(testutil.NewServerErrorResponse())

	c := newTestClient(t, mock.URL(), nil)
	payload := []byte(`{"jql":"project = OPS"}`)
	_, err := c.Send(context.Background(), search.Request{
		Method: http.MethodPost,
		URL:    mock.URL() + testutil.NextSearchPath,
		Body:   payload,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 || !bytes.Equal([]byte(bodies[0]), payload) {
		t.Errorf("bodies after retry = %q", bodies)
	}
}

func TestClient_SendAsync(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetIssues("OPS", 1)

	c := newTestClient(t, mock.URL(), nil)
	ch := c.SendAsync(context.Background(), search.Request{URL: mock.URL() + testutil.LegacySearchPath})

	resp, ok := <-ch
	if !ok {
		t.Fatal("channel closed without a response")
	}
	if resp.Err != nil || !strings.Contains(string(resp.Body), "OPS-1") {
		t.Errorf("response = %s, %v", resp.Body, resp.Err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel delivered a second response")
	}
}

func TestClient_ContextCancelledDuringRequest(t *testing.T) {
	mock := testutil.NewMockJira()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.MockJiraResponse{StatusCode: http.StatusOK, Body: "{}", Delay: 2 * time.Second})

	c := newTestClient(t, mock.URL(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Get(ctx, "/slow", nil)
	if err == nil {
		t.Fatal("Get() succeeded, want deadline error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not cut the request short")
	}
}
