// Package testutil provides a mock Jira server for tests.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Search paths served by MockJira, relative to its context path.
const (
	LegacySearchPath = "/rest/api/latest/search"
	NextSearchPath   = "/rest/api/3/search/jql"
)

// MockJiraResponse defines the behavior for a mock endpoint response.
type MockJiraResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockJira is a configurable mock Jira server serving both search
// generations over one in-memory issue set.
type MockJira struct {
	server      *httptest.Server
	contextPath string

	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	issues   []map[string]any
	faults   []MockJiraResponse
	revision int

	maxAge    int
	remaining string

	// Tracking
	RequestCount      int
	ConditionalCount  int
	NotModifiedCount  int
	LastRequestHeader http.Header
	Queries           []string
}

// NewMockJira creates a mock Jira server rooted at "/".
func NewMockJira() *MockJira {
	return NewMockJiraWithContextPath("")
}

// NewMockJiraWithContextPath creates a mock Jira server whose REST API lives
// below contextPath, such as "/jira".
func NewMockJiraWithContextPath(contextPath string) *MockJira {
	mock := &MockJira{
		contextPath: strings.TrimRight(contextPath, "/"),
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.Queries = append(mock.Queries, r.URL.RawQuery)

		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}

		var fault *MockJiraResponse
		if len(mock.faults) > 0 {
			f := mock.faults[0]
			mock.faults = mock.faults[1:]
			fault = &f
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if fault != nil {
			writeResponse(w, *fault)
			return
		}

		if exists {
			handler(w, r)
			return
		}

		switch strings.TrimPrefix(r.URL.Path, mock.contextPath) {
		case LegacySearchPath:
			mock.legacySearch(w, r)
		case NextSearchPath:
			mock.nextSearch(w, r)
		default:
			writeJiraError(w, http.StatusNotFound, "No resource found at "+r.URL.Path)
		}
	}))

	return mock
}

// URL returns the base URL including the context path.
func (m *MockJira) URL() string {
	return m.server.URL + m.contextPath
}

// Close shuts down the mock server.
func (m *MockJira) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockJira) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.NotModifiedCount = 0
	m.LastRequestHeader = nil
	m.Queries = nil
}

// SetIssues replaces the issue set with n issues keyed PROJ-1..PROJ-n.
// Changing the set changes every ETag.
func (m *MockJira) SetIssues(project string, n int) {
	issues := make([]map[string]any, n)
	for i := range issues {
		id := 10000 + i + 1
		issues[i] = map[string]any{
			"id":   strconv.Itoa(id),
			"key":  fmt.Sprintf("%s-%d", project, i+1),
			"self": fmt.Sprintf("%s/rest/api/2/issue/%d", m.URL(), id),
			"fields": map[string]any{
				"summary":  fmt.Sprintf("Issue %d", i+1),
				"status":   map[string]any{"name": "Open"},
				"assignee": map[string]any{"displayName": "Dana Example", "name": "dana"},
				"created":  "2024-03-01T09:30:00.000+0000",
				"updated":  "2024-03-02T10:00:00.000+0000",
				"priority": map[string]any{"name": "Major"},
			},
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = issues
	m.revision++
}

// FailNext makes the next len(responses) requests return the given responses
// in order, regardless of path.
func (m *MockJira) FailNext(responses ...MockJiraResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, responses...)
}

// SetMaxAge sets the Cache-Control max-age sent on search responses.
func (m *MockJira) SetMaxAge(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAge = seconds
}

// SetRateLimitRemaining makes search responses carry X-RateLimit-Remaining.
// Empty omits the rate limit headers.
func (m *MockJira) SetRateLimitRemaining(v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = v
}

// SetHandler sets a custom handler for a specific path.
func (m *MockJira) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockJira) SetResponse(path string, resp MockJiraResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockJira) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockJira) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastRequestHeader returns the headers of the latest request.
func (m *MockJira) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// GetQueries returns the raw query strings received so far.
func (m *MockJira) GetQueries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Queries...)
}

// GetNotModifiedCount returns the number of 304 responses sent.
func (m *MockJira) GetNotModifiedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.NotModifiedCount
}

func (m *MockJira) legacySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startAt, err := optionalInt(q.Get("startAt"), 0)
	if err != nil || startAt < 0 {
		writeJiraError(w, http.StatusBadRequest, "startAt must be a non-negative integer")
		return
	}
	maxResults, err := optionalInt(q.Get("maxResults"), 50)
	if err != nil || maxResults < 0 {
		writeJiraError(w, http.StatusBadRequest, "maxResults must be a non-negative integer")
		return
	}

	m.mu.RLock()
	page, total := m.window(startAt, maxResults, q.Get("fields"))
	m.mu.RUnlock()

	m.writeSearch(w, r, map[string]any{
		"expand":     "schema,names",
		"startAt":    startAt,
		"maxResults": maxResults,
		"total":      total,
		"issues":     page,
	})
}

func (m *MockJira) nextSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("jql")) == "" {
		writeJiraError(w, http.StatusBadRequest, "Unbounded JQL queries are not allowed here. Please add a search restriction to your query.")
		return
	}
	maxResults, err := optionalInt(q.Get("maxResults"), 50)
	if err != nil || maxResults < 0 {
		writeJiraError(w, http.StatusBadRequest, "maxResults must be a non-negative integer")
		return
	}

	offset := 0
	if token := q.Get("nextPageToken"); token != "" {
		offset, err = parseToken(token)
		if err != nil {
			writeJiraError(w, http.StatusBadRequest, "Invalid nextPageToken")
			return
		}
	}

	m.mu.RLock()
	page, total := m.window(offset, maxResults, q.Get("fields"))
	m.mu.RUnlock()

	body := map[string]any{"issues": page}
	next := offset + len(page)
	if next < total && len(page) > 0 {
		body["isLast"] = false
		body["nextPageToken"] = fmt.Sprintf("tok-%d", next)
	} else {
		body["isLast"] = true
	}
	m.writeSearch(w, r, body)
}

// window returns issues[start:start+size] projected to the requested fields.
// Callers hold m.mu.
func (m *MockJira) window(start, size int, fields string) ([]map[string]any, int) {
	total := len(m.issues)
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	page := make([]map[string]any, 0, end-start)
	for _, issue := range m.issues[start:end] {
		page = append(page, project(issue, fields))
	}
	return page, total
}

func project(issue map[string]any, fields string) map[string]any {
	if fields == "" || strings.Contains(fields, "*all") || strings.Contains(fields, "*navigable") {
		return issue
	}
	all := issue["fields"].(map[string]any)
	picked := make(map[string]any)
	for _, name := range strings.Split(fields, ",") {
		if v, ok := all[strings.TrimSpace(name)]; ok {
			picked[strings.TrimSpace(name)] = v
		}
	}
	return map[string]any{
		"id":     issue["id"],
		"key":    issue["key"],
		"self":   issue["self"],
		"fields": picked,
	}
}

func (m *MockJira) writeSearch(w http.ResponseWriter, r *http.Request, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		writeJiraError(w, http.StatusInternalServerError, err.Error())
		return
	}

	m.mu.RLock()
	sum := sha256.Sum256([]byte(strconv.Itoa(m.revision) + "|" + r.URL.RawQuery))
	maxAge := m.maxAge
	remaining := m.remaining
	m.mu.RUnlock()
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
	w.Header().Set("ETag", etag)
	if remaining != "" {
		w.Header().Set("X-RateLimit-Remaining", remaining)
		w.Header().Set("X-RateLimit-Reset", "60")
	}

	if r.Header.Get("If-None-Match") == etag {
		m.mu.Lock()
		m.NotModifiedCount++
		m.mu.Unlock()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeResponse(w http.ResponseWriter, resp MockJiraResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeJiraError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errorMessages": []string{message},
		"errors":        map[string]string{},
	})
}

func optionalInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func parseToken(token string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(token, "tok-"))
	if err != nil || !strings.HasPrefix(token, "tok-") {
		return 0, fmt.Errorf("invalid token %q", token)
	}
	return n, nil
}

// NewHealthyResponse creates a standard 200 OK response.
func NewHealthyResponse(data string) MockJiraResponse {
	return MockJiraResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"ETag":         `"test-etag-123"`,
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockJiraResponse {
	headers := map[string]string{"Content-Type": "application/json;charset=UTF-8"}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockJiraResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errorMessages":["Rate limit exceeded."],"errors":{}}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockJiraResponse {
	return MockJiraResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errorMessages":["Internal server error"],"errors":{}}`,
		Headers:    map[string]string{"Content-Type": "application/json;charset=UTF-8"},
	}
}

// NewJQLErrorResponse creates the 400 Jira returns for an invalid query.
func NewJQLErrorResponse(message string) MockJiraResponse {
	body, _ := json.Marshal(map[string]any{
		"errorMessages": []string{message},
		"errors":        map[string]string{},
	})
	return MockJiraResponse{
		StatusCode: http.StatusBadRequest,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json;charset=UTF-8"},
	}
}
