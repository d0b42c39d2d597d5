package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newResponse(status int, header http.Header, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func TestResponseToEntry(t *testing.T) {
	lastMod := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	resp := newResponse(200, http.Header{
		"Etag":          []string{`"abc123"`},
		"Last-Modified": []string{lastMod.Format(http.TimeFormat)},
		"Content-Type":  []string{"application/json"},
	}, `{"issues":[]}`)

	entry, err := ResponseToEntry(resp, 0)
	if err != nil {
		t.Fatalf("ResponseToEntry() error = %v", err)
	}

	if string(entry.Data) != `{"issues":[]}` {
		t.Errorf("Data = %s", entry.Data)
	}
	if entry.ETag != `"abc123"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if !entry.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, lastMod)
	}
	if entry.StatusCode != 200 {
		t.Errorf("StatusCode = %d", entry.StatusCode)
	}

	// Body restored for the caller.
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"issues":[]}` {
		t.Errorf("restored body = %q", body)
	}
}

func TestResponseToEntry_NilResponse(t *testing.T) {
	if _, err := ResponseToEntry(nil, time.Minute); err == nil {
		t.Error("ResponseToEntry(nil) error = nil, want error")
	}
}

func TestResponseToEntry_Freshness(t *testing.T) {
	tests := []struct {
		name       string
		header     http.Header
		defaultTTL time.Duration
		wantTTL    time.Duration
	}{
		{"default TTL", http.Header{}, 0, DefaultTTL},
		{"configured TTL", http.Header{}, 2 * time.Minute, 2 * time.Minute},
		{"max-age wins", http.Header{"Cache-Control": []string{"private, max-age=30"}, "Expires": []string{time.Now().Add(time.Hour).Format(http.TimeFormat)}}, time.Minute, 30 * time.Second},
		{"expires", http.Header{"Expires": []string{time.Now().Add(10 * time.Minute).Format(http.TimeFormat)}}, time.Minute, 10 * time.Minute},
		{"expired expires", http.Header{"Expires": []string{time.Now().Add(-time.Hour).Format(http.TimeFormat)}}, time.Minute, 0},
		{"bad expires", http.Header{"Expires": []string{"soon"}}, time.Minute, time.Minute},
		{"no-store", http.Header{"Cache-Control": []string{"no-store"}}, time.Minute, 0},
		{"no-cache", http.Header{"Cache-Control": []string{"No-Cache"}}, time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := ResponseToEntry(newResponse(200, tt.header, "{}"), tt.defaultTTL)
			if err != nil {
				t.Fatalf("ResponseToEntry() error = %v", err)
			}
			got := entry.TTL()
			if diff := got - tt.wantTTL; diff > 2*time.Second || diff < -2*time.Second {
				t.Errorf("TTL() = %v, want about %v", got, tt.wantTTL)
			}
		})
	}
}

func TestCacheEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"past", time.Now().Add(-time.Minute), true},
		{"future", time.Now().Add(time.Minute), false},
		{"zero", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
			if tt.want && entry.TTL() != 0 {
				t.Errorf("TTL() = %v for expired entry, want 0", entry.TTL())
			}
		})
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	lastMod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		entry         *CacheEntry
		wantNoneMatch string
		wantModSince  string
		wantShould    bool
	}{
		{"etag", &CacheEntry{ETag: `"v1"`, LastModified: lastMod}, `"v1"`, "", true},
		{"last-modified", &CacheEntry{LastModified: lastMod}, "", lastMod.Format(http.TimeFormat), true},
		{"neither", &CacheEntry{}, "", "", false},
		{"nil", nil, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rest/api/latest/search", nil)
			AddConditionalHeaders(req, tt.entry)

			if got := req.Header.Get("If-None-Match"); got != tt.wantNoneMatch {
				t.Errorf("If-None-Match = %q, want %q", got, tt.wantNoneMatch)
			}
			if got := req.Header.Get("If-Modified-Since"); got != tt.wantModSince {
				t.Errorf("If-Modified-Since = %q, want %q", got, tt.wantModSince)
			}
			if got := ShouldMakeConditionalRequest(tt.entry); got != tt.wantShould {
				t.Errorf("ShouldMakeConditionalRequest() = %v, want %v", got, tt.wantShould)
			}
		})
	}
}

func TestEntryToResponse(t *testing.T) {
	entry := &CacheEntry{
		Data:       []byte(`{"isLast":true,"issues":[]}`),
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}
	req := httptest.NewRequest(http.MethodGet, "/rest/api/3/search/jql", nil)

	resp := EntryToResponse(entry, req)
	defer resp.Body.Close()

	if resp.StatusCode != 200 || resp.Status != "200 OK" {
		t.Errorf("status = %d %q", resp.StatusCode, resp.Status)
	}
	if resp.Header.Get(HeaderCache) != "HIT" {
		t.Errorf("X-Cache = %q", resp.Header.Get(HeaderCache))
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if entry.Headers.Get(HeaderCache) != "" {
		t.Error("EntryToResponse mutated the entry headers")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(entry.Data) {
		t.Errorf("body = %s", body)
	}
	if resp.Request != req {
		t.Error("Request not set")
	}
}
