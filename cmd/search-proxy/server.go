package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/jira-search-client/pkg/client"
	"github.com/Sternrassler/jira-search-client/pkg/issues"
	"github.com/Sternrassler/jira-search-client/pkg/metrics"
	"github.com/Sternrassler/jira-search-client/pkg/search"
)

// searchDefaults apply when a request leaves the option unset.
type searchDefaults struct {
	Fields   search.FieldSelection
	PageSize int
}

type serverDeps struct {
	Searcher *search.Searcher[issues.Issue]
	Jira     *client.Client
	Redis    *redis.Client
	Defaults searchDefaults
	Logger   zerolog.Logger
}

type server struct {
	serverDeps
}

func newServer(deps serverDeps) *server {
	return &server{serverDeps: deps}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/search", s.searchHandler)
	r.Get("/search/stream", s.streamHandler)
	r.Delete("/cache", s.clearCacheHandler)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ready",
		"search_version": s.Searcher.Version(),
		"redis":          "disabled",
	}

	if s.Redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			status["status"] = "not_ready"
			status["redis"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["redis"] = "ok"

		if state, err := s.Jira.RateLimitState(ctx); err == nil && state != nil {
			status["rate_limit_remaining"] = state.Remaining
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// searchResponse is the eager search payload.
type searchResponse struct {
	Version    search.Version `json:"version"`
	Count      int            `json:"count"`
	Pages      int            `json:"pages"`
	Total      *int           `json:"total,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Issues     []issues.Issue `json:"issues"`
}

func (s *server) searchHandler(w http.ResponseWriter, r *http.Request) {
	jql, opts, err := s.parseSearch(r)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	res, err := s.Searcher.ListWithResult(r.Context(), jql, opts)
	if err != nil {
		s.logFailure(r, jql, err)
		writeError(w, err)
		return
	}

	resp := searchResponse{
		Version:    res.Version,
		Count:      len(res.Items),
		Pages:      res.Pages,
		DurationMS: time.Since(start).Milliseconds(),
		Issues:     res.Items,
	}
	if res.HasTotal {
		total := res.Total
		resp.Total = &total
	}
	if resp.Issues == nil {
		resp.Issues = []issues.Issue{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// streamTrailer is the last NDJSON line of a stream.
type streamTrailer struct {
	Done    bool   `json:"done"`
	Count   int    `json:"count"`
	Pages   int    `json:"pages"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// streamHandler writes one issue per line as pages arrive. A failure before
// the first issue gets a regular error response; after that the status is
// fixed and the failure is reported in the trailer line.
func (s *server) streamHandler(w http.ResponseWriter, r *http.Request) {
	jql, opts, err := s.parseSearch(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	it := s.Searcher.Stream(jql, opts)
	more := it.Next(ctx)
	if !more && it.Err() != nil {
		s.logFailure(r, jql, it.Err())
		writeError(w, it.Err())
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	count := 0
	pages := it.Cursor().Pages
	for ; more; more = it.Next(ctx) {
		if p := it.Cursor().Pages; p != pages {
			pages = p
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err := enc.Encode(it.Item()); err != nil {
			// Client went away.
			return
		}
		count++
	}

	trailer := streamTrailer{Done: it.Err() == nil, Count: count, Pages: it.Cursor().Pages}
	if err := it.Err(); err != nil {
		s.logFailure(r, jql, err)
		_, trailer.Error = errorStatus(err)
		trailer.Kind = search.ErrorKind(err)
		trailer.Message = err.Error()
	}
	_ = enc.Encode(trailer)
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *server) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.Jira.ClearCache(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache_error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// badRequest is a malformed proxy parameter.
type badRequest struct {
	param string
	err   error
}

func (e *badRequest) Error() string {
	return fmt.Sprintf("invalid parameter %s: %v", e.param, e.err)
}

// parseSearch reads jql, fields, preset, page_size, start_at, page_token and
// version from the query string.
func (s *server) parseSearch(r *http.Request) (string, search.Options, error) {
	q := r.URL.Query()
	opts := search.Options{
		Fields:    s.Defaults.Fields,
		PageSize:  s.Defaults.PageSize,
		PageToken: q.Get("page_token"),
	}

	if v := q.Get("fields"); v != "" {
		// Empty entries are left in for the normalizer to reject.
		opts.Fields = search.Fields(strings.Split(v, ",")...)
	} else if v := q.Get("preset"); v != "" {
		p, err := search.ParsePreset(v)
		if err != nil {
			return "", opts, &badRequest{"preset", err}
		}
		opts.Fields = search.UsePreset(p)
	}

	for param, dst := range map[string]*int{"page_size": &opts.PageSize, "start_at": &opts.StartAt} {
		if v := q.Get(param); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return "", opts, &badRequest{param, err}
			}
			*dst = n
		}
	}

	if v := q.Get("version"); v != "" {
		version, err := search.ParseVersion(v)
		if err != nil {
			return "", opts, &badRequest{"version", err}
		}
		opts.Version = version
	}

	return q.Get("jql"), opts, nil
}

func (s *server) logFailure(r *http.Request, jql string, err error) {
	s.Logger.Warn().
		Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("jql", jql).
		Str("kind", search.ErrorKind(err)).
		Msg("Search failed")
}

// errorStatus maps a search failure to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, search.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, client.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, client.ErrUnauthorized):
		return http.StatusBadGateway, "jira_unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, search.ErrDecode):
		return http.StatusBadGateway, "bad_jira_response"
	default:
		var jiraErr *client.JiraError
		if errors.As(err, &jiraErr) && jiraErr.ErrorClass == client.ErrorClassClient {
			// Jira rejected the query itself, e.g. unknown field in JQL.
			return http.StatusBadRequest, "jira_rejected"
		}
		return http.StatusBadGateway, "jira_unavailable"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// recoverer returns JSON instead of a plain text stack trace.
func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.Logger.Error().
					Interface("panic", rvr).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("Panic recovered")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one log line per request and echoes X-Request-ID.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := middleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.Logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Int("response_bytes", ww.BytesWritten()).
			Msg("HTTP request")
	})
}
