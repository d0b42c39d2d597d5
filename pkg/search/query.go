package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/jira-search-client/pkg/pagination"
)

const (
	// DefaultPageSize is used when the caller gives no page size.
	DefaultPageSize = 50

	// MaxNextPageSize is the largest page the next protocol accepts.
	MaxNextPageSize = 5000
)

// Options configures one search.
type Options struct {
	// Fields selects the returned fields. The zero value uses the protocol default.
	Fields FieldSelection

	// PageSize is the number of items requested per page. Zero means DefaultPageSize.
	PageSize int

	// StartAt is the offset of the first item (legacy protocol only).
	StartAt int

	// PageToken resumes a search from a token returned earlier (next protocol only).
	PageToken string

	// Version overrides the searcher's resolved protocol version.
	Version Version
}

// Query is one logical search. It is immutable: every page request is derived
// from the query and the pagination cursor without changing the query.
type Query struct {
	jql  string
	opts Options
}

// NewQuery builds a query from a JQL string and options.
func NewQuery(jql string, opts Options) Query {
	if opts.Fields.fields != nil {
		fields := make([]string, len(opts.Fields.fields))
		copy(fields, opts.Fields.fields)
		opts.Fields.fields = fields
	}
	return Query{jql: jql, opts: opts}
}

// JQL returns the query string.
func (q Query) JQL() string { return q.jql }

// Options returns the query options.
func (q Query) Options() Options { return q.opts }

// WireRequest is a protocol-correct page request, ready to be encoded.
type WireRequest struct {
	Version Version
	JQL     string

	// Fields is nil when the parameter is omitted.
	Fields     []string
	MaxResults int

	// StartAt is sent by the legacy protocol only.
	StartAt int

	// NextPageToken is sent by the next protocol only, and only when non-empty.
	NextPageToken string
}

// Values returns the request as query parameters.
func (w WireRequest) Values() url.Values {
	v := url.Values{}
	v.Set("jql", w.JQL)
	v.Set("maxResults", strconv.Itoa(w.MaxResults))
	if w.Fields != nil {
		v.Set("fields", strings.Join(w.Fields, ","))
	}
	switch w.Version {
	case VersionLegacy:
		v.Set("startAt", strconv.Itoa(w.StartAt))
	case VersionNext:
		if w.NextPageToken != "" {
			v.Set("nextPageToken", w.NextPageToken)
		}
	}
	return v
}

// Encode renders the request as a query string. Keys are sorted, so equal
// requests encode to identical bytes.
func (w WireRequest) Encode() string {
	return w.Values().Encode()
}

// Normalize builds the wire request for the page the cursor points at.
//
// Under the next protocol an empty field selection is replaced by the essential
// preset, so items always carry id, self, key and fields. The legacy protocol
// already returns those by default and gets no fields parameter. Explicit
// selections are sent unchanged under both protocols.
func Normalize(q Query, v Version, c pagination.Cursor) (WireRequest, error) {
	if !v.Concrete() {
		return WireRequest{}, &QueryError{Field: "version", Message: "version must be resolved before normalizing"}
	}
	opts := q.opts

	if opts.PageSize < 0 {
		return WireRequest{}, &QueryError{Field: "page_size", Message: "must not be negative"}
	}
	if opts.StartAt < 0 {
		return WireRequest{}, &QueryError{Field: "start_at", Message: "must not be negative"}
	}

	fields, err := opts.Fields.resolve()
	if err != nil {
		return WireRequest{}, err
	}

	w := WireRequest{
		Version:    v,
		JQL:        q.jql,
		Fields:     fields,
		MaxResults: opts.PageSize,
	}
	if w.MaxResults == 0 {
		w.MaxResults = DefaultPageSize
	}

	switch v {
	case VersionLegacy:
		if opts.PageToken != "" {
			return WireRequest{}, &QueryError{Field: "page_token", Message: "not supported by the legacy protocol"}
		}
		w.StartAt = opts.StartAt + c.Fetched

	case VersionNext:
		if strings.TrimSpace(q.jql) == "" {
			return WireRequest{}, &QueryError{Field: "jql", Message: "the next protocol does not accept an empty query"}
		}
		if opts.StartAt != 0 {
			return WireRequest{}, &QueryError{Field: "start_at", Message: "not supported by the next protocol"}
		}
		if w.MaxResults > MaxNextPageSize {
			w.MaxResults = MaxNextPageSize
		}
		if w.Fields == nil {
			w.Fields, _ = PresetFields(PresetEssential)
		}
		if c.Pages > 0 {
			w.NextPageToken = c.Token
		} else {
			w.NextPageToken = opts.PageToken
		}
	}

	return w, nil
}

var limitingClauses = []string{
	"project", "assignee", "reporter", "created", "updated", "key", "id",
	"sprint", "fixversion", "component",
}

// hasLimitingClause reports whether jql mentions a field that usually bounds the
// result set. Unbounded queries are legal but expensive on the next protocol.
func hasLimitingClause(jql string) bool {
	lower := strings.ToLower(jql)
	for _, clause := range limitingClauses {
		if strings.Contains(lower, clause) {
			return true
		}
	}
	return false
}
