package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/jira-search-client/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the searcher configuration.
type Config struct {
	// BaseURL of the instance, e.g. https://acme.atlassian.net or https://jira.example.com/jira.
	BaseURL string

	// Version overrides auto-detection. Empty means VersionAuto.
	Version Version

	// CloudSuffixes extend DefaultCloudSuffixes for auto-detection.
	CloudSuffixes []string

	// Awaiter performs the round trips (REQUIRED). See Blocking and Cooperative.
	Awaiter Awaiter

	// Header is added to every page request.
	Header http.Header

	// Logger defaults to the global logger.
	Logger *zerolog.Logger
}

// Result is the outcome of an eager search with its diagnostics.
type Result[T any] struct {
	Items   []T
	Version Version
	Pages   int

	// Total is the server's count from the last page; only meaningful when HasTotal is set.
	Total    int
	HasTotal bool
}

// Searcher runs searches against one resource kind on one host.
// The protocol version is resolved once, in NewSearcher. A Searcher is safe for
// concurrent use; every search gets its own driver and cursor.
type Searcher[T any] struct {
	baseURL  *url.URL
	endpoint Endpoint[T]
	awaiter  Awaiter
	header   http.Header
	version  Version
	logger   zerolog.Logger
}

// NewSearcher creates a searcher and resolves its protocol version.
func NewSearcher[T any](cfg Config, endpoint Endpoint[T]) (*Searcher[T], error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Awaiter == nil {
		return nil, fmt.Errorf("awaiter is required")
	}
	if endpoint == nil {
		return nil, fmt.Errorf("endpoint is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must include scheme and host", cfg.BaseURL)
	}

	override := cfg.Version
	if override == "" {
		override = VersionAuto
	}
	if override != VersionAuto && !override.Concrete() {
		return nil, fmt.Errorf("unknown search version %q", cfg.Version)
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "jira-search").Logger()
	} else {
		logger = log.With().Str("component", "jira-search").Logger()
	}

	version := Resolve(base.Host, override, cfg.CloudSuffixes...)
	logger.Debug().
		Str("host", base.Host).
		Str("override", string(override)).
		Str("version", string(version)).
		Msg("Search version resolved")

	return &Searcher[T]{
		baseURL:  base,
		endpoint: endpoint,
		awaiter:  cfg.Awaiter,
		header:   cfg.Header.Clone(),
		version:  version,
		logger:   logger,
	}, nil
}

// Version returns the resolved protocol version.
func (s *Searcher[T]) Version() Version {
	return s.version
}

// List runs the search to completion and returns every item in server order.
func (s *Searcher[T]) List(ctx context.Context, jql string, opts Options) ([]T, error) {
	res, err := s.ListWithResult(ctx, jql, opts)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// ListWithResult is List with diagnostics.
func (s *Searcher[T]) ListWithResult(ctx context.Context, jql string, opts Options) (Result[T], error) {
	src, err := s.prepare(jql, opts)
	if err != nil {
		return Result[T]{}, err
	}

	start := time.Now()
	driver := pagination.NewDriver[T](src, src.logger)

	items, err := pagination.Collect(ctx, driver)
	if err != nil {
		return Result[T]{}, err
	}

	c := driver.Cursor()
	res := Result[T]{
		Items:    items,
		Version:  src.version,
		Pages:    c.Pages,
		Total:    c.Total,
		HasTotal: c.HasTotal,
	}
	searchDuration.WithLabelValues(string(src.version), "eager").Observe(time.Since(start).Seconds())

	return res, nil
}

// Stream returns a lazy sequence over the search. Nothing is fetched until the
// first call to Next. Invalid queries yield an iterator that fails immediately.
func (s *Searcher[T]) Stream(jql string, opts Options) *pagination.Iterator[T] {
	src, err := s.prepare(jql, opts)
	if err != nil {
		return pagination.Failed[T](err)
	}
	return pagination.NewIterator(pagination.NewDriver[T](src, src.logger))
}

// Page fetches a single page. Under the legacy protocol opts.StartAt selects
// it; under the next protocol opts.PageToken does.
func (s *Searcher[T]) Page(ctx context.Context, jql string, opts Options) (pagination.Page[T], error) {
	src, err := s.prepare(jql, opts)
	if err != nil {
		return pagination.Page[T]{}, err
	}

	start := time.Now()
	page, err := pagination.NewDriver[T](src, src.logger).Advance(ctx)
	if err != nil {
		return pagination.Page[T]{}, err
	}
	searchDuration.WithLabelValues(string(src.version), "page").Observe(time.Since(start).Seconds())
	return page, nil
}

// prepare resolves the version for this query and validates it by normalizing
// the first page request, so invalid input fails before any I/O.
func (s *Searcher[T]) prepare(jql string, opts Options) (*pageSource[T], error) {
	version := s.version
	if opts.Version.Concrete() {
		version = opts.Version
	} else if opts.Version != "" && opts.Version != VersionAuto {
		err := &QueryError{Field: "version", Message: fmt.Sprintf("unknown version %q", opts.Version)}
		searchErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
		return nil, err
	}

	q := NewQuery(jql, opts)
	first, err := Normalize(q, version, pagination.Cursor{})
	if err != nil {
		searchErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
		return nil, err
	}

	logger := s.logger.With().Str("version", string(version)).Logger()

	if version == VersionNext {
		if opts.PageSize > MaxNextPageSize {
			logger.Warn().
				Int("requested", opts.PageSize).
				Int("max", MaxNextPageSize).
				Msg("Page size capped")
		}
		if !hasLimitingClause(jql) {
			logger.Warn().
				Str("jql", jql).
				Msg("Query has no limiting clause, consider adding project or date bounds")
		}
	}

	logger.Debug().
		Str("jql", jql).
		Str("fields", opts.Fields.String()).
		Int("page_size", first.MaxResults).
		Msg("Search started")

	return &pageSource[T]{
		searcher: s,
		query:    q,
		version:  version,
		logger:   logger,
	}, nil
}

// pageSource adapts a Searcher to pagination.PageFetcher for one query.
type pageSource[T any] struct {
	searcher *Searcher[T]
	query    Query
	version  Version
	logger   zerolog.Logger
}

// FetchPage implements pagination.PageFetcher.
func (p *pageSource[T]) FetchPage(ctx context.Context, c pagination.Cursor) ([]byte, error) {
	w, err := Normalize(p.query, p.version, c)
	if err != nil {
		searchErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
		return nil, err
	}

	u := p.searcher.baseURL.JoinPath(p.searcher.endpoint.Path(p.version))
	u.RawQuery = w.Encode()

	req := Request{
		Method: http.MethodGet,
		URL:    u.String(),
		Header: p.searcher.header.Clone(),
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Accept", "application/json")

	body, err := p.searcher.awaiter.Await(ctx, req)
	if err != nil {
		terr := &TransportError{Method: req.Method, URL: req.URL, Page: c.Pages + 1, Err: err}
		searchErrorsTotal.WithLabelValues(ErrorKind(terr)).Inc()
		return nil, terr
	}
	return body, nil
}

// DecodePage implements pagination.PageFetcher. Besides decoding, it guards
// the driver against servers that would make it loop forever: a legacy page
// must start where it was requested, a legacy page with no items ends the
// search, and a next page that is not last must carry a fresh token.
func (p *pageSource[T]) DecodePage(data []byte, c pagination.Cursor) (pagination.Page[T], error) {
	ep := p.searcher.endpoint
	page, err := Decode(data, p.version, ep.ItemsKey(p.version), ep.DecodeItem)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Page = c.Pages + 1
		}
		searchErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
		return pagination.Page[T]{}, err
	}

	if p.version == VersionLegacy {
		if want := p.query.opts.StartAt + c.Fetched; page.StartAt != want {
			err := &DecodeError{
				Version: p.version,
				Page:    c.Pages + 1,
				Item:    -1,
				Message: fmt.Sprintf("page starts at %d, requested %d", page.StartAt, want),
			}
			searchErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
			return pagination.Page[T]{}, err
		}
	}

	if !page.IsLast {
		switch p.version {
		case VersionLegacy:
			if len(page.Items) == 0 {
				p.logger.Warn().
					Int("page", c.Pages+1).
					Int("start_at", page.StartAt).
					Int("total", page.Total).
					Msg("Empty page before reported total, ending search")
				page.IsLast = true
			}
		case VersionNext:
			sent := p.query.opts.PageToken
			if c.Pages > 0 {
				sent = c.Token
			}
			if page.NextToken == "" || page.NextToken == sent {
				err := &DecodeError{
					Version: p.version,
					Page:    c.Pages + 1,
					Item:    -1,
					Message: "page is not last but carries no new continuation token",
				}
				searchErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
				return pagination.Page[T]{}, err
			}
		}
	}

	searchPagesTotal.WithLabelValues(string(p.version)).Inc()
	searchItemsTotal.WithLabelValues(string(p.version)).Add(float64(len(page.Items)))
	return page, nil
}
