package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrExhausted is returned by Advance once the driver has reached Done.
var ErrExhausted = errors.New("pagination exhausted")

// State is the position of a Driver in its state machine.
type State int

const (
	// StateIdle means no request is outstanding and more pages may follow.
	StateIdle State = iota

	// StateFetching means a page request is with the transport.
	StateFetching

	// StateDecoding means response bytes are being turned into a Page.
	StateDecoding

	// StateDone is terminal: the last page has been decoded.
	StateDone

	// StateFailed is terminal: a fetch or decode error ended the search.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PageFetcher is implemented by whatever knows how to request and decode one page.
// FetchPage performs the round trip for the page the cursor points at; DecodePage
// turns the raw response into a Page. Both receive a copy of the cursor.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, cursor Cursor) ([]byte, error)
	DecodePage(data []byte, cursor Cursor) (Page[T], error)
}

// Driver advances one search through its pages.
// A Driver is not safe for concurrent use and cannot be restarted.
type Driver[T any] struct {
	fetcher PageFetcher[T]
	logger  zerolog.Logger
	cursor  Cursor
	state   State
	err     error
	started time.Time
}

// NewDriver creates a driver in the Idle state.
func NewDriver[T any](fetcher PageFetcher[T], logger zerolog.Logger) *Driver[T] {
	return &Driver[T]{
		fetcher: fetcher,
		logger:  logger,
	}
}

// State returns the current state.
func (d *Driver[T]) State() State {
	return d.state
}

// Cursor returns a copy of the pagination state.
func (d *Driver[T]) Cursor() Cursor {
	return d.cursor
}

// Err returns the error that moved the driver to Failed, if any.
func (d *Driver[T]) Err() error {
	return d.err
}

// Finished reports whether the driver is in a terminal state.
func (d *Driver[T]) Finished() bool {
	return d.state == StateDone || d.state == StateFailed
}

// Advance fetches and decodes the next page.
// After Done it returns ErrExhausted; after Failed it returns the failure again.
func (d *Driver[T]) Advance(ctx context.Context) (Page[T], error) {
	switch d.state {
	case StateDone:
		return Page[T]{}, ErrExhausted
	case StateFailed:
		return Page[T]{}, d.err
	}

	if d.cursor.Pages == 0 {
		d.started = time.Now()
	}

	d.state = StateFetching
	data, err := d.fetcher.FetchPage(ctx, d.cursor)
	if err != nil {
		return Page[T]{}, d.fail(err)
	}

	d.state = StateDecoding
	page, err := d.fetcher.DecodePage(data, d.cursor)
	if err != nil {
		return Page[T]{}, d.fail(err)
	}

	d.cursor.Pages++
	d.cursor.Fetched += len(page.Items)
	switch page.Continuation {
	case ContinuationOffset:
		d.cursor.StartAt = page.StartAt
	case ContinuationToken:
		d.cursor.Token = page.NextToken
	}
	if page.HasTotal {
		d.cursor.Total, d.cursor.HasTotal = page.Total, true
	}

	if page.IsLast {
		d.cursor.Done = true
		d.state = StateDone
		d.logger.Debug().
			Int("pages", d.cursor.Pages).
			Int("items", d.cursor.Fetched).
			Dur("duration", time.Since(d.started)).
			Msg("Pagination complete")
	} else {
		d.state = StateIdle
		d.logger.Debug().
			Int("page", d.cursor.Pages).
			Int("items", len(page.Items)).
			Str("continuation", page.Continuation.String()).
			Msg("Page decoded, more to follow")
	}

	return page, nil
}

func (d *Driver[T]) fail(err error) error {
	d.state = StateFailed
	d.err = err
	d.logger.Warn().
		Err(err).
		Int("page", d.cursor.Pages+1).
		Int("fetched", d.cursor.Fetched).
		Msg("Pagination failed")
	return err
}

// Collect drives d to completion and returns every item in fetch order.
// On failure no items are returned.
func Collect[T any](ctx context.Context, d *Driver[T]) ([]T, error) {
	var items []T
	for !d.Finished() {
		page, err := d.Advance(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	if d.state == StateFailed {
		return nil, d.err
	}
	return items, nil
}
