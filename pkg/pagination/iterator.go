package pagination

import (
	"context"
	"iter"
)

// Iterator yields the items of a search one at a time.
// Pages are fetched on demand: the driver is advanced only when every item of the
// current page has been handed out. Abandoning an iterator needs no teardown.
type Iterator[T any] struct {
	driver *Driver[T]
	buf    []T
	pos    int
	item   T
	err    error
}

// NewIterator wraps a fresh driver.
func NewIterator[T any](d *Driver[T]) *Iterator[T] {
	return &Iterator[T]{driver: d}
}

// Failed returns an iterator that yields nothing and reports err.
func Failed[T any](err error) *Iterator[T] {
	return &Iterator[T]{err: err}
}

// Next moves to the next item, fetching a page if needed.
// It returns false when the sequence is exhausted or failed; see Err.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	for it.pos >= len(it.buf) {
		if it.err != nil || it.driver == nil || it.driver.Finished() {
			it.buf = nil
			return false
		}
		page, err := it.driver.Advance(ctx)
		if err != nil {
			it.err = err
			it.buf = nil
			return false
		}
		it.buf = page.Items
		it.pos = 0
	}

	it.item = it.buf[it.pos]
	it.pos++
	return true
}

// Item returns the item produced by the last successful Next.
func (it *Iterator[T]) Item() T {
	return it.item
}

// Err returns the error that ended iteration, or nil if the sequence ran out cleanly.
func (it *Iterator[T]) Err() error {
	return it.err
}

// Cursor returns the pagination state behind the iterator.
func (it *Iterator[T]) Cursor() Cursor {
	if it.driver == nil {
		return Cursor{}
	}
	return it.driver.Cursor()
}

// Seq adapts the iterator to a range-over-func sequence.
// A failure is yielded once as the final pair, with a zero item.
func (it *Iterator[T]) Seq(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for it.Next(ctx) {
			if !yield(it.Item(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}
