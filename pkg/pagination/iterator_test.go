package pagination

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestIterator_MatchesCollect(t *testing.T) {
	for _, pages := range [][]Page[int]{offsetPages(), tokenPages()} {
		eager, err := Collect(context.Background(), NewDriver[int](&scriptedFetcher{pages: pages}, zerolog.Nop()))
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}

		it := NewIterator(NewDriver[int](&scriptedFetcher{pages: pages}, zerolog.Nop()))
		var lazy []int
		for it.Next(context.Background()) {
			lazy = append(lazy, it.Item())
		}
		if it.Err() != nil {
			t.Fatalf("Err() = %v", it.Err())
		}
		if !reflect.DeepEqual(lazy, eager) {
			t.Errorf("lazy = %v, eager = %v", lazy, eager)
		}
	}
}

func TestIterator_FetchesOnlyOnDemand(t *testing.T) {
	f := &scriptedFetcher{pages: offsetPages()}
	it := NewIterator(NewDriver[int](f, zerolog.Nop()))

	if len(f.cursors) != 0 {
		t.Fatalf("fetches before Next = %d, want 0", len(f.cursors))
	}

	// All three items of page one come from a single fetch.
	for i := 0; i < 3; i++ {
		if !it.Next(context.Background()) {
			t.Fatalf("Next() = false at item %d", i)
		}
	}
	if len(f.cursors) != 1 {
		t.Errorf("fetches after page one = %d, want 1", len(f.cursors))
	}

	// Stepping past the page boundary triggers exactly one more fetch.
	if !it.Next(context.Background()) || it.Item() != 4 {
		t.Fatalf("Next() item = %d, want 4", it.Item())
	}
	if len(f.cursors) != 2 {
		t.Errorf("fetches after crossing = %d, want 2", len(f.cursors))
	}
}

func TestIterator_EarlyAbortDoesNotOverfetch(t *testing.T) {
	f := &scriptedFetcher{pages: offsetPages()}
	it := NewIterator(NewDriver[int](f, zerolog.Nop()))

	for item, err := range it.Seq(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if item != 1 {
			t.Errorf("first item = %d, want 1", item)
		}
		break
	}

	if len(f.cursors) != 1 {
		t.Errorf("fetches = %d, want 1", len(f.cursors))
	}
}

func TestIterator_ErrorIsTerminalElement(t *testing.T) {
	boom := errors.New("gateway timeout")
	f := &scriptedFetcher{pages: offsetPages(), fetchErr: map[int]error{1: boom}}
	it := NewIterator(NewDriver[int](f, zerolog.Nop()))

	var items []int
	var errs []error
	for item, err := range it.Seq(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}

	if !reflect.DeepEqual(items, []int{1, 2, 3}) {
		t.Errorf("items = %v, want [1 2 3]", items)
	}
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("errs = %v, want [%v]", errs, boom)
	}

	// Not restartable.
	if it.Next(context.Background()) {
		t.Error("Next() after failure = true, want false")
	}
	if len(f.cursors) != 2 {
		t.Errorf("fetches = %d, want 2", len(f.cursors))
	}
}

func TestIterator_CleanExhaustion(t *testing.T) {
	it := NewIterator(NewDriver[int](&scriptedFetcher{pages: tokenPages()}, zerolog.Nop()))
	for it.Next(context.Background()) {
	}
	if it.Err() != nil {
		t.Errorf("Err() = %v, want nil", it.Err())
	}
	if it.Next(context.Background()) {
		t.Error("Next() after exhaustion = true, want false")
	}
	if c := it.Cursor(); !c.Done || c.Fetched != 5 {
		t.Errorf("Cursor() = %+v, want Done with 5 fetched", c)
	}
}

func TestIterator_SkipsEmptyIntermediatePages(t *testing.T) {
	pages := []Page[int]{
		{Items: []int{1}, NextToken: "a", Continuation: ContinuationToken},
		{NextToken: "b", Continuation: ContinuationToken},
		{Items: []int{2}, IsLast: true, Continuation: ContinuationToken},
	}
	it := NewIterator(NewDriver[int](&scriptedFetcher{pages: pages}, zerolog.Nop()))

	var got []int
	for it.Next(context.Background()) {
		got = append(got, it.Item())
	}
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("items = %v, want [1 2]", got)
	}
}

func TestFailed(t *testing.T) {
	boom := errors.New("invalid")
	it := Failed[string](boom)
	if it.Next(context.Background()) {
		t.Error("Next() = true, want false")
	}
	if it.Err() != boom {
		t.Errorf("Err() = %v, want %v", it.Err(), boom)
	}
	if it.Cursor() != (Cursor{}) {
		t.Errorf("Cursor() = %+v, want zero", it.Cursor())
	}
}
