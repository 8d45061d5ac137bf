package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const DefaultConcurrency = 3

// Result is the outcome of one item. Index is the item's position in the input.
type Result struct {
	Index int
	Err   error
}

func (r Result) OK() bool { return r.Err == nil }

// PanicError wraps a value recovered from a worker panic.
type PanicError struct {
	Index int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("item %d: worker panicked: %v", e.Index, e.Value)
}

type options struct {
	concurrency int
	observer    func(Result)
	onLanes     func(int)
}

type Option func(*options)

// WithConcurrency sets the maximum number of items in flight. Values below 1
// fall back to one lane.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithObserver registers a callback invoked once per finished item. It may be
// called from several lanes at the same time.
func WithObserver(fn func(Result)) Option {
	return func(o *options) { o.observer = fn }
}

// WithLaneHook reports the number of lanes actually started.
func WithLaneHook(fn func(int)) Option {
	return func(o *options) { o.onLanes = fn }
}

// Lanes returns the effective number of lanes for n items.
func Lanes(concurrency, n int) int {
	if n <= 0 {
		return 0
	}
	if concurrency > n {
		concurrency = n
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return concurrency
}

// Run calls work for every item with at most the configured number of items
// in flight. A failing or panicking item never stops the others. The returned
// slice is ordered by input index.
//
// When ctx is done the lanes stop claiming new items; items that were never
// claimed are reported with ctx.Err().
func Run[T any](ctx context.Context, items []T, work func(ctx context.Context, item T, index int) error, opts ...Option) []Result {
	o := options{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	n := len(items)
	if n == 0 {
		return nil
	}

	results := make([]Result, n)
	claimed := make([]bool, n)

	lanes := Lanes(o.concurrency, n)
	if o.onLanes != nil {
		o.onLanes(lanes)
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	for l := 0; l < lanes; l++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return
				}
				// each index is written by exactly one lane
				claimed[i] = true
				res := Result{Index: i, Err: call(ctx, items[i], i, work)}
				results[i] = res
				if o.observer != nil {
					o.observer(res)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if !claimed[i] {
				results[i] = Result{Index: i, Err: err}
			}
		}
	}
	return results
}

func call[T any](ctx context.Context, item T, i int, work func(context.Context, T, int) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Index: i, Value: v}
		}
	}()
	return work(ctx, item, i)
}

// Failed counts the results that carry an error.
func Failed(results []Result) int {
	var c int
	for _, r := range results {
		if r.Err != nil {
			c++
		}
	}
	return c
}
