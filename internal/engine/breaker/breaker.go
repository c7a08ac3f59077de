// Package breaker runs batched work and isolates failing items by bisection.
package breaker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultMaxDepth = 8

type Options struct {
	// MaxDepth bounds how many times a failing span is halved.
	MaxDepth int
	// Concurrency bounds how many spans run at once. Zero or one runs
	// spans sequentially.
	Concurrency int
	// OnSplit, when set, is called with the failing span before it is halved.
	OnSplit func(start, end int, err error)
}

// WorkFunc processes a batch and returns exactly one result per item, in
// item order.
type WorkFunc[T, R any] func(ctx context.Context, items []T) ([]R, error)

// ItemError is the failure of a single item that could not be split further.
type ItemError struct {
	Offset int
	Err    error
}

// BatchError lists the item offsets that still failed after bisection.
type BatchError struct {
	Failures []ItemError
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("item %d: %v", f.Offset, f.Err))
	}
	return fmt.Sprintf("%d item(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// Offsets returns the failed item offsets in ascending order.
func (e *BatchError) Offsets() []int {
	out := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Offset)
	}
	return out
}

type span struct {
	start, end int
	depth      int
}

// Run applies work to items. A failing span is split in half and each half
// retried until it succeeds, reaches a single item, or reaches MaxDepth.
// Results are placed by original offset; slots of failed items hold the zero
// value and are reported in a *BatchError. Once ctx is done no further spans
// are dispatched and ctx.Err() is returned.
func Run[T, R any](ctx context.Context, items []T, work WorkFunc[T, R], opts Options) ([]R, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	var (
		mu       sync.Mutex
		failures []ItemError
	)
	pending := []span{{start: 0, end: len(items)}}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		wave := pending
		pending = nil

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for _, s := range wave {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				out, err := work(gctx, items[s.start:s.end])
				if err == nil && len(out) != s.end-s.start {
					err = fmt.Errorf("work returned %d results for %d items", len(out), s.end-s.start)
				}

				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					copy(results[s.start:s.end], out)
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				if s.end-s.start == 1 || s.depth >= opts.MaxDepth {
					for i := s.start; i < s.end; i++ {
						failures = append(failures, ItemError{Offset: i, Err: err})
					}
					return nil
				}
				if opts.OnSplit != nil {
					opts.OnSplit(s.start, s.end, err)
				}
				mid := s.start + (s.end-s.start)/2
				pending = append(pending,
					span{start: s.start, end: mid, depth: s.depth + 1},
					span{start: mid, end: s.end, depth: s.depth + 1},
				)
				return nil
			})
		}
		_ = g.Wait()
		sort.Slice(pending, func(i, j int) bool { return pending[i].start < pending[j].start })
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Offset < failures[j].Offset })
		return results, &BatchError{Failures: failures}
	}
	return results, nil
}
