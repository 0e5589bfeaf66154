package matchctx

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForEachFunctionPair runs fn once per element of items, bounded to
// c.Parallelism concurrent invocations (GOMAXPROCS if unset). Matching
// within a single pair (basic-block steps, then LCS) stays strictly
// sequential — see SPEC_FULL.md's concurrency model — only the outer
// dispatch across independent function pairs is parallel.
//
// A cancellation-worthy error from fn (anything other than a soft
// Collision, which steps log and continue past rather than return) stops
// launching new work and ForEachFunctionPair returns that error; in-flight
// work already started is allowed to finish rather than being interrupted
// mid basic-block-match, to keep each individual pair's result set
// internally consistent.
func ForEachFunctionPair[T any](ctx context.Context, c *Context, items []T, fn func(context.Context, T) error) error {
	limit := c.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
