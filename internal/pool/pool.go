// Package pool bounds fan-out across blogs and across posts.
package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// HardCap is the most workers any pool may run.
const HardCap = 8

// Workers returns min(NumCPU, items, limit), never less than 1. A
// non-positive or larger limit is clamped to HardCap.
func Workers(items, limit int) int {
	if limit <= 0 || limit > HardCap {
		limit = HardCap
	}
	w := min(runtime.NumCPU(), items, limit)
	return max(w, 1)
}

// Run calls fn for every item with at most workers running at once. fn owns
// its own failures; Run stops scheduling new items once ctx ends and returns
// ctx's error in that case.
func Run[T any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, i int, item T)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(gctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
