package syncer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type indexed[R any] struct {
	index int
	value R
}

// fanOut calls fn for every item with at most workers calls in flight.
// Results travel back over a channel to the calling goroutine, which is the
// only one writing the returned slice; it is in input order.
func fanOut[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) R) []R {
	if workers < 1 {
		workers = 1
	}

	results := make(chan indexed[R])
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for i, item := range items {
			g.Go(func() error {
				results <- indexed[R]{index: i, value: fn(ctx, item)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	out := make([]R, len(items))
	for r := range results {
		out[r.index] = r.value
	}
	return out
}
