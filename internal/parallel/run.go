package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run calls fn once per worker, concurrently, and returns the first error.
// The context passed to fn is canceled as soon as one worker fails, which
// releases workers blocked in WaitAggregation.
func Run(ctx context.Context, workers int, fn func(ctx context.Context, worker int) error) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error { return fn(gctx, w) })
	}
	return g.Wait()
}
