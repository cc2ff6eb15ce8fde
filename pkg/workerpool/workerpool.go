// Package workerpool runs a bounded set of goroutines over a slice of work
// items.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Process invokes process for every item with at most workerCount goroutines
// running at once. The first error cancels the shared context and is
// returned after all started workers finish.
func Process[T any](
	ctx context.Context,
	workerCount int,
	items []T,
	process func(context.Context, T) error,
) error {
	if workerCount < 1 {
		workerCount = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)

	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return process(ctx, item)
		})
	}

	return g.Wait()
}
