package diff

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/dropin/model"
)

// DefaultWorkers caps concurrent diff computations in a batch.
const DefaultWorkers = 4

// Item is one pending comparison.
type Item struct {
	Path string
	Old  string
	New  string
}

// ComputeAll diffs every item on at most workers goroutines and returns the
// results in input order. It stops early only if ctx is cancelled.
func (e Engine) ComputeAll(ctx context.Context, items []Item, workers int) ([]model.Diff, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]model.Diff, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.Compute(item.Old, item.New)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
