package app

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type lookup[T any] struct {
	value T
	err   error
}

// fetchAll reads every id with at most limit calls in flight and joins them
// before returning. Per-id errors are kept in the result, never returned, so
// one failed read does not cancel the others.
func fetchAll[T any](ctx context.Context, limit int, ids []uint64, fetch func(context.Context, uint64) (T, error)) map[uint64]lookup[T] {
	results := make(map[uint64]lookup[T], len(ids))
	if len(ids) == 0 {
		return results
	}
	if limit <= 0 {
		limit = defaultConcurrency
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			value, err := fetch(gctx, id)
			mu.Lock()
			results[id] = lookup[T]{value: value, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
