package app

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const defaultStoreWorkers = 16

// workers bounds how many blocking store calls run at once, keeping one
// slow query from stalling unrelated connections.
type workers struct {
	sem *semaphore.Weighted
}

func newWorkers(n int64) *workers {
	if n <= 0 {
		n = defaultStoreWorkers
	}
	return &workers{sem: semaphore.NewWeighted(n)}
}

// do runs fn while holding a slot, waiting for one if the pool is full.
func (w *workers) do(ctx context.Context, fn func() error) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)
	return fn()
}
