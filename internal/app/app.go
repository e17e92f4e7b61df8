// Package app wires the relay core: the per-connection session state
// machine, the history assembler, and the bounded pool that offloads
// blocking store calls.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"chatrelay/pkg/store"
	"chatrelay/pkg/stream"
)

// Config holds the collaborators the relay core runs against.
type Config struct {
	Store        store.Store
	Log          *stream.Log
	Cache        *stream.Cache
	Logger       *slog.Logger
	StoreWorkers int64
}

// App coordinates sessions over the shared stores.
type App struct {
	store   store.Store
	log     *stream.Log
	cache   *stream.Cache
	logger  *slog.Logger
	workers *workers
}

// New validates the wiring and constructs the relay core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("room log required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("recency cache required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:   cfg.Store,
		log:     cfg.Log,
		cache:   cfg.Cache,
		logger:  logger,
		workers: newWorkers(cfg.StoreWorkers),
	}, nil
}

// Ping reports whether the log/cache transport is reachable.
func (a *App) Ping(ctx context.Context) error {
	return a.log.Ping(ctx)
}

// validateRoom checks room existence through the worker pool. Returns
// store.ErrRoomNotFound unwrapped so callers can fail closed on it.
func (a *App) validateRoom(ctx context.Context, roomID int64) error {
	return a.workers.do(ctx, func() error {
		_, err := a.store.GetRoom(ctx, roomID)
		return err
	})
}
