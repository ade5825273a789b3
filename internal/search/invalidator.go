package search

import (
	"context"
	"log/slog"

	"github.com/listenlab/artistrank/internal/rollup"
)

// flusher is the slice of the Redis client the invalidator needs.
type flusher interface {
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// CacheInvalidator drops cached search results once a rollup cycle has
// written new rankings. It plugs into the rollup scheduler as a snapshot
// sink; cached scores never outlive the cycle that superseded them.
type CacheInvalidator struct {
	flusher flusher
	logger  *slog.Logger
}

// NewCacheInvalidator creates a CacheInvalidator backed by the given Redis
// client.
func NewCacheInvalidator(f flusher) *CacheInvalidator {
	return &CacheInvalidator{
		flusher: f,
		logger:  slog.Default().With("component", "search-cache-invalidator"),
	}
}

// Save flushes the result-cache namespace after a cycle that wrote to the
// store. Failed and empty cycles change no rankings and leave the cache
// alone.
func (i *CacheInvalidator) Save(ctx context.Context, result *rollup.CycleResult, runErr error) error {
	if runErr != nil || result == nil || result.BulkOps == 0 {
		return nil
	}
	deleted, err := i.flusher.FlushByPattern(ctx, resultKeyPrefix+"*")
	if err != nil {
		return err
	}
	i.logger.Info("invalidated cached search results",
		"bucket_index", result.BucketIndex,
		"keys_deleted", deleted,
	)
	return nil
}
