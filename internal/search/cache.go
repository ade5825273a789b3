package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/metrics"
	"github.com/listenlab/artistrank/pkg/redis"
)

// cacheBackend is the slice of the Redis client the result cache needs.
type cacheBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ResultCache caches serialized search results in Redis and collapses
// concurrent misses for the same key into one store query. Cache errors
// degrade to a live search, never to a failed request.
type ResultCache struct {
	backend cacheBackend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResultCache creates a ResultCache. m may be nil.
func NewResultCache(backend cacheBackend, ttl time.Duration, m *metrics.Metrics) *ResultCache {
	return &ResultCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "search-cache"),
	}
}

// resultKeyPrefix namespaces every cached search result. The rollup-side
// invalidator flushes the whole namespace, so any new key shape must stay
// under this prefix.
const resultKeyPrefix = "search:artist:"

// cacheKey builds the cache key from the full parameter set. Results are
// personalised, so the user id and both boost flags are part of the
// identity.
func cacheKey(p Params) string {
	return fmt.Sprintf("%s%s:%d:%d:%s:%t:%t",
		resultKeyPrefix, strings.ToLower(p.Term), p.From, p.Size, p.UserID, p.IncludeRanking, p.IncludeUserProfile)
}

// Fetch returns the cached result for p, or runs live once per key and
// caches what it returns.
func (c *ResultCache) Fetch(ctx context.Context, p Params, live func(ctx context.Context) ([]model.ArtistDocument, error)) ([]model.ArtistDocument, bool, error) {
	key := cacheKey(p)

	// Only an absent or unusable entry counts as a miss. Read failures are
	// logged and excluded from the hit ratio.
	miss := false
	if cached, err := c.backend.Get(ctx, key); err == nil {
		var docs []model.ArtistDocument
		if err := json.Unmarshal([]byte(cached), &docs); err == nil {
			if c.metrics != nil {
				c.metrics.CacheHitsTotal.Inc()
			}
			return docs, true, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
		miss = true
	} else if redis.IsNilError(err) {
		miss = true
	} else {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}

	if miss && c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		docs, err := live(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(docs); err == nil {
			if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
				c.logger.Warn("cache write failed", "key", key, "error", err)
			}
		}
		return docs, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]model.ArtistDocument), false, nil
}
