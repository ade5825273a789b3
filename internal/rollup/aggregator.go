// Package rollup implements the periodic aggregation cycle that folds a
// closed bucket of raw listen events into durable ranking state: the global
// catalog, the daily ranking-history bucket, and per-user profiles.
package rollup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/listenlab/artistrank/internal/bucket"
	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/elastic"
	"github.com/listenlab/artistrank/pkg/metrics"
)

// Store is the slice of the document store the aggregator needs.
type Store interface {
	Get(ctx context.Context, index, id string) (json.RawMessage, bool, error)
	Bulk(ctx context.Context, ops []elastic.BulkOp) (*elastic.BulkResult, error)
	Search(ctx context.Context, index string, body any) (*elastic.SearchResult, error)
}

// CycleResult summarises one completed rollup cycle.
type CycleResult struct {
	BucketIndex    string        `json:"bucket_index"`
	ArtistsUpdated int           `json:"artists_updated"`
	UsersUpdated   int           `json:"users_updated"`
	BulkOps        int           `json:"bulk_ops"`
	BulkFailures   int           `json:"bulk_failures"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// Aggregator reads the previous listen-event bucket and writes incremental
// ranking updates. Callers must not run two cycles concurrently; the
// Scheduler enforces that.
type Aggregator struct {
	store   Store
	buckets config.BucketConfig
	limit   int
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator creates an Aggregator. metrics may be nil.
func NewAggregator(store Store, buckets config.BucketConfig, rollupCfg config.RollupConfig, m *metrics.Metrics) *Aggregator {
	limit := rollupCfg.AggregationLimit
	if limit <= 0 {
		limit = 1000
	}
	return &Aggregator{
		store:   store,
		buckets: buckets,
		limit:   limit,
		metrics: m,
		logger:  slog.Default().With("component", "rollup-aggregator"),
		now:     time.Now,
	}
}

// RunCycle executes one full rollup: aggregate the previous event bucket,
// build the batch of ranking updates, and execute it. A store failure on the
// aggregation query aborts the cycle; individual batch item failures are
// logged and reported in the result but never abort sibling writes.
func (a *Aggregator) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := a.now()
	eventIndex := bucket.PreviousIndexNameAt(a.buckets.ListenEventPrefix, a.buckets.ListenEventDuration, start)
	a.logger.Info("rollup cycle starting", "event_index", eventIndex)

	rollup, err := a.aggregateEvents(ctx, eventIndex)
	if err != nil {
		a.observeCycle("failure", start)
		return nil, fmt.Errorf("aggregating events from %s: %w", eventIndex, err)
	}

	result := &CycleResult{
		BucketIndex:    eventIndex,
		ArtistsUpdated: len(rollup.ArtistCounts),
		UsersUpdated:   len(rollup.UserArtistCounts),
		StartedAt:      start,
	}

	if rollup.Empty() {
		a.logger.Info("rollup cycle found no events", "event_index", eventIndex)
		result.Duration = a.now().Sub(start)
		a.observeCycle("success", start)
		return result, nil
	}

	ops, err := a.buildOps(ctx, rollup, start)
	if err != nil {
		a.observeCycle("failure", start)
		return nil, fmt.Errorf("building rollup batch: %w", err)
	}
	result.BulkOps = len(ops)

	if len(ops) > 0 {
		bulkResult, err := a.store.Bulk(ctx, ops)
		if err != nil {
			a.observeCycle("failure", start)
			return nil, fmt.Errorf("executing rollup batch: %w", err)
		}
		failures := bulkResult.Failures()
		result.BulkFailures = len(failures)
		for _, item := range failures {
			a.logger.Error("rollup batch item failed",
				"index", item.Index,
				"id", item.ID,
				"status", item.Status,
				"reason", item.Error,
			)
		}
		if a.metrics != nil {
			a.metrics.RollupBulkItemsTotal.WithLabelValues("success").Add(float64(len(ops) - len(failures)))
			a.metrics.RollupBulkItemsTotal.WithLabelValues("failure").Add(float64(len(failures)))
		}
	}

	result.Duration = a.now().Sub(start)
	a.observeCycle("success", start)
	a.logger.Info("rollup cycle finished",
		"event_index", eventIndex,
		"artists", result.ArtistsUpdated,
		"users", result.UsersUpdated,
		"bulk_ops", result.BulkOps,
		"bulk_failures", result.BulkFailures,
		"duration", result.Duration,
	)
	return result, nil
}

// aggregateEvents issues the single aggregation query over the closed event
// bucket: match_all with a terms aggregation per artist and a per-user terms
// aggregation nested with per-artist counts. A missing index simply yields
// an empty rollup.
func (a *Aggregator) aggregateEvents(ctx context.Context, index string) (*model.Rollup, error) {
	body := map[string]any{
		"size":  0,
		"query": map[string]any{"match_all": map[string]any{}},
		"aggs": map[string]any{
			"artist_rankings": map[string]any{
				"terms": map[string]any{"field": "artist_id", "size": a.limit},
			},
			"users": map[string]any{
				"terms": map[string]any{"field": "user_id", "size": a.limit},
				"aggs": map[string]any{
					"artist_rankings": map[string]any{
						"terms": map[string]any{"field": "artist_id", "size": a.limit},
					},
				},
			},
		},
	}

	resp, err := a.store.Search(ctx, index, body)
	if err != nil {
		return nil, err
	}

	rollup := &model.Rollup{
		ArtistCounts:     make(map[string]int64),
		UserArtistCounts: make(map[string][]model.ArtistRanking),
	}
	for _, b := range resp.Terms("artist_rankings") {
		rollup.ArtistCounts[b.Key] = b.DocCount
	}
	for _, userBucket := range resp.Terms("users") {
		increments := make([]model.ArtistRanking, 0)
		for _, artistBucket := range userBucket.Terms("artist_rankings") {
			increments = append(increments, model.ArtistRanking{
				ArtistID: artistBucket.Key,
				Ranking:  artistBucket.DocCount,
			})
		}
		rollup.UserArtistCounts[userBucket.Key] = increments
	}
	return rollup, nil
}

// buildOps turns the rollup into one batch of writes: a conditional
// increment on the catalog record per artist, a create-or-increment on the
// current history bucket, and a merged upsert per user profile.
func (a *Aggregator) buildOps(ctx context.Context, rollup *model.Rollup, now time.Time) ([]elastic.BulkOp, error) {
	historyIndex := bucket.IndexNameAt(a.buckets.RankingHistoryPrefix, a.buckets.RankingHistoryDuration, now)
	ops := make([]elastic.BulkOp, 0, len(rollup.ArtistCounts)*2+len(rollup.UserArtistCounts))

	for _, artistID := range sortedKeys(rollup.ArtistCounts) {
		count := rollup.ArtistCounts[artistID]

		// catalog: the record exists independently of rankings, so the
		// increment-or-initialize runs store-side against it.
		ops = append(ops, elastic.BulkOp{
			Index:  a.buckets.CatalogIndex,
			ID:     artistID,
			Action: elastic.ActionIncrement,
			Field:  "ranking",
			Delta:  count,
		})

		// history bucket: the first increment of a window creates the
		// document, later ones add to it.
		_, found, err := a.store.Get(ctx, historyIndex, artistID)
		if err != nil {
			return nil, fmt.Errorf("reading history record %s/%s: %w", historyIndex, artistID, err)
		}
		if !found {
			ops = append(ops, elastic.BulkOp{
				Index:  historyIndex,
				ID:     artistID,
				Action: elastic.ActionUpsert,
				Doc:    model.ArtistRanking{ArtistID: artistID, Ranking: count},
			})
		} else {
			ops = append(ops, elastic.BulkOp{
				Index:  historyIndex,
				ID:     artistID,
				Action: elastic.ActionIncrement,
				Field:  "ranking",
				Delta:  count,
			})
		}
	}

	for _, userID := range sortedUserKeys(rollup.UserArtistCounts) {
		increments := rollup.UserArtistCounts[userID]
		profile, err := a.loadProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		profile.Merge(increments)
		ops = append(ops, elastic.BulkOp{
			Index:  a.buckets.UserProfileIndex,
			ID:     userID,
			Action: elastic.ActionUpsert,
			Doc:    profile,
		})
	}

	return ops, nil
}

// loadProfile fetches a user profile, returning a fresh empty one when the
// user has never been aggregated before.
func (a *Aggregator) loadProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	raw, found, err := a.store.Get(ctx, a.buckets.UserProfileIndex, userID)
	if err != nil {
		return nil, fmt.Errorf("reading profile for %s: %w", userID, err)
	}
	profile := &model.UserProfile{UserID: userID}
	if found {
		if err := json.Unmarshal(raw, profile); err != nil {
			return nil, fmt.Errorf("decoding profile for %s: %w", userID, err)
		}
		profile.UserID = userID
	}
	return profile, nil
}

func (a *Aggregator) observeCycle(status string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RollupCyclesTotal.WithLabelValues(status).Inc()
	a.metrics.RollupCycleDuration.Observe(a.now().Sub(start).Seconds())
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedUserKeys(m map[string][]model.ArtistRanking) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
