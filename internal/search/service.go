package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/elastic"
	"github.com/listenlab/artistrank/pkg/errors"
	"github.com/listenlab/artistrank/pkg/metrics"
	"github.com/listenlab/artistrank/pkg/resilience"
)

// Store is the slice of the document store the search service needs.
type Store interface {
	Get(ctx context.Context, index, id string) (json.RawMessage, bool, error)
	Search(ctx context.Context, index string, body any) (*elastic.SearchResult, error)
}

// Params identifies one artist search. Term is required; the boolean flags
// switch the popularity and personalisation factors on.
type Params struct {
	Term               string
	UserID             string
	From               int
	Size               int
	IncludeRanking     bool
	IncludeUserProfile bool
}

// Service executes relevance-ranked artist searches with optional
// personalisation and caching.
type Service struct {
	store   Store
	cache   *ResultCache
	breaker *resilience.CircuitBreaker
	buckets config.BucketConfig
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates a Service. cache and m may be nil; a nil cache means
// every request searches live.
func NewService(store Store, cache *ResultCache, buckets config.BucketConfig, cfg config.SearchConfig, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		cache:   cache,
		breaker: resilience.NewCircuitBreaker("artist-search", resilience.CircuitBreakerConfig{}),
		buckets: buckets,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "search-service"),
	}
}

// Search runs one artist lookup. The term is required; size falls back to
// the configured default and is capped at the configured maximum rather
// than rejected.
func (s *Service) Search(ctx context.Context, p Params) ([]model.ArtistDocument, error) {
	if p.Term == "" {
		return nil, fmt.Errorf("%w: q is required", errors.ErrInvalidInput)
	}
	if p.From < 0 {
		return nil, fmt.Errorf("%w: from must be >= 0", errors.ErrInvalidInput)
	}
	if p.Size <= 0 {
		p.Size = s.cfg.DefaultSize
	}
	if p.Size > s.cfg.MaxSize {
		p.Size = s.cfg.MaxSize
	}

	start := time.Now()
	if s.cache == nil {
		docs, err := s.searchLive(ctx, p)
		s.observe(docs, err, "bypass", start)
		return docs, err
	}

	docs, hit, err := s.cache.Fetch(ctx, p, func(ctx context.Context) ([]model.ArtistDocument, error) {
		return s.searchLive(ctx, p)
	})
	status := "miss"
	if hit {
		status = "hit"
	}
	s.observe(docs, err, status, start)
	return docs, err
}

// searchLive loads the caller's profile when personalisation is requested,
// builds the scored query, and executes it through the circuit breaker.
func (s *Service) searchLive(ctx context.Context, p Params) ([]model.ArtistDocument, error) {
	var profile *model.UserProfile
	if p.IncludeUserProfile && p.UserID != "" {
		loaded, err := s.loadProfile(ctx, p.UserID)
		if err != nil {
			// Personalisation is best-effort; an unreachable profile never
			// blocks the search itself.
			s.logger.Warn("profile lookup failed, searching unpersonalised",
				"user_id", p.UserID,
				"error", err,
			)
		} else {
			profile = loaded
		}
	}

	body := BuildQuery(p, profile)

	var result *elastic.SearchResult
	err := s.breaker.Execute(func() error {
		var searchErr error
		result, searchErr = s.store.Search(ctx, s.buckets.CatalogIndex, body)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("searching artists for %q: %w", p.Term, err)
	}

	docs := make([]model.ArtistDocument, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var doc model.ArtistDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			s.logger.Error("skipping undecodable catalog document",
				"index", hit.Index,
				"id", hit.ID,
				"error", err,
			)
			continue
		}
		doc.Score = hit.Score
		docs = append(docs, doc)
	}
	return docs, nil
}

// loadProfile fetches the caller's profile; a missing or malformed profile
// yields nil, which disables personalisation.
func (s *Service) loadProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	raw, found, err := s.store.Get(ctx, s.buckets.UserProfileIndex, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var profile model.UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		s.logger.Warn("discarding malformed profile", "user_id", userID, "error", err)
		return nil, nil
	}
	return &profile, nil
}

func (s *Service) observe(docs []model.ArtistDocument, err error, cacheStatus string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
	case len(docs) == 0:
		s.metrics.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
	default:
		s.metrics.SearchQueriesTotal.WithLabelValues("hit").Inc()
	}
}
