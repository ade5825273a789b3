package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"

	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/elastic"
	apperrors "github.com/listenlab/artistrank/pkg/errors"
	"github.com/listenlab/artistrank/pkg/metrics"
)

var (
	testBuckets = config.BucketConfig{
		CatalogIndex:     "content",
		UserProfileIndex: "user-profile",
	}
	testSearchCfg = config.SearchConfig{DefaultSize: 10, MaxSize: 1000}
)

type fakeStore struct {
	profiles  map[string]json.RawMessage
	hits      []elastic.Hit
	searchErr error
	getErr    error

	searches  int
	lastIndex string
	lastBody  map[string]any
	lastGet   string
}

func (f *fakeStore) Get(ctx context.Context, index, id string) (json.RawMessage, bool, error) {
	f.lastGet = index + "/" + id
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	raw, ok := f.profiles[id]
	return raw, ok, nil
}

func (f *fakeStore) Search(ctx context.Context, index string, body any) (*elastic.SearchResult, error) {
	f.searches++
	f.lastIndex = index
	f.lastBody = body.(map[string]any)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return elastic.NewSearchResult(f.hits, int64(len(f.hits)), nil), nil
}

func artistHit(id, name string, ranking int64, score float64) elastic.Hit {
	source, _ := json.Marshal(model.ArtistDocument{ArtistID: id, ArtistName: name, Ranking: ranking})
	return elastic.Hit{Index: "content", ID: id, Score: score, Source: source}
}

func newTestService(store *fakeStore, cache *ResultCache) *Service {
	return NewService(store, cache, testBuckets, testSearchCfg, nil)
}

func TestSearchRequiresTerm(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)
	_, err := svc.Search(context.Background(), Params{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Search without term = %v, want ErrInvalidInput", err)
	}
}

func TestSearchRejectsNegativeFrom(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)
	_, err := svc.Search(context.Background(), Params{Term: "Meta", From: -1})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Search with negative from = %v, want ErrInvalidInput", err)
	}
}

func TestSearchMapsHitsWithScores(t *testing.T) {
	store := &fakeStore{hits: []elastic.Hit{
		artistHit("artistA", "Metallica", 300, 4.2),
		artistHit("artistB", "Metal Church", 10, 1.7),
	}}
	svc := newTestService(store, nil)

	docs, err := svc.Search(context.Background(), Params{Term: "Meta"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if store.lastIndex != "content" {
		t.Errorf("searched index %q, want content", store.lastIndex)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	if docs[0].ArtistName != "Metallica" || docs[0].Score != 4.2 {
		t.Errorf("first doc = %+v, want Metallica with score 4.2", docs[0])
	}
	if docs[1].Ranking != 10 {
		t.Errorf("second doc ranking = %d, want 10", docs[1].Ranking)
	}
}

func TestSearchSizeDefaultsAndCap(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, nil)

	if _, err := svc.Search(context.Background(), Params{Term: "Meta"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := store.lastBody["size"]; got != 10 {
		t.Errorf("default size = %v, want 10", got)
	}

	if _, err := svc.Search(context.Background(), Params{Term: "Meta", Size: 5000}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := store.lastBody["size"]; got != 1000 {
		t.Errorf("capped size = %v, want 1000", got)
	}
}

func TestSearchUnknownUserIsUnpersonalised(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, nil)

	p := Params{Term: "Meta", UserID: "stranger", IncludeUserProfile: true}
	if _, err := svc.Search(context.Background(), p); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := store.lastBody["query"].(map[string]any)["function_score"]; ok {
		t.Error("unknown user still produced score functions")
	}
}

func TestSearchKnownUserIsPersonalised(t *testing.T) {
	profile, _ := json.Marshal(model.UserProfile{
		UserID:         "user-1",
		ArtistRankings: []model.ArtistRanking{{ArtistID: "artistA", Ranking: 8}},
	})
	store := &fakeStore{profiles: map[string]json.RawMessage{"user-1": profile}}
	svc := newTestService(store, nil)

	p := Params{Term: "Meta", UserID: "user-1", IncludeUserProfile: true}
	if _, err := svc.Search(context.Background(), p); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if store.lastGet != "user-profile/user-1" {
		t.Errorf("profile fetched from %q, want user-profile/user-1", store.lastGet)
	}
	functions := dig(t, store.lastBody, "query", "function_score").(map[string]any)["functions"].([]any)
	if len(functions) != 1 {
		t.Errorf("known user produced %d score functions, want 1", len(functions))
	}
}

func TestSearchProfileSkippedWithoutFlag(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, nil)

	if _, err := svc.Search(context.Background(), Params{Term: "Meta", UserID: "user-1"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if store.lastGet != "" {
		t.Errorf("profile fetched (%q) although includeUserProfile was off", store.lastGet)
	}
}

func TestSearchProfileFailureDegradesToUnpersonalised(t *testing.T) {
	store := &fakeStore{getErr: errors.New("profile store down")}
	svc := newTestService(store, nil)

	p := Params{Term: "Meta", UserID: "user-1", IncludeUserProfile: true}
	docs, err := svc.Search(context.Background(), p)
	if err != nil {
		t.Fatalf("Search with failing profile lookup: %v", err)
	}
	if docs == nil {
		t.Error("expected empty result, got nil")
	}
}

func TestSearchStoreFailureSurfaces(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("store down")}
	svc := newTestService(store, nil)

	if _, err := svc.Search(context.Background(), Params{Term: "Meta"}); err == nil {
		t.Fatal("Search returned nil on store failure")
	}
}

type fakeCacheBackend struct {
	entries map[string]string
	sets    int
}

func (f *fakeCacheBackend) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.entries[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeCacheBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.sets++
	f.entries[key] = string(value.([]byte))
	return nil
}

func TestSearchCachesResults(t *testing.T) {
	backend := &fakeCacheBackend{entries: make(map[string]string)}
	store := &fakeStore{hits: []elastic.Hit{artistHit("artistA", "Metallica", 300, 4.2)}}
	svc := newTestService(store, NewResultCache(backend, time.Minute, nil))

	first, err := svc.Search(context.Background(), Params{Term: "Meta"})
	if err != nil {
		t.Fatalf("first Search: %v", err)
	}
	second, err := svc.Search(context.Background(), Params{Term: "Meta"})
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}

	if store.searches != 1 {
		t.Errorf("store searched %d times, want 1 (second call cached)", store.searches)
	}
	if backend.sets != 1 {
		t.Errorf("cache written %d times, want 1", backend.sets)
	}
	if len(first) != 1 || len(second) != 1 || second[0].ArtistName != first[0].ArtistName {
		t.Errorf("cached result %+v differs from live result %+v", second, first)
	}
}

type failingCacheBackend struct{ err error }

func (f *failingCacheBackend) Get(ctx context.Context, key string) (string, error) {
	return "", f.err
}

func (f *failingCacheBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return f.err
}

func TestCacheReadErrorsAreNotCountedAsMisses(t *testing.T) {
	m := metrics.New()
	store := &fakeStore{hits: []elastic.Hit{artistHit("artistA", "Metallica", 300, 4.2)}}

	// A failing cache degrades to a live search and leaves both counters
	// untouched.
	broken := newTestService(store, NewResultCache(&failingCacheBackend{err: errors.New("redis timeout")}, time.Minute, m))
	if _, err := broken.Search(context.Background(), Params{Term: "Meta"}); err != nil {
		t.Fatalf("Search with failing cache: %v", err)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal); got != 0 {
		t.Errorf("cache read error counted as %v misses, want 0", got)
	}

	// An absent entry is a true miss.
	healthy := newTestService(store, NewResultCache(&fakeCacheBackend{entries: make(map[string]string)}, time.Minute, m))
	if _, err := healthy.Search(context.Background(), Params{Term: "Meta"}); err != nil {
		t.Fatalf("Search with empty cache: %v", err)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal); got != 1 {
		t.Errorf("empty cache produced %v misses, want 1", got)
	}
}

func TestSearchCacheKeyCoversParams(t *testing.T) {
	base := Params{Term: "Meta", Size: 10}
	variants := []Params{
		{Term: "Meta", Size: 20},
		{Term: "Meta", Size: 10, From: 10},
		{Term: "Meta", Size: 10, UserID: "user-1"},
		{Term: "Meta", Size: 10, IncludeRanking: true},
		{Term: "Meta", Size: 10, IncludeUserProfile: true},
		{Term: "Metb", Size: 10},
	}
	for _, v := range variants {
		if cacheKey(base) == cacheKey(v) {
			t.Errorf("cache key for %+v collides with base params", v)
		}
	}
}

func newTestHTTPHandler(store *fakeStore) http.Handler {
	mux := http.NewServeMux()
	NewHandler(newTestService(store, nil)).Register(mux)
	return mux
}

func TestHandleSearchOK(t *testing.T) {
	store := &fakeStore{hits: []elastic.Hit{artistHit("artistA", "Metallica", 300, 4.2)}}
	h := newTestHTTPHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/artist?q=Meta&size=5&includeRanking=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var resp searchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 1 || resp.Results[0].ArtistName != "Metallica" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Results[0].Score == 0 {
		t.Error("result score missing from response")
	}
	if _, ok := store.lastBody["query"].(map[string]any)["function_score"]; !ok {
		t.Error("includeRanking=true did not enable the popularity boost")
	}
}

func TestHandleSearchBadRequest(t *testing.T) {
	h := newTestHTTPHandler(&fakeStore{})
	for _, target := range []string{
		"/api/v1/search/artist",
		"/api/v1/search/artist?q=Meta&size=abc",
		"/api/v1/search/artist?q=Meta&from=abc",
		"/api/v1/search/artist?q=Meta&includeRanking=maybe",
		"/api/v1/search/artist?q=Meta&includeUserProfile=2x",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}
