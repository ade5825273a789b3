package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/resilience"
)

var testBuckets = config.BucketConfig{
	ListenEventPrefix:   "listen-event-",
	ListenEventDuration: 5,
}

type indexedDoc struct {
	index string
	id    string
	doc   any
}

type fakeWriter struct {
	docs     []indexedDoc
	failures int // number of calls to fail before succeeding
	err      error
}

func (f *fakeWriter) Index(ctx context.Context, index, id string, doc any) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	f.docs = append(f.docs, indexedDoc{index: index, id: id, doc: doc})
	return nil
}

func newTestIndexer(w *fakeWriter, at time.Time) *Indexer {
	ix := NewIndexer(w, testBuckets, nil)
	ix.now = func() time.Time { return at }
	// keep retry delays out of test runtime
	ix.retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Microsecond, MaxDelay: time.Millisecond, Multiplier: 2}
	return ix
}

func TestIndexEventWritesToCurrentBucket(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC)
	ix := newTestIndexer(w, at)

	event := model.ListenEvent{
		ArtistID:  "artist-1",
		SongID:    "song-1",
		UserID:    "user-1",
		Timestamp: model.At(at),
	}
	if err := ix.IndexEvent(context.Background(), event); err != nil {
		t.Fatalf("IndexEvent: %v", err)
	}

	if len(w.docs) != 1 {
		t.Fatalf("indexed %d docs, want 1", len(w.docs))
	}
	if w.docs[0].index != "listen-event-2020-05-14-18-30" {
		t.Errorf("indexed into %q, want listen-event-2020-05-14-18-30", w.docs[0].index)
	}
	if w.docs[0].id != "" {
		t.Errorf("indexed with id %q, want store-generated id", w.docs[0].id)
	}
}

func TestIndexEventStampsMissingTimestamp(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC)
	ix := newTestIndexer(w, at)

	if err := ix.IndexEvent(context.Background(), model.ListenEvent{ArtistID: "a", SongID: "s", UserID: "u"}); err != nil {
		t.Fatalf("IndexEvent: %v", err)
	}
	stored := w.docs[0].doc.(model.ListenEvent)
	if !stored.Timestamp.Equal(at) {
		t.Errorf("stored timestamp = %v, want %v", stored.Timestamp, at)
	}
}

func TestIndexEventRetriesTransientFailure(t *testing.T) {
	w := &fakeWriter{failures: 2, err: errors.New("store busy")}
	ix := newTestIndexer(w, time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC))

	if err := ix.IndexEvent(context.Background(), model.ListenEvent{ArtistID: "a", SongID: "s", UserID: "u"}); err != nil {
		t.Fatalf("IndexEvent after transient failures: %v", err)
	}
	if len(w.docs) != 1 {
		t.Errorf("indexed %d docs after retries, want 1", len(w.docs))
	}
}

func TestIndexEventGivesUpAfterRetries(t *testing.T) {
	w := &fakeWriter{failures: 10, err: errors.New("store down")}
	ix := newTestIndexer(w, time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC))

	if err := ix.IndexEvent(context.Background(), model.ListenEvent{ArtistID: "a", SongID: "s", UserID: "u"}); err == nil {
		t.Fatal("IndexEvent returned nil after exhausting retries")
	}
}

func TestHandlerSkipsEmptyAndMalformedMessages(t *testing.T) {
	w := &fakeWriter{}
	ix := newTestIndexer(w, time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC))
	handler := ix.Handler()

	for _, value := range [][]byte{nil, []byte(""), []byte("   \n"), []byte("{not json")} {
		if err := handler(context.Background(), []byte("user-1"), value); err != nil {
			t.Errorf("handler(%q) = %v, want nil (skip)", value, err)
		}
	}
	if len(w.docs) != 0 {
		t.Errorf("skipped messages still indexed %d docs", len(w.docs))
	}
}

func TestHandlerIndexesDecodedMessage(t *testing.T) {
	w := &fakeWriter{}
	ix := newTestIndexer(w, time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC))
	handler := ix.Handler()

	value := []byte(`{"artist_id":"artist-1","song_id":"song-1","user_id":"user-1","timestamp":"2020-05-14T18:32:10.000"}`)
	if err := handler(context.Background(), []byte("user-1"), value); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(w.docs) != 1 {
		t.Fatalf("indexed %d docs, want 1", len(w.docs))
	}
	stored := w.docs[0].doc.(model.ListenEvent)
	if stored.ArtistID != "artist-1" || stored.UserID != "user-1" {
		t.Errorf("stored event = %+v", stored)
	}
}

func TestHandlerReturnsErrorOnStoreFailure(t *testing.T) {
	w := &fakeWriter{failures: 10, err: errors.New("store down")}
	ix := newTestIndexer(w, time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC))
	handler := ix.Handler()

	value := []byte(`{"artist_id":"a","song_id":"s","user_id":"u"}`)
	if err := handler(context.Background(), nil, value); err == nil {
		t.Fatal("handler returned nil on store failure, message would be committed")
	}
}
