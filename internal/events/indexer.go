// Package events consumes listen events from Kafka and writes each one into
// the current time-bucketed event index. Indexing is fire-and-forget from
// the producer's point of view; the consumer retries transient store
// failures before giving up on a message.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/listenlab/artistrank/internal/bucket"
	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/kafka"
	"github.com/listenlab/artistrank/pkg/metrics"
	"github.com/listenlab/artistrank/pkg/resilience"
)

// EventWriter is the slice of the document store the indexer needs.
type EventWriter interface {
	Index(ctx context.Context, index, id string, doc any) error
}

// Indexer turns Kafka messages into documents in the current event bucket.
type Indexer struct {
	writer  EventWriter
	buckets config.BucketConfig
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewIndexer creates an Indexer. m may be nil.
func NewIndexer(writer EventWriter, buckets config.BucketConfig, m *metrics.Metrics) *Indexer {
	return &Indexer{
		writer:  writer,
		buckets: buckets,
		retry:   resilience.DefaultRetryConfig(),
		metrics: m,
		logger:  slog.Default().With("component", "event-indexer"),
		now:     time.Now,
	}
}

// Handler returns the Kafka message handler. Empty messages and messages
// that fail to decode are logged and skipped so one bad payload can never
// wedge the partition; a store failure after retries is returned so the
// message is not committed.
func (ix *Indexer) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		if len(strings.TrimSpace(string(value))) == 0 {
			ix.logger.Warn("skipping empty event message", "key", string(key))
			ix.observe("skipped")
			return nil
		}

		event, err := kafka.DecodeJSON[model.ListenEvent](value)
		if err != nil {
			ix.logger.Error("skipping undecodable event message",
				"key", string(key),
				"error", err,
			)
			ix.observe("skipped")
			return nil
		}

		if err := ix.IndexEvent(ctx, event); err != nil {
			ix.observe("failure")
			return err
		}
		ix.observe("success")
		return nil
	}
}

// IndexEvent writes one event into the bucket for the current instant. An
// event arriving without a timestamp is stamped on arrival; the bucket is
// always chosen by arrival time, not event time, so late replays never
// reopen a closed bucket behind the aggregator's back.
func (ix *Indexer) IndexEvent(ctx context.Context, event model.ListenEvent) error {
	now := ix.now()
	if event.Timestamp.IsZero() {
		event.Timestamp = model.At(now.UTC())
	}
	index := bucket.IndexNameAt(ix.buckets.ListenEventPrefix, ix.buckets.ListenEventDuration, now)

	err := resilience.Retry(ctx, ix.retry, "index listen event", func() error {
		return ix.writer.Index(ctx, index, "", event)
	})
	if err != nil {
		return fmt.Errorf("indexing listen event into %s: %w", index, err)
	}

	ix.logger.Debug("listen event indexed",
		"index", index,
		"artist_id", event.ArtistID,
		"user_id", event.UserID,
	)
	return nil
}

func (ix *Indexer) observe(status string) {
	if ix.metrics != nil {
		ix.metrics.EventsIndexedTotal.WithLabelValues(status).Inc()
	}
}
