// Package ingestion accepts listen events over HTTP and publishes them to
// Kafka. It never touches the document store; the indexer consumes the
// topic and writes the events into the current time bucket.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/errors"
	"github.com/listenlab/artistrank/pkg/kafka"
	"github.com/listenlab/artistrank/pkg/metrics"
)

// maxRepeatCount bounds the count request parameter so a single call cannot
// flood the topic.
const maxRepeatCount = 1000

// Publisher is the slice of the Kafka producer the service needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Service validates listen events and publishes them.
type Service struct {
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() model.Timestamp
}

// NewService creates a Service. m may be nil.
func NewService(publisher Publisher, m *metrics.Metrics) *Service {
	return &Service{
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "ingestion-service"),
		now:       model.Now,
	}
}

// Accept validates the event, stamps a missing timestamp with the current
// instant, and publishes count copies keyed by user id. The repeat count
// exists for load generation and backfill tooling; normal producers send 1.
func (s *Service) Accept(ctx context.Context, event model.ListenEvent, count int) (model.ListenEvent, error) {
	if err := validate(event, count); err != nil {
		return event, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	events := make([]kafka.Event, count)
	for i := range events {
		events[i] = kafka.Event{Key: event.UserID, Value: event}
	}
	if err := s.publisher.PublishBatch(ctx, events); err != nil {
		return event, fmt.Errorf("%w: %v", errors.ErrPublishFailed, err)
	}

	if s.metrics != nil {
		s.metrics.EventsPublishedTotal.Add(float64(count))
	}
	s.logger.Debug("listen event accepted",
		"artist_id", event.ArtistID,
		"user_id", event.UserID,
		"count", count,
	)
	return event, nil
}

func validate(event model.ListenEvent, count int) error {
	switch {
	case event.ArtistID == "":
		return fmt.Errorf("%w: artist_id is required", errors.ErrInvalidInput)
	case event.SongID == "":
		return fmt.Errorf("%w: song_id is required", errors.ErrInvalidInput)
	case event.UserID == "":
		return fmt.Errorf("%w: user_id is required", errors.ErrInvalidInput)
	case count < 1:
		return fmt.Errorf("%w: count must be >= 1", errors.ErrInvalidInput)
	case count > maxRepeatCount:
		return fmt.Errorf("%w: count must be <= %d", errors.ErrInvalidInput, maxRepeatCount)
	}
	return nil
}
