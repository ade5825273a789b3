package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenlab/artistrank/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Event is one record bound for a topic. Key selects the partition via hash
// balancing; listen events keyed by user keep one listener's stream on a
// single partition. Value is marshaled as JSON.
type Event struct {
	Key   string
	Value any
}

// Producer writes JSON records to a single topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer builds a Producer for topic. Writes are synchronous and
// acknowledged by all replicas; a lost listen event would skew every rollup
// after it.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish marshals one event and writes it, blocking until acknowledged.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("marshaling event value: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("event publish failed",
			"key", event.Key,
			"error", err,
		)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("event published",
		"key", event.Key,
		"value_size", len(value),
	)
	return nil
}

// PublishBatch writes all events in one call. The whole batch is accepted or
// rejected together; a repeated listen never lands partially.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return fmt.Errorf("marshaling event value: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.Key),
			Value: value,
		})
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("event batch publish failed",
			"count", len(messages),
			"error", err,
		)
		return fmt.Errorf("publishing batch to kafka: %w", err)
	}
	p.logger.Debug("event batch published", "count", len(messages))
	return nil
}

// Close flushes pending records and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
