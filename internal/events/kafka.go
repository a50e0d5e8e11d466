package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medrex/medchain/pkg/config"
	"github.com/medrex/medchain/pkg/types"
	"github.com/segmentio/kafka-go"
)

const eventSource = "medchain"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each notification as one JSON message keyed by event id
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a synchronous producer for cfg.Topic
func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaSink{writer: writer, topic: cfg.Topic}
}

// Name identifies the sink in logs and metrics
func (s *KafkaSink) Name() string { return "kafka" }

// Deliver writes the event to the topic
func (s *KafkaSink) Deliver(ctx context.Context, event types.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "source", Value: []byte(eventSource)},
		},
	}
	if err := s.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write to topic %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
