package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// KafkaMessage is the value written for each record.
type KafkaMessage struct {
	Session  string       `json:"session"`
	Decision logic.Record `json:"decision"`
}

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams records to a Kafka topic keyed by controller session.
type KafkaSink struct {
	w       messageWriter
	session string
}

// NewKafkaSink creates a synchronous writer for the topic.
func NewKafkaSink(brokers []string, topic, session string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaSink{w: w, session: session}
}

// Record writes one message.
func (s *KafkaSink) Record(ctx context.Context, rec logic.Record) error {
	b, err := json.Marshal(KafkaMessage{Session: s.session, Decision: rec})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	msg := kafka.Message{Key: []byte(s.session), Value: b, Time: rec.Timestamp}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
