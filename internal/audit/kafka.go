package audit

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes events as JSON keyed by user id, so one user's events
// stay ordered within a partition.
type KafkaSink struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaWriter builds the producer used by KafkaSink.
func NewKafkaWriter(brokers []string, logger *zap.Logger) *kafka.Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write audit messages",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}
}

// NewKafkaSink publishes to topic. A zero topic means the writer's own Topic
// is used.
func NewKafkaSink(w MessageWriter, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, topic: topic, timeout: 5 * time.Second, logger: logger}
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("audit publish failed",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the writer when it supports it.
func (s *KafkaSink) Close() error {
	if s == nil {
		return nil
	}
	if c, ok := s.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
