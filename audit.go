package authflow

import (
	"io"

	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/internal/audit"
)

// AuditEvent is one security-relevant record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink returns a sink that logs events through logger.
func NewZapSink(logger *zap.Logger) *audit.ZapSink {
	return audit.NewZapSink(logger)
}

// NewKafkaSink returns a sink publishing events to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *audit.KafkaSink {
	return audit.NewKafkaSink(audit.NewKafkaWriter(brokers, logger), topic, logger)
}
