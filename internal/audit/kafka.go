package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig selects brokers and topic for the audit stream.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Async        bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes envelopes keyed by instrument. Publish failures are
// logged; the trading loop never waits on a retry.
type KafkaRecorder struct {
	writer  messageWriter
	timeout time.Duration
	log     zerolog.Logger
}

// NewKafkaRecorder builds a hash-balanced writer so one instrument stays on one partition.
func NewKafkaRecorder(cfg KafkaConfig, log zerolog.Logger) (*KafkaRecorder, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: timeout,
		BatchTimeout: 100 * time.Millisecond,
		Async:        cfg.Async,
	}
	return newKafkaRecorder(w, timeout, log), nil
}

func newKafkaRecorder(w messageWriter, timeout time.Duration, log zerolog.Logger) *KafkaRecorder {
	return &KafkaRecorder{writer: w, timeout: timeout, log: log.With().Str("component", "audit_kafka").Logger()}
}

// Write publishes one envelope.
func (k *KafkaRecorder) Write(e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		k.log.Error().Err(err).Str("kind", string(e.Kind)).Msg("encode audit event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Time:  e.Ts,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Error().Err(err).Str("kind", string(e.Kind)).Str("key", e.Key()).Msg("publish audit event")
	}
}

// Close flushes pending batches.
func (k *KafkaRecorder) Close() error {
	return k.writer.Close()
}
