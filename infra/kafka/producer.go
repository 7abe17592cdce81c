// Package kafka adapts Kafka clients to the hub: sinks that forward
// envelopes out of the hub and a consumer that feeds external messages in.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer is a sink backed by a kafka-go writer. The broadcaster keys
// every message by its envelope topic, so with the default hash balancer
// all envelopes of one topic land on one partition in sequence order.
type Producer struct {
	writer *kafka.Writer
}

type ProducerOption func(*kafka.Writer)

// WithBalancer replaces the key hash balancer. Any balancer that does not
// route by key gives up per-topic ordering.
func WithBalancer(b kafka.Balancer) ProducerOption {
	return func(w *kafka.Writer) { w.Balancer = b }
}

// WithBatchTimeout bounds how long a send waits for a batch to fill.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) { w.BatchTimeout = d }
}

// NewProducer writes to topic on brokers. Sends are synchronous and
// acknowledged by all in-sync replicas.
func NewProducer(brokers []string, topic string, opts ...ProducerOption) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &Producer{writer: w}
}

func (p *Producer) Name() string { return "kafka-go" }

// Send writes one message keyed by key and blocks until it is acknowledged
// or ctx ends.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
