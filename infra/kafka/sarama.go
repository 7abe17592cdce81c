package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// SaramaProducer is a sink backed by a sarama synchronous producer.
type SaramaProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaConfig returns the producer settings used for every sink:
// acknowledged by all in-sync replicas, idempotent retries.
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

func NewSaramaProducer(brokers []string, topic string) (*SaramaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("sarama producer: %w", err)
	}
	return WrapSaramaProducer(producer, topic), nil
}

// WrapSaramaProducer adapts an existing producer, such as sarama's mocks.
func WrapSaramaProducer(p sarama.SyncProducer, topic string) *SaramaProducer {
	return &SaramaProducer{producer: p, topic: topic}
}

func (p *SaramaProducer) Name() string { return "sarama" }

// Send publishes one message. sarama's sync producer does not take a
// context, so ctx is only checked before the send.
func (p *SaramaProducer) Send(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send to %s: %w", p.topic, err)
	}
	return nil
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}
