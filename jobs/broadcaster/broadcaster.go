// Package broadcaster forwards hub envelopes to an external sink with
// at-least-once delivery through the outbox.
package broadcaster

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"conduit/domain/event"
	"conduit/infra/logger"
	"conduit/infra/metrics"
	"conduit/infra/outbox"
	"conduit/service"
)

// Sink is where envelopes leave the process, a Kafka producer in practice.
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

type Broadcaster struct {
	feed   *service.Feed
	outbox *outbox.Outbox
	sink   Sink
	name   string

	topics     []string
	serializer event.Serializer
	retry      time.Duration

	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Broadcaster)

func WithRetryInterval(d time.Duration) Option {
	return func(b *Broadcaster) { b.retry = d }
}

func WithSerializer(s event.Serializer) Option {
	return func(b *Broadcaster) { b.serializer = s }
}

func WithLogger(log *zap.Logger) Option {
	return func(b *Broadcaster) { b.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithTopics restricts the broadcaster to the given topics.
func WithTopics(topics ...string) Option {
	return func(b *Broadcaster) { b.topics = topics }
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

// New subscribes to hub right away so nothing published between New and
// Run is missed.
func New(hub *service.Hub, ob *outbox.Outbox, sink Sink, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		outbox:     ob,
		sink:       sink,
		name:       sinkName(sink),
		serializer: event.BinarySerializer{},
		retry:      time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logger.OrNop(b.log).Named("broadcaster")
	b.feed = hub.Subscribe(b.topics...)
	return b
}

func sinkName(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// ------------------------------------------------
// RUN LOOP
// ------------------------------------------------

// Run replays whatever the outbox still holds, then forwards new envelopes
// until ctx ends. Failed sends are retried on every retry tick. Run closes
// the feed but not the sink.
func (b *Broadcaster) Run(ctx context.Context) error {
	defer b.feed.Close()

	b.log.Info("started", zap.String("sink", b.name), zap.Duration("retry", b.retry))
	if err := b.replay(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(b.retry)
	defer ticker.Stop()

	for {
		changed := b.feed.Changed()
		for {
			env, ok := b.feed.TryNext()
			if !ok {
				break
			}
			if err := b.deliver(ctx, env); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return nil
		case <-ticker.C:
			if err := b.replay(ctx); err != nil {
				return err
			}
		case <-changed:
		}
	}
}

// deliver records env in the outbox before the first send attempt. Only
// outbox errors stop the loop; sink errors leave the record for replay.
func (b *Broadcaster) deliver(ctx context.Context, env event.Envelope) error {
	payload, err := b.serializer.Encode(&env)
	if err != nil {
		return fmt.Errorf("encode seq %d: %w", env.Seq, err)
	}
	rec := outbox.Record{Seq: env.Seq, State: outbox.StateNew, Payload: payload}
	if err := b.outbox.Put(rec); err != nil {
		return fmt.Errorf("outbox put seq %d: %w", env.Seq, err)
	}
	return b.send(ctx, rec, []byte(env.Topic))
}

// ------------------------------------------------
// REPLAY LOGIC
// ------------------------------------------------

func (b *Broadcaster) replay(ctx context.Context) error {
	var pending []outbox.Record
	if err := b.outbox.Pending(func(rec outbox.Record) error {
		pending = append(pending, rec)
		return nil
	}); err != nil {
		return fmt.Errorf("outbox scan: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	b.log.Debug("replaying", zap.Int("records", len(pending)))

	for _, rec := range pending {
		if ctx.Err() != nil {
			return nil
		}
		var key []byte
		if env, err := b.serializer.Decode(rec.Payload); err == nil {
			key = []byte(env.Topic)
		} else {
			b.log.Warn("undecodable outbox record", zap.Uint64("seq", rec.Seq), zap.Error(err))
		}
		if err := b.send(ctx, rec, key); err != nil {
			return err
		}
	}
	return nil
}

// send moves rec through Sent to either deleted or Failed.
func (b *Broadcaster) send(ctx context.Context, rec outbox.Record, key []byte) error {
	if err := b.outbox.UpdateState(rec.Seq, outbox.StateSent, rec.Retries); err != nil {
		return fmt.Errorf("mark sent seq %d: %w", rec.Seq, err)
	}

	if err := b.sink.Send(ctx, key, rec.Payload); err != nil {
		if b.metrics != nil {
			b.metrics.DeliveryFailures.WithLabelValues(b.name).Inc()
		}
		b.log.Warn("send failed",
			zap.Uint64("seq", rec.Seq),
			zap.Uint32("retries", rec.Retries+1),
			zap.Error(err),
		)
		if err := b.outbox.UpdateState(rec.Seq, outbox.StateFailed, rec.Retries+1); err != nil {
			return fmt.Errorf("mark failed seq %d: %w", rec.Seq, err)
		}
		return nil
	}

	if b.metrics != nil {
		b.metrics.Delivered.WithLabelValues(b.name).Inc()
	}
	if err := b.outbox.Delete(rec.Seq); err != nil {
		return fmt.Errorf("outbox delete seq %d: %w", rec.Seq, err)
	}
	return nil
}
