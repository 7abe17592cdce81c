package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"conduit/domain/event"
	"conduit/infra/logger"
	"conduit/infra/metrics"
	"conduit/infra/pubsub"
	"conduit/infra/sequence"
)

/*
Hub is the ONLY write entry point into the broadcast queue.

It stamps every payload with a sequence number and a timestamp, appends it
to the queue and wakes feeds waiting for new data. Reads never go through the
hub: each Feed drains its own queue subscription.
*/

var (
	ErrFeedClosed = errors.New("service: feed closed")
	ErrHubClosed  = errors.New("service: hub closed")
)

type Hub struct {
	mu     sync.Mutex // orders sequence assignment with queue order
	queue  *pubsub.Queue[event.Envelope]
	seq    *sequence.Sequencer
	closed bool

	notify atomic.Pointer[chan struct{}]
	feeds  atomic.Int64

	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewHub wires a hub on top of a fresh queue. log and m may be nil.
func NewHub(seq *sequence.Sequencer, log *zap.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		queue:   pubsub.New[event.Envelope](),
		seq:     seq,
		log:     logger.OrNop(log).Named("hub"),
		metrics: m,
	}
	ch := make(chan struct{})
	h.notify.Store(&ch)
	if m != nil {
		m.WatchRetained(func() float64 { return float64(h.Retained()) })
	}
	return h
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Publish appends payload under topic and returns the stamped envelope.
// It fails with ErrHubClosed after Close.
func (h *Hub) Publish(topic string, payload []byte) (event.Envelope, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return event.Envelope{}, ErrHubClosed
	}
	env := event.Envelope{
		Seq:     h.seq.Next(),
		Time:    time.Now().UnixNano(),
		Topic:   topic,
		Payload: payload,
	}
	h.queue.Publish(env)
	h.mu.Unlock()

	h.wake()
	if h.metrics != nil {
		h.metrics.Published.Inc()
	}
	return env, nil
}

func (h *Hub) wake() {
	ch := make(chan struct{})
	old := h.notify.Swap(&ch)
	close(*old)
}

// Subscribe opens a feed starting after the most recent publish. With
// topics given, the feed only yields envelopes on those topics. After
// Close the returned feed is already closed.
func (h *Hub) Subscribe(topics ...string) *Feed {
	f := &Feed{ID: uuid.New(), hub: h}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		f.closed = true
		return f
	}
	f.sub = h.queue.Subscribe()
	h.mu.Unlock()
	if len(topics) > 0 {
		f.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			f.topics[t] = struct{}{}
		}
	}
	h.feeds.Add(1)
	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
	h.log.Debug("feed opened", zap.Stringer("feed", f.ID), zap.Strings("topics", topics))
	return f
}

// Close stops accepting publishes and subscriptions. Open feeds can still
// drain what was published before.
// Calling it more than once is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.queue.Close()
	h.mu.Unlock()
	h.wake()
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Changed returns a channel closed by the next publish.
func (h *Hub) Changed() <-chan struct{} {
	return *h.notify.Load()
}

// Subscribers returns the number of open feeds.
func (h *Hub) Subscribers() int64 {
	return h.feeds.Load()
}

// Retained returns the number of queue nodes still alive.
func (h *Hub) Retained() int64 {
	return h.queue.Retained()
}

// LastSeq returns the sequence number of the most recent publish.
func (h *Hub) LastSeq() uint64 {
	return h.seq.Current()
}

// Feed is one consumer's view of the hub. A feed is owned by a single
// goroutine.
type Feed struct {
	ID uuid.UUID

	hub    *Hub
	sub    *pubsub.Subscription[event.Envelope]
	topics map[string]struct{}
	closed bool
}

// TryNext returns the next matching envelope without blocking.
func (f *Feed) TryNext() (event.Envelope, bool) {
	if f.closed {
		return event.Envelope{}, false
	}
	for {
		env, ok := f.sub.Dequeue()
		if !ok {
			return event.Envelope{}, false
		}
		if f.match(env.Topic) {
			return env, true
		}
	}
}

// Next waits for the next matching envelope or for ctx to end.
func (f *Feed) Next(ctx context.Context) (event.Envelope, error) {
	for {
		if f.closed {
			return event.Envelope{}, ErrFeedClosed
		}
		// take the channel before polling so a publish in between is not lost
		changed := f.hub.Changed()
		if env, ok := f.TryNext(); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return event.Envelope{}, ctx.Err()
		case <-changed:
		}
	}
}

// Changed returns a channel closed by the next publish on the hub.
func (f *Feed) Changed() <-chan struct{} {
	return f.hub.Changed()
}

// Close releases the feed's position in the queue. It is safe to call more
// than once.
func (f *Feed) Close() {
	if f.closed {
		return
	}
	f.closed = true
	f.sub.Close()
	f.hub.feeds.Add(-1)
	if f.hub.metrics != nil {
		f.hub.metrics.Subscribers.Dec()
	}
	f.hub.log.Debug("feed closed", zap.Stringer("feed", f.ID))
}

func (f *Feed) match(topic string) bool {
	if f.topics == nil {
		return true
	}
	_, ok := f.topics[topic]
	return ok
}
