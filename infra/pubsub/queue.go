// Package pubsub implements an append-only broadcast queue with any number
// of independent subscribers.
//
// Publishers append to a singly linked chain under an exclusive lock.
// Each subscriber owns a cursor into the chain and drains it at its own pace
// without taking any lock. Every node's lifetime is a memory.Shared strong
// count held by the queue tail, the predecessor's link and subscriber
// cursors, so a node is recycled as soon as the last of them moves past it.
//
// A subscriber that stops draining keeps every node published after its
// cursor alive. Retained reports how many nodes are currently held.
package pubsub

import (
	"sync"
	"sync/atomic"

	"conduit/infra/memory"
)

type node[T any] struct {
	value T
	// set once, under the queue lock, then never changed while the node lives
	next atomic.Pointer[memory.Shared[node[T]]]
}

// Queue is a multi-subscriber broadcast log. The zero value is not usable;
// call New.
type Queue[T any] struct {
	mu   sync.RWMutex
	tail memory.Shared[node[T]]

	pool *memory.Pool[node[T]]
	live atomic.Int64
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.pool = memory.NewPool(
		func() *node[T] { return new(node[T]) },
		func(n *node[T]) {
			var zero T
			n.value = zero
			n.next.Store(nil)
		},
	)
	var zero T
	q.tail = q.newNode(zero)
	return q
}

func (q *Queue[T]) newNode(v T) memory.Shared[node[T]] {
	n := q.pool.Get()
	n.value = v
	q.live.Add(1)
	return memory.NewSharedFunc(n, q.retire)
}

func (q *Queue[T]) retire(*node[T]) {
	q.live.Add(-1)
}

// Publish appends v. Every subscription created before this call observes
// v after all values published before it.
func (q *Queue[T]) Publish(v T) {
	n := q.newNode(v)
	link := n.Clone()

	q.mu.Lock()
	if q.tail.IsNil() {
		q.mu.Unlock()
		panic("pubsub: publish on closed queue")
	}
	prev := q.tail.Move()
	prev.Get().next.Store(&link)
	q.tail = n
	q.mu.Unlock()

	q.drop(prev)
}

// Subscribe returns a subscription positioned at the current end of the
// log. Values published before the call are not visible to it.
func (q *Queue[T]) Subscribe() *Subscription[T] {
	q.mu.RLock()
	cursor := q.tail.Clone()
	q.mu.RUnlock()
	if cursor.IsNil() {
		panic("pubsub: subscribe on closed queue")
	}
	return &Subscription[T]{q: q, cursor: cursor}
}

// Retained returns the number of nodes still alive, including the tail.
func (q *Queue[T]) Retained() int64 {
	return q.live.Load()
}

// Close drops the queue's reference to the tail. Existing subscriptions can
// still drain what was published; Publish and Subscribe panic afterwards.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	tail := q.tail.Move()
	q.mu.Unlock()
	q.drop(tail)
}

// drop releases h and walks forward releasing every node whose last owner
// was the predecessor's link. Walking iteratively keeps a long chain freed
// by a dropped subscriber from recursing once per node.
func (q *Queue[T]) drop(h memory.Shared[node[T]]) {
	for !h.IsNil() {
		n := h.Get()
		if !h.Release() {
			return
		}
		next := n.next.Load()
		q.pool.Put(n)
		if next == nil {
			return
		}
		h = *next
	}
}

// Subscription is one subscriber's cursor. It must be used by a single
// goroutine at a time; distinct subscriptions are independent.
type Subscription[T any] struct {
	q      *Queue[T]
	cursor memory.Shared[node[T]]
}

// Dequeue returns the next value after the cursor. It reports false when
// nothing new has been published; it never blocks and takes no lock.
func (s *Subscription[T]) Dequeue() (T, bool) {
	var zero T
	n := s.cursor.Get()
	if n == nil {
		return zero, false
	}
	next := n.next.Load()
	if next == nil {
		return zero, false
	}
	advanced := next.Clone()
	prev := s.cursor.Move()
	s.cursor = advanced
	s.q.drop(prev)
	return s.cursor.Get().value, true
}

// Close releases the cursor. Nodes held only by this subscription are
// recycled. Dequeue on a closed subscription reports false.
func (s *Subscription[T]) Close() {
	s.q.drop(s.cursor.Move())
}
