// Package handoff implements a synchronous double buffer shared by exactly
// one writer and one reader.
//
// The writer fills the offline slot, then calls WriterArriveAndWait. The
// reader polls ReaderArrive; when it observes the pending flag it flips the
// slots and releases the writer. The writer is blocked from the moment it
// deposits data until the reader's next poll, so the buffer is a rendezvous,
// not a free-running double buffer.
//
// The writer spins instead of parking. If no reader ever polls, the writer
// spins forever. To stop a reader loop, hand off one last value the reader
// recognises as a stop marker; a flag checked outside the buffer can be
// observed before that final handoff and strand the writer.
package handoff

import "sync/atomic"

// DoubleBuffer holds two slots of T and a single pending flag.
type DoubleBuffer[T any] struct {
	buffers [2]T
	index   uint32 // published to the writer through waiting
	waiting atomic.Bool
}

// New returns a buffer with zero-valued slots.
func New[T any]() *DoubleBuffer[T] {
	return &DoubleBuffer[T]{}
}

// NewWith returns a buffer whose reader slot starts as a and writer slot
// as b.
func NewWith[T any](a, b T) *DoubleBuffer[T] {
	return &DoubleBuffer[T]{buffers: [2]T{a, b}}
}

// ReaderArrive polls for a pending handoff. When one is pending it swaps the
// slots, releases the writer and returns true. Otherwise it returns false
// without touching anything. It never blocks.
func (d *DoubleBuffer[T]) ReaderArrive() bool {
	if !d.waiting.Load() {
		return false
	}
	d.index ^= 1
	d.waiting.Store(false)
	return true
}

// WriterArriveAndWait marks the writer slot as ready and spins until the
// reader has taken it.
func (d *DoubleBuffer[T]) WriterArriveAndWait() {
	d.waiting.Store(true)
	for d.waiting.Load() {
	}
}

// Pending reports whether a writer is waiting for the reader.
func (d *DoubleBuffer[T]) Pending() bool {
	return d.waiting.Load()
}

// ReaderBuffer returns the slot the reader may read.
func (d *DoubleBuffer[T]) ReaderBuffer() *T {
	return &d.buffers[d.index]
}

// WriterBuffer returns the slot the writer may fill.
func (d *DoubleBuffer[T]) WriterBuffer() *T {
	return &d.buffers[d.index^1]
}
