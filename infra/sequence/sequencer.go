package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing sequence numbers for published
// envelopes. The first number issued is start+1.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose last issued number is start.
// A fresh hub starts at 0; a hub resuming after a restart starts at the
// highest sequence its outbox still knows about.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next issues the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Advance moves the sequencer forward to at least v. It never moves it back.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.last.Load()
		if cur >= v || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
