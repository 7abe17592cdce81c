package memory

import "sync"

// Pool is a typed object pool. Values are scrubbed by the reset hook before
// they become available again, so a recycled value never carries state from
// its previous owner.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)
}

// NewPool builds a pool. reset may be nil.
func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

// Put scrubs v and returns it to the pool. The caller must hold the only
// reference to v. Put has the shape of a ReleaseFunc, so a pool can be the
// release action of a Shared.
func (p *Pool[T]) Put(v *T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}
