package memory

// Weak observes an object owned by Shared handles without keeping it alive.
// It keeps the control block alive so that expiry can be detected.
//
// The zero value is an empty weak handle.
type Weak[T any] struct {
	ptr *T
	ctl *control
}

// Weak returns a weak observer of s's object.
func (s *Shared[T]) Weak() Weak[T] {
	if s.ctl != nil {
		s.ctl.total.Add(1)
	}
	return Weak[T]{ptr: s.ptr, ctl: s.ctl}
}

// Clone returns another observer of the same object.
func (w *Weak[T]) Clone() Weak[T] {
	if w.ctl != nil {
		w.ctl.total.Add(1)
	}
	return Weak[T]{ptr: w.ptr, ctl: w.ctl}
}

// Move transfers the observer out of w, leaving w empty.
func (w *Weak[T]) Move() Weak[T] {
	out := *w
	*w = Weak[T]{}
	return out
}

// Assign makes w observe other's object. Assigning to itself does nothing.
func (w *Weak[T]) Assign(other *Weak[T]) {
	if w == other {
		return
	}
	next := other.Clone()
	w.Release()
	*w = next
}

// Observe makes w observe the object owned by s.
func (w *Weak[T]) Observe(s *Shared[T]) {
	next := s.Weak()
	w.Release()
	*w = next
}

// Release drops the observer. It never runs the release action.
func (w *Weak[T]) Release() {
	c := w.ctl
	w.ptr, w.ctl = nil, nil
	if c == nil {
		return
	}
	if c.total.Add(-1) == 0 {
		liveBlocks.Add(-1)
	}
}

// UseCount returns the number of owners of the observed object.
func (w Weak[T]) UseCount() int64 {
	if w.ctl == nil {
		return 0
	}
	return w.ctl.strong.Load()
}

// Expired reports whether the observed object has been released.
func (w Weak[T]) Expired() bool {
	return w.UseCount() <= 0
}

// Lock promotes w to an owner. It returns an empty handle when the object
// has already been released.
//
// The zero check and the increment form a single compare-and-swap, so a
// strong count that has reached zero is never incremented again.
func (w *Weak[T]) Lock() Shared[T] {
	c := w.ctl
	if c == nil {
		return Shared[T]{}
	}
	n := c.strong.Load()
	for {
		if n <= 0 {
			return Shared[T]{}
		}
		if c.strong.CompareAndSwap(n, n+1) {
			break
		}
		n = c.strong.Load()
	}
	c.total.Add(1)
	return Shared[T]{ptr: w.ptr, ctl: c}
}

// ConvertWeak returns a new observer of src's object viewed as I.
func ConvertWeak[I, U any](src *Weak[U]) (Weak[I], bool) {
	view, ok := convertPtr[I](src.ptr)
	if !ok {
		return Weak[I]{}, false
	}
	if src.ctl != nil {
		src.ctl.total.Add(1)
	}
	return Weak[I]{ptr: view, ctl: src.ctl}, true
}
