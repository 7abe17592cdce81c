package memory

import (
	"io"
	"reflect"
	"sync/atomic"
)

// liveBlocks counts control blocks that have not been freed yet.
var liveBlocks atomic.Int64

// control is the block shared by every handle to one object.
// strong counts Shared handles; total counts Shared and Weak handles.
// Invariant: strong <= total.
type control struct {
	strong  atomic.Int64
	total   atomic.Int64
	release func()
}

func newControl(release func()) *control {
	c := &control{release: release}
	c.strong.Store(1)
	c.total.Store(1)
	liveBlocks.Add(1)
	return c
}

// ReleaseFunc is the action run on a pointee when its last owner goes away.
// It must not panic.
type ReleaseFunc[T any] func(*T)

// Shared is an owning, reference-counted handle to a *T.
//
// The zero value is an empty handle. A Shared must be duplicated with Clone
// and disposed of with Release; see the package documentation.
type Shared[T any] struct {
	ptr *T
	ctl *control
}

// NewShared takes ownership of ptr. When the last owner is released the
// pointee is closed if it implements io.Closer; otherwise it is left to the
// garbage collector. A nil ptr yields an empty handle.
func NewShared[T any](ptr *T) Shared[T] {
	return NewSharedFunc(ptr, closeRelease[T])
}

// NewSharedFunc takes ownership of ptr with a custom release action.
// A nil release is allowed and does nothing on the final release.
func NewSharedFunc[T any](ptr *T, release ReleaseFunc[T]) Shared[T] {
	if ptr == nil {
		return Shared[T]{}
	}
	var fn func()
	if release != nil {
		// the closure keeps the concrete pointer so converted handles
		// still release the original object
		fn = func() { release(ptr) }
	}
	return Shared[T]{ptr: ptr, ctl: newControl(fn)}
}

// MakeShared allocates a copy of v and returns its first owner.
func MakeShared[T any](v T) Shared[T] {
	p := new(T)
	*p = v
	return NewShared(p)
}

// MakeSharedSlice allocates an owned slice of n zero values.
func MakeSharedSlice[E any](n int) Shared[[]E] {
	s := make([]E, n)
	return NewShared(&s)
}

// At returns the address of element i of an owned slice. The index is not
// checked beyond Go's own slice bounds.
func At[E any](s Shared[[]E], i int) *E {
	return &(*s.ptr)[i]
}

func closeRelease[T any](ptr *T) {
	if c, ok := any(ptr).(io.Closer); ok {
		_ = c.Close()
	}
}

// Clone returns a new owner of the same object.
func (s *Shared[T]) Clone() Shared[T] {
	if s.ctl != nil {
		s.ctl.strong.Add(1)
		s.ctl.total.Add(1)
	}
	return Shared[T]{ptr: s.ptr, ctl: s.ctl}
}

// Move transfers the reference out of s, leaving s empty.
func (s *Shared[T]) Move() Shared[T] {
	out := *s
	*s = Shared[T]{}
	return out
}

// Assign makes s another owner of other's object, releasing whatever s
// held before. Assigning a handle to itself does nothing.
func (s *Shared[T]) Assign(other *Shared[T]) {
	if s == other {
		return
	}
	next := other.Clone()
	s.Release()
	*s = next
}

// Swap exchanges the references held by s and other.
func (s *Shared[T]) Swap(other *Shared[T]) {
	*s, *other = *other, *s
}

// Release drops the reference held by s and leaves it empty.
//
// The strong count is decremented first; if it reaches zero the release
// action runs. The total count is decremented next; if it reaches zero the
// control block is freed. Release reports whether this call destroyed the
// pointee.
func (s *Shared[T]) Release() bool {
	c := s.ctl
	s.ptr, s.ctl = nil, nil
	if c == nil {
		return false
	}
	last := false
	if c.strong.Add(-1) == 0 {
		if c.release != nil {
			c.release()
		}
		last = true
	}
	if c.total.Add(-1) == 0 {
		liveBlocks.Add(-1)
	}
	return last
}

// Reset releases s and leaves it empty.
func (s *Shared[T]) Reset() {
	s.Release()
}

// ResetTo releases s and makes it the first owner of ptr.
func (s *Shared[T]) ResetTo(ptr *T) {
	s.ResetFunc(ptr, closeRelease[T])
}

// ResetFunc releases s and makes it the first owner of ptr with a custom
// release action.
func (s *Shared[T]) ResetFunc(ptr *T, release ReleaseFunc[T]) {
	next := NewSharedFunc(ptr, release)
	s.Release()
	*s = next
}

// Get returns the owned pointer without affecting ownership.
func (s Shared[T]) Get() *T { return s.ptr }

// Value dereferences the owned pointer. It panics on an empty handle.
func (s Shared[T]) Value() T { return *s.ptr }

// UseCount returns the number of owners, or 0 for an empty handle.
func (s Shared[T]) UseCount() int64 {
	if s.ctl == nil {
		return 0
	}
	return s.ctl.strong.Load()
}

// IsNil reports whether s owns nothing.
func (s Shared[T]) IsNil() bool { return s.ptr == nil }

// Equal reports whether s and o refer to the same object.
func (s Shared[T]) Equal(o Shared[T]) bool {
	if s.ptr == o.ptr {
		return true
	}
	return s.ctl != nil && s.ctl == o.ctl
}

// Convert returns a new owner of src's object viewed as I. I is either U
// or an interface implemented by *U; anything else fails. The control
// block is shared, so the object is released with its original release
// action whichever view drops the last reference.
func Convert[I, U any](src *Shared[U]) (Shared[I], bool) {
	view, ok := convertPtr[I](src.ptr)
	if !ok {
		return Shared[I]{}, false
	}
	if src.ctl != nil {
		src.ctl.strong.Add(1)
		src.ctl.total.Add(1)
	}
	return Shared[I]{ptr: view, ctl: src.ctl}, true
}

// ConvertMove is Convert that transfers src's reference instead of adding
// one. src is left untouched when the conversion fails.
func ConvertMove[I, U any](src *Shared[U]) (Shared[I], bool) {
	view, ok := convertPtr[I](src.ptr)
	if !ok {
		return Shared[I]{}, false
	}
	out := Shared[I]{ptr: view, ctl: src.ctl}
	*src = Shared[U]{}
	return out, true
}

// convertPtr views ptr as I. The view always aliases the owned object:
// either I is U itself, or I is an interface satisfied by *U and the view
// boxes ptr. Value copies of the pointee are never produced.
func convertPtr[I, U any](ptr *U) (*I, bool) {
	if same, ok := any(ptr).(*I); ok {
		return same, true
	}
	if reflect.TypeFor[I]().Kind() != reflect.Interface {
		return nil, false
	}
	if ptr == nil {
		return nil, true
	}
	if v, ok := any(ptr).(I); ok {
		return &v, true
	}
	return nil, false
}
