// Package memory provides reference-counted ownership handles and the
// object pool used to recycle values whose lifetime they govern.
//
// A Shared handle owns a value together with every other Shared handle
// cloned from it. A Weak handle observes the same value without keeping it
// alive and can be promoted back to a Shared handle while at least one owner
// remains. Both share a single control block whose counters are updated only
// with atomic operations; no mutex is involved.
//
// Go copies structs bitwise and has no destructors, so the handles make the
// reference operations explicit:
//
//	s := memory.NewShared(v)  // strong=1
//	t := s.Clone()            // strong=2
//	w := s.Weak()             // strong=2, weak observer
//	s.Release()               // strong=1
//	if u := w.Lock(); !u.IsNil() {
//		defer u.Release()
//	}
//
// Assigning a handle with = aliases the reference it holds; it does not
// create a new one. Exactly one of the aliases may be released.
//
// The package is dependency-free and forms the foundation for the broadcast
// queue in package pubsub.
package memory
