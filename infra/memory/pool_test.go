package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type slot struct {
	id   int
	data []byte
}

func TestPoolResetsOnPut(t *testing.T) {
	resets := 0
	p := NewPool(func() *slot { return &slot{} }, func(s *slot) {
		resets++
		s.id = 0
		s.data = s.data[:0]
	})

	s := p.Get()
	s.id = 9
	s.data = append(s.data, 1, 2, 3)
	p.Put(s)

	assert.Equal(t, 1, resets)
	assert.Zero(t, s.id)
	assert.Empty(t, s.data)
}

func TestPoolAsReleaseFunc(t *testing.T) {
	resets := 0
	p := NewPool(func() *slot { return &slot{} }, func(*slot) { resets++ })

	owner := NewSharedFunc(p.Get(), p.Put)
	cp := owner.Clone()
	owner.Release()
	assert.Equal(t, 0, resets)
	cp.Release()
	assert.Equal(t, 1, resets)
}
