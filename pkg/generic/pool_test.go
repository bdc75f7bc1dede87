package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := NewPool(func() []int { return make([]int, 0, 4) }, func(s []int) []int { return s[:0] })
	s := p.Get()
	s = append(s, 1, 2, 3)
	p.Put(s)
	// sync.Pool may drop values, but whatever comes back must be empty.
	assert.Empty(t, p.Get())
}

func TestMaskPool(t *testing.T) {
	mp := NewMaskPool()
	m := mp.Get(8)
	require.Len(t, m.Bits, 8)
	m.Bits[3] = true
	mp.Put(m)

	m = mp.Get(5)
	require.Len(t, m.Bits, 5)
	for i, b := range m.Bits {
		assert.False(t, b, "bit %d", i)
	}

	m = mp.Get(64)
	assert.Len(t, m.Bits, 64)
}
