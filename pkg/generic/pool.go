// Package generic holds small type-safe wrappers over standard containers.
package generic

import "sync"

// Pool is a typed sync.Pool. If reset is set it runs on every Put so that
// values come back clean.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

func NewPool[T any](generate func() T, reset func(T) T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		value = p.reset(value)
	}
	p.pool.Put(value)
}

// Mask is a reusable bool slice.
type Mask struct{ Bits []bool }

// MaskPool hands out masks of at least n entries, all false.
type MaskPool struct{ p *Pool[*Mask] }

func NewMaskPool() *MaskPool {
	return &MaskPool{p: NewPool(
		func() *Mask { return &Mask{} },
		func(m *Mask) *Mask {
			clear(m.Bits)
			return m
		},
	)}
}

func (mp *MaskPool) Get(n int) *Mask {
	m := mp.p.Get()
	if cap(m.Bits) < n {
		m.Bits = make([]bool, n)
	}
	m.Bits = m.Bits[:n]
	return m
}

func (mp *MaskPool) Put(m *Mask) { mp.p.Put(m) }
