// Package concurrent holds small errgroup-based helpers for data-parallel loops.
package concurrent

import (
	"golang.org/x/sync/errgroup"
)

// ParallelFor calls fn for every index in [0, n). The range is split into at
// most workers contiguous chunks, one goroutine each. With workers <= 1 the loop
// runs on the calling goroutine. The first error stops the chunk that produced
// it and is returned after all chunks finish.
func ParallelFor(n, workers int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if workers <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ParallelMap applies mapFn to each element, preserving order.
func ParallelMap[T any, R any](in []T, workers int, mapFn func(T) (R, error)) ([]R, error) {
	out := make([]R, len(in))
	err := ParallelFor(len(in), workers, func(i int) error {
		r, err := mapFn(in[i])
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParallelSelect returns, in ascending order, the indices in [0, n) for which
// keep returns true. The verdicts are written to scratch, which must hold at
// least n entries; a nil scratch is allocated.
func ParallelSelect(n, workers int, scratch []bool, keep func(i int) (bool, error)) ([]int, error) {
	if scratch == nil {
		scratch = make([]bool, n)
	}
	scratch = scratch[:n]
	err := ParallelFor(n, workers, func(i int) error {
		ok, err := keep(i)
		if err != nil {
			return err
		}
		scratch[i] = ok
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, n/4)
	for i, ok := range scratch {
		if ok {
			out = append(out, i)
		}
	}
	return out, nil
}

// ParallelFilter keeps the elements for which keep returns true, preserving order.
func ParallelFilter[T any](in []T, workers int, keep func(T) (bool, error)) ([]T, error) {
	idx, err := ParallelSelect(len(in), workers, nil, func(i int) (bool, error) { return keep(in[i]) })
	if err != nil {
		return nil, err
	}
	out := make([]T, len(idx))
	for j, i := range idx {
		out[j] = in[i]
	}
	return out, nil
}
