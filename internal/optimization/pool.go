package optimization

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool runs the evaluations of one iteration on a bounded number of
// goroutines. It is built once by the program and shared by runs.
type Pool struct {
	workers int
}

// NewPool returns a pool of the given size. Non-positive sizes use
// GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workers
}

// Run calls fn for every index in [0, n) and waits for all of them. Each
// call owns slot i of whatever the caller collects into, so results come
// back in index order regardless of scheduling. The first error is
// returned once every call has finished.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if p.Workers() == 1 || n <= 1 {
		var first error
		for i := 0; i < n; i++ {
			if err := fn(ctx, i); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(ctx, i) })
	}
	return g.Wait()
}
