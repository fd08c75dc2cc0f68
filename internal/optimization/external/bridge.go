// Package external runs optimisers that own their loop, gonum/optimize
// methods and mayfly, behind the ask/tell interface. Each library runs in
// its own goroutine and blocks inside its objective until the cost of the
// requested point is told.
package external

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/optimization"
)

var inf = math.Inf(1)

// errStopped ends a library run from inside its objective or status hook
var errStopped = errors.New("bridge closed")

// bridge hands one point at a time from a library goroutine to Ask and the
// told cost back
type bridge struct {
	name   string
	logger *zap.Logger

	requests chan []float64
	replies  chan float64
	quit     chan struct{}
	done     chan struct{}
	once     *sync.Once

	// err is written by the library goroutine before done is closed
	err     error
	pending bool
}

func newBridge(name string, logger *zap.Logger) bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return bridge{name: name, logger: logger.Named(name)}
}

// Name implements optimization.Optimiser
func (b *bridge) Name() string { return b.name }

// start launches run. Any previous run is shut down first.
func (b *bridge) start(run func() error) {
	_ = b.Close()

	b.requests = make(chan []float64)
	b.replies = make(chan float64)
	b.quit = make(chan struct{})
	b.done = make(chan struct{})
	b.once = new(sync.Once)
	b.err = nil
	b.pending = false

	go func() {
		defer close(b.done)
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Recovered from panic in optimiser",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
				b.err = fmt.Errorf("panic: %v", r)
			}
		}()
		err := run()
		if err != nil && !errors.Is(err, errStopped) && !b.stopped() {
			b.err = err
		}
	}()
}

func (b *bridge) stopped() bool {
	select {
	case <-b.quit:
		return true
	default:
		return false
	}
}

// objective is handed to the library. It publishes x and waits for its
// cost, returning +Inf once the bridge is closed.
func (b *bridge) objective(x []float64) float64 {
	select {
	case b.requests <- append([]float64(nil), x...):
	case <-b.quit:
		return inf
	}
	select {
	case c := <-b.replies:
		return c
	case <-b.quit:
		return inf
	}
}

// Ask implements optimization.Optimiser. It returns ErrSearchComplete once
// the library has finished on its own.
func (b *bridge) Ask() ([][]float64, error) {
	if b.done == nil {
		return nil, optimization.NewError("ask before init").WithComponent(b.name).WithOperation("ask")
	}
	if b.pending {
		return nil, optimization.NewError("ask called twice without tell").WithComponent(b.name).WithOperation("ask")
	}
	select {
	case x := <-b.requests:
		b.pending = true
		return [][]float64{x}, nil
	case <-b.done:
		if b.err != nil {
			return nil, optimization.WrapError(fmt.Errorf("%w: %w", optimization.ErrOptimiserFailure, b.err), "library run failed").WithComponent(b.name).WithOperation("ask")
		}
		return nil, optimization.ErrSearchComplete
	}
}

// Tell implements optimization.Optimiser. NaN is told as +Inf.
func (b *bridge) Tell(costs []float64) error {
	if !b.pending {
		return optimization.NewError("tell before ask").WithComponent(b.name).WithOperation("tell")
	}
	if len(costs) != 1 {
		return optimization.WrapErrorf(optimization.ErrDimensionMismatch,
			"%d costs for 1 candidate", len(costs)).WithComponent(b.name).WithOperation("tell")
	}
	b.pending = false
	c := costs[0]
	if math.IsNaN(c) {
		c = inf
	}
	select {
	case b.replies <- c:
	case <-b.done:
	}
	return nil
}

// Close stops the library goroutine and waits for it to return
func (b *bridge) Close() error {
	if b.done == nil {
		return nil
	}
	b.once.Do(func() { close(b.quit) })
	<-b.done
	b.pending = false
	return nil
}
