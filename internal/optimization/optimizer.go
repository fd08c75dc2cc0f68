package optimization

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/copyleftdev/cellfit/internal/parameters"
)

// Optimiser proposes candidate vectors and updates its search state from
// their costs. Backends are driven by a single goroutine and need not be
// safe for concurrent use.
type Optimiser interface {
	// Name identifies the backend.
	Name() string

	// Init resets the search around x0 with per-dimension scale sigma0.
	// Bounds may be nil.
	Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error

	// Ask returns the candidates of the next iteration.
	Ask() ([][]float64, error)

	// Tell reports the costs of the last asked candidates, in order.
	Tell(costs []float64) error
}

// GradientOptimiser is an Optimiser that also consumes cost gradients.
// Gradients of rejected or infeasible candidates are nil.
type GradientOptimiser interface {
	Optimiser
	TellWithGradient(costs []float64, gradients [][]float64) error
}

// State of an optimisation run.
type State string

const (
	Initialized          State = "initialized"
	Running              State = "running"
	Converged            State = "converged"
	MaxIterationsReached State = "max_iterations_reached"
	Stalled              State = "stalled"
	Failed               State = "failed"
	Cancelled            State = "cancelled"
)

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	switch s {
	case Converged, MaxIterationsReached, Stalled, Failed, Cancelled:
		return true
	}
	return false
}

// HistoryEntry summarises one iteration. Entry zero is the initial guess.
type HistoryEntry struct {
	Iteration     int       `json:"iteration"`
	BestCost      float64   `json:"best_cost"`
	IterationBest float64   `json:"iteration_best"`
	Evaluations   int       `json:"evaluations"`
	Best          []float64 `json:"best"`
}

// Result of an optimisation run.
type Result struct {
	Name        string            `json:"name,omitempty"`
	Optimiser   string            `json:"optimiser"`
	Best        parameters.Vector `json:"-"`
	BestCost    float64           `json:"best_cost"`
	History     []HistoryEntry    `json:"history"`
	Reason      State             `json:"reason"`
	Message     string            `json:"message"`
	Iterations  int               `json:"iterations"`
	Evaluations int               `json:"evaluations"`
	Duration    time.Duration     `json:"duration"`
}

// Progress is reported to the caller after every iteration.
type Progress struct {
	Iteration     int
	BestCost      float64
	IterationBest float64
	Evaluations   int
	Elapsed       time.Duration
}

// Recorder observes a run, typically to export metrics.
type Recorder interface {
	ObserveEvaluation(optimiser string, feasible bool, elapsed time.Duration)
	ObserveIteration(optimiser string, bestCost float64)
	ObserveRun(optimiser string, reason State, elapsed time.Duration)
}

// DefaultPopulationSize is the population used by evolutionary backends
// in n dimensions.
func DefaultPopulationSize(n int) int {
	if n < 1 {
		n = 1
	}
	return 4 + int(math.Floor(3*math.Log(float64(n))))
}

// ValidateStart checks the arguments of Optimiser.Init.
func ValidateStart(x0, sigma0 []float64, bounds *parameters.Bounds) error {
	if len(x0) == 0 {
		return WrapError(ErrDimensionMismatch, "empty starting point").WithOperation("init")
	}
	if len(sigma0) != len(x0) {
		return WrapErrorf(ErrDimensionMismatch, "%d sigma0 values for %d dimensions", len(sigma0), len(x0)).WithOperation("init")
	}
	for i, s := range sigma0 {
		if !(s > 0) || math.IsInf(s, 0) {
			return WrapErrorf(ErrInvalidConfig, "sigma0[%d] = %g must be positive and finite", i, s).WithOperation("init")
		}
	}
	if bounds == nil {
		return nil
	}
	if bounds.Dim() != len(x0) {
		return WrapErrorf(ErrDimensionMismatch, "%d bounds for %d dimensions", bounds.Dim(), len(x0)).WithOperation("init")
	}
	for i := range bounds.Lower {
		if !(bounds.Lower[i] <= bounds.Upper[i]) {
			return WrapErrorf(ErrInvalidBounds, "dimension %d: [%g, %g]", i, bounds.Lower[i], bounds.Upper[i]).WithOperation("init")
		}
	}
	if !bounds.Contains(x0) {
		return WrapError(fmt.Errorf("%w: %w", ErrInvalidConfig, ErrInfeasibleCandidate), fmt.Sprintf("starting point %v outside bounds", x0)).WithOperation("init")
	}
	return nil
}
