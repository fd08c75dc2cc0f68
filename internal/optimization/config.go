package optimization

import (
	"fmt"
	"math"
	"time"
)

// BoundaryPolicy decides what happens to candidates outside the bounds when
// infeasible solutions are not allowed.
type BoundaryPolicy int

const (
	// BoundaryReject reports +Inf to the optimiser without evaluating.
	BoundaryReject BoundaryPolicy = iota
	// BoundaryClip evaluates the projection onto the bounds.
	BoundaryClip
	// BoundaryResample evaluates a uniform draw inside the bounds.
	BoundaryResample
)

func (p BoundaryPolicy) String() string {
	switch p {
	case BoundaryReject:
		return "reject"
	case BoundaryClip:
		return "clip"
	case BoundaryResample:
		return "resample"
	}
	return fmt.Sprintf("BoundaryPolicy(%d)", int(p))
}

// ParseBoundaryPolicy parses the String form of a policy.
func ParseBoundaryPolicy(s string) (BoundaryPolicy, error) {
	switch s {
	case "", "reject":
		return BoundaryReject, nil
	case "clip":
		return BoundaryClip, nil
	case "resample":
		return BoundaryResample, nil
	}
	return 0, fmt.Errorf("%w: unknown boundary policy %q", ErrInvalidConfig, s)
}

// PenaltyPolicy assigns a finite cost to infeasible evaluations when
// infeasible solutions are allowed. worst is the largest finite cost seen in
// the run so far, or NaN before any.
type PenaltyPolicy interface {
	Penalty(worst float64) float64
}

// DefaultPenalty is the cost given to infeasible candidates by default.
const DefaultPenalty = 1e10

// FixedPenalty always returns Value.
type FixedPenalty struct {
	Value float64
}

// Penalty implements PenaltyPolicy.
func (p FixedPenalty) Penalty(float64) float64 { return p.Value }

// LandscapePenalty scales the worst finite cost seen so far:
// |worst|*Factor + Offset, or Offset before any finite cost. Factor must be
// non-negative and Offset finite; the result saturates at math.MaxFloat64.
type LandscapePenalty struct {
	Factor float64
	Offset float64
}

// Penalty implements PenaltyPolicy.
func (p LandscapePenalty) Penalty(worst float64) float64 {
	if math.IsNaN(worst) {
		return p.Offset
	}
	return math.Min(math.Abs(worst)*p.Factor+p.Offset, math.MaxFloat64)
}

// Config controls a run.
type Config struct {
	// MaxIterations is the iteration ceiling. Zero evaluates the initial
	// guess only.
	MaxIterations int

	// MaxUnchangedIterations stops the run as Stalled when the best cost
	// has not improved by more than UnchangedThreshold for that many
	// consecutive iterations. Zero disables the check.
	MaxUnchangedIterations int
	UnchangedThreshold     float64

	// TargetCost converges the run once the best cost reaches it.
	TargetCost *float64

	// ConvergenceWindow converges the run when the best cost improved by
	// less than ConvergenceTolerance over that many iterations. Zero
	// disables the check.
	ConvergenceWindow    int
	ConvergenceTolerance float64

	AllowInfeasibleSolutions bool
	BoundaryPolicy           BoundaryPolicy
	// Penalty defaults to FixedPenalty{DefaultPenalty}.
	Penalty PenaltyPolicy

	// FatalSolverFailures fails the run on the first solver divergence.
	FatalSolverFailures bool

	// InitialGuess and Sigma0 default to the parameter set's values.
	InitialGuess []float64
	Sigma0       []float64

	Seed    int64
	Verbose bool

	// EvaluationTimeout bounds every cost evaluation when positive.
	EvaluationTimeout time.Duration

	// Pool evaluates the candidates of one iteration. Nil evaluates them
	// sequentially.
	Pool *Pool
}

// DefaultConfig returns the settings used when a caller has no preference.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          1000,
		MaxUnchangedIterations: 15,
		UnchangedThreshold:     1e-5,
		Penalty:                FixedPenalty{Value: DefaultPenalty},
	}
}

// Validate checks the settings that do not depend on the problem.
func (c Config) Validate() error {
	switch {
	case c.MaxIterations < 0:
		return fmt.Errorf("%w: max iterations must be set and non-negative, got %d", ErrInvalidConfig, c.MaxIterations)
	case c.MaxUnchangedIterations < 0:
		return fmt.Errorf("%w: max unchanged iterations must be non-negative, got %d", ErrInvalidConfig, c.MaxUnchangedIterations)
	case c.UnchangedThreshold < 0:
		return fmt.Errorf("%w: unchanged threshold must be non-negative, got %g", ErrInvalidConfig, c.UnchangedThreshold)
	case c.ConvergenceWindow < 0:
		return fmt.Errorf("%w: convergence window must be non-negative, got %d", ErrInvalidConfig, c.ConvergenceWindow)
	case c.ConvergenceTolerance < 0:
		return fmt.Errorf("%w: convergence tolerance must be non-negative, got %g", ErrInvalidConfig, c.ConvergenceTolerance)
	case c.EvaluationTimeout < 0:
		return fmt.Errorf("%w: evaluation timeout must be non-negative, got %s", ErrInvalidConfig, c.EvaluationTimeout)
	case c.BoundaryPolicy < BoundaryReject || c.BoundaryPolicy > BoundaryResample:
		return fmt.Errorf("%w: unknown boundary policy %d", ErrInvalidConfig, int(c.BoundaryPolicy))
	case c.TargetCost != nil && math.IsNaN(*c.TargetCost):
		return fmt.Errorf("%w: target cost is NaN", ErrInvalidConfig)
	}
	switch p := c.Penalty.(type) {
	case FixedPenalty:
		if !finite(p.Value) {
			return fmt.Errorf("%w: penalty must be finite, got %g", ErrInvalidConfig, p.Value)
		}
	case LandscapePenalty:
		if !finite(p.Factor) || p.Factor < 0 {
			return fmt.Errorf("%w: landscape penalty factor must be finite and non-negative, got %g", ErrInvalidConfig, p.Factor)
		}
		if !finite(p.Offset) {
			return fmt.Errorf("%w: landscape penalty offset must be finite, got %g", ErrInvalidConfig, p.Offset)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
