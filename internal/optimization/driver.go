package optimization

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/cost"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// Option configures an Optimisation
type Option func(*Optimisation)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimisation) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(o *Optimisation) { o.recorder = r }
}

// WithProgress registers a callback invoked after every iteration from the
// goroutine running the optimisation.
func WithProgress(fn func(Progress)) Option {
	return func(o *Optimisation) { o.progress = fn }
}

// WithName labels the run in logs and results
func WithName(name string) Option {
	return func(o *Optimisation) { o.name = name }
}

// Optimisation drives an Optimiser against a cost function until a stopping
// condition is met. It runs once.
type Optimisation struct {
	cost      cost.Function
	gradient  cost.GradientFunction
	optimiser Optimiser
	cfg       Config

	params *parameters.Set
	bounds *parameters.Bounds
	x0     []float64
	sigma0 []float64
	rng    *rand.Rand

	logger   *zap.Logger
	recorder Recorder
	progress func(Progress)
	name     string

	mu      sync.Mutex
	state   State
	stopped atomic.Bool
}

// New validates the run settings against the cost function's parameters.
// Dimension and bounds errors are reported here, before anything runs.
func New(f cost.Function, opt Optimiser, cfg Config, opts ...Option) (*Optimisation, error) {
	if f == nil || opt == nil {
		return nil, WrapError(ErrInvalidConfig, "cost function and optimiser are required").WithComponent("driver")
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapError(err, "validate config").WithComponent("driver")
	}
	if cfg.Penalty == nil {
		cfg.Penalty = FixedPenalty{Value: DefaultPenalty}
	}

	params := f.Parameters()
	rng := rand.New(rand.NewSource(cfg.Seed))

	x0 := cfg.InitialGuess
	if x0 == nil {
		x0 = params.InitialGuess(rng)
	} else if err := params.Check(x0); err != nil {
		return nil, WrapError(err, "initial guess").WithComponent("driver")
	}
	sigma0 := cfg.Sigma0
	if sigma0 == nil {
		sigma0 = params.Sigma0()
	} else if err := params.Check(sigma0); err != nil {
		return nil, WrapError(err, "sigma0").WithComponent("driver")
	}

	bounds := params.Bounds()
	if err := ValidateStart(x0, sigma0, bounds); err != nil {
		return nil, WrapError(err, "validate starting point").WithComponent("driver")
	}

	o := &Optimisation{
		cost:      f,
		optimiser: opt,
		cfg:       cfg,
		params:    params,
		bounds:    bounds,
		x0:        append([]float64(nil), x0...),
		sigma0:    append([]float64(nil), sigma0...),
		rng:       rng,
		logger:    zap.NewNop(),
		state:     Initialized,
	}
	if _, ok := opt.(GradientOptimiser); ok {
		o.gradient = cost.WithFiniteDifferences(f)
	}
	for _, option := range opts {
		option(o)
	}
	return o, nil
}

// State returns the current state of the run
func (o *Optimisation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Optimisation) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Stop asks a running optimisation to finish after the current iteration.
// The run then returns the best result so far as Cancelled.
func (o *Optimisation) Stop() {
	o.stopped.Store(true)
}

// run holds the mutable state of one Run call
type run struct {
	start       time.Time
	iteration   int
	evaluations int

	best     []float64
	bestCost float64
	worst    float64

	reference       float64
	lastImprovement int

	history []HistoryEntry
}

// outcome is the evaluation of one asked candidate. x is the vector handed
// to the cost function, nil when the candidate was rejected.
type outcome struct {
	x       []float64
	ev      cost.Evaluation
	err     error
	elapsed time.Duration
}

// Run executes the optimisation. Cancelling ctx or calling Stop ends the run
// between iterations with the Cancelled reason; evaluations already in
// flight are not interrupted. A run that fails returns a *RunError.
func (o *Optimisation) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.state != Initialized {
		o.mu.Unlock()
		return nil, WrapError(ErrInvalidConfig, "optimisation already started").WithComponent("driver")
	}
	o.state = Running
	o.mu.Unlock()

	logger := o.logger.With(zap.String("run", o.name), zap.String("optimiser", o.optimiser.Name()))
	if closer, ok := o.optimiser.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("closing optimiser", zap.Error(err))
			}
		}()
	}

	r := &run{
		start:    time.Now(),
		bestCost: math.Inf(1),
		worst:    math.NaN(),
	}

	optRng := rand.New(rand.NewSource(o.rng.Int63()))
	if err := o.optimiser.Init(append([]float64(nil), o.x0...), append([]float64(nil), o.sigma0...), o.bounds, optRng); err != nil {
		return o.fail(logger, r, WrapError(err, "initialise optimiser").WithOperation("init"))
	}

	logger.Info("starting optimisation",
		zap.Int("dimensions", o.params.Len()),
		zap.Int("max_iterations", o.cfg.MaxIterations),
		zap.Int("workers", o.cfg.Pool.Workers()),
	)

	outcomes, costs, _, err := o.evaluate(ctx, [][]float64{o.x0}, logger, r)
	if err != nil {
		return o.fail(logger, r, WrapError(err, "evaluate initial guess").WithOperation("evaluate"))
	}
	r.best = outcomes[0].x
	r.bestCost = costs[0]
	r.reference = r.bestCost
	r.record(costs[0])

	if o.cfg.MaxIterations == 0 {
		return o.finish(logger, r, MaxIterationsReached, "max iterations is zero"), nil
	}

	for {
		if ctx.Err() != nil || o.stopped.Load() {
			return o.finish(logger, r, Cancelled, "optimisation cancelled"), nil
		}

		next := r.iteration + 1
		candidates, err := o.optimiser.Ask()
		if errors.Is(err, ErrSearchComplete) {
			return o.finish(logger, r, Converged, "optimiser completed its search"), nil
		}
		if err != nil {
			return o.failAt(logger, r, next, WrapError(err, "ask").WithOperation("ask"))
		}
		if len(candidates) == 0 {
			return o.failAt(logger, r, next, WrapError(ErrOptimiserFailure, "optimiser proposed no candidates").WithOperation("ask"))
		}

		outcomes, costs, gradients, err := o.evaluate(ctx, candidates, logger, r)
		if err != nil {
			return o.failAt(logger, r, next, WrapError(err, "evaluate").WithOperation("evaluate"))
		}

		iterationBest := math.Inf(1)
		for i, c := range costs {
			if c < iterationBest {
				iterationBest = c
				if c < r.bestCost {
					r.bestCost = c
					r.best = outcomes[i].x
				}
			}
		}

		if o.gradient != nil {
			err = o.optimiser.(GradientOptimiser).TellWithGradient(costs, gradients)
		} else {
			err = o.optimiser.Tell(costs)
		}
		if err != nil {
			return o.failAt(logger, r, next, WrapError(err, "tell").WithOperation("tell"))
		}

		r.iteration = next
		if r.reference-r.bestCost > o.cfg.UnchangedThreshold {
			r.reference = r.bestCost
			r.lastImprovement = r.iteration
		}
		r.record(iterationBest)
		o.report(logger, r, iterationBest)

		if reason, msg, done := o.stopReason(r); done {
			return o.finish(logger, r, reason, msg), nil
		}
	}
}

// evaluate applies the bounds policy to the candidates, evaluates the
// survivors on the pool and turns every outcome into the cost told to the
// optimiser. Only errors that end the run are returned.
func (o *Optimisation) evaluate(ctx context.Context, candidates [][]float64, logger *zap.Logger, r *run) ([]outcome, []float64, [][]float64, error) {
	outcomes := make([]outcome, len(candidates))
	for i, c := range candidates {
		if err := o.params.Check(c); err != nil {
			return nil, nil, nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		x := append([]float64(nil), c...)
		if !o.cfg.AllowInfeasibleSolutions && o.bounds != nil && !o.bounds.Contains(x) {
			switch o.cfg.BoundaryPolicy {
			case BoundaryClip:
				x = o.bounds.Clip(x)
			case BoundaryResample:
				x = o.bounds.Resample(x, o.rng)
			default:
				outcomes[i].ev = cost.Infeasible(fmt.Errorf("%w: outside bounds", ErrInfeasibleCandidate))
				continue
			}
		}
		outcomes[i].x = x
	}

	// Cancellation is only observed between iterations.
	evalCtx := context.WithoutCancel(ctx)
	_ = o.cfg.Pool.Run(evalCtx, len(outcomes), func(ctx context.Context, i int) error {
		out := &outcomes[i]
		if out.x == nil {
			return nil
		}
		if o.cfg.EvaluationTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.cfg.EvaluationTimeout)
			defer cancel()
		}
		begin := time.Now()
		if o.gradient != nil {
			out.ev, out.err = o.gradient.EvaluateWithGradient(ctx, out.x)
		} else {
			out.ev, out.err = o.cost.Evaluate(ctx, out.x)
		}
		out.elapsed = time.Since(begin)
		return nil
	})

	for i := range outcomes {
		out := &outcomes[i]
		if out.x != nil {
			r.evaluations++
			if o.recorder != nil {
				o.recorder.ObserveEvaluation(o.optimiser.Name(), out.err == nil && out.ev.Feasible, out.elapsed)
			}
		}
		if out.err != nil {
			return nil, nil, nil, fmt.Errorf("candidate %d: %w", i, out.err)
		}
		if out.ev.Feasible && math.IsNaN(out.ev.Cost) {
			out.ev = cost.Infeasible(fmt.Errorf("%w: cost is NaN", ErrInfeasibleCandidate))
		}
		if !out.ev.Feasible {
			if o.cfg.FatalSolverFailures && errors.Is(out.ev.Cause, ErrSolverDivergence) {
				return nil, nil, nil, fmt.Errorf("candidate %d: %w", i, out.ev.Cause)
			}
			logger.Debug("infeasible candidate", zap.Int("candidate", i), zap.Error(out.ev.Cause))
			continue
		}
		if !math.IsInf(out.ev.Cost, 0) && (math.IsNaN(r.worst) || out.ev.Cost > r.worst) {
			r.worst = out.ev.Cost
		}
	}

	costs := make([]float64, len(outcomes))
	gradients := make([][]float64, len(outcomes))
	for i, out := range outcomes {
		switch {
		case out.ev.Feasible:
			costs[i] = out.ev.Cost
			gradients[i] = out.ev.Gradient
		case o.cfg.AllowInfeasibleSolutions:
			costs[i] = o.cfg.Penalty.Penalty(r.worst)
		default:
			costs[i] = math.Inf(1)
		}
	}
	return outcomes, costs, gradients, nil
}

func (r *run) record(iterationBest float64) {
	r.history = append(r.history, HistoryEntry{
		Iteration:     r.iteration,
		BestCost:      r.bestCost,
		IterationBest: iterationBest,
		Evaluations:   r.evaluations,
		Best:          append([]float64(nil), r.best...),
	})
}

func (o *Optimisation) report(logger *zap.Logger, r *run, iterationBest float64) {
	fields := []zap.Field{
		zap.Int("iteration", r.iteration),
		zap.Float64("best_cost", r.bestCost),
		zap.Float64("iteration_best", iterationBest),
		zap.Int("evaluations", r.evaluations),
	}
	if o.cfg.Verbose {
		logger.Info("iteration", fields...)
	} else {
		logger.Debug("iteration", fields...)
	}

	if o.recorder != nil {
		o.recorder.ObserveIteration(o.optimiser.Name(), r.bestCost)
	}
	if o.progress != nil {
		o.progress(Progress{
			Iteration:     r.iteration,
			BestCost:      r.bestCost,
			IterationBest: iterationBest,
			Evaluations:   r.evaluations,
			Elapsed:       time.Since(r.start),
		})
	}
}

// stopReason checks the stopping conditions in priority order
func (o *Optimisation) stopReason(r *run) (State, string, bool) {
	if t := o.cfg.TargetCost; t != nil && r.bestCost <= *t {
		return Converged, fmt.Sprintf("best cost %g reached target %g", r.bestCost, *t), true
	}
	if w := o.cfg.ConvergenceWindow; w > 0 && r.iteration >= w {
		improvement := r.history[r.iteration-w].BestCost - r.bestCost
		if improvement < o.cfg.ConvergenceTolerance {
			return Converged, fmt.Sprintf("best cost improved by %g over %d iterations", improvement, w), true
		}
	}
	if m := o.cfg.MaxUnchangedIterations; m > 0 && r.iteration-r.lastImprovement >= m {
		return Stalled, fmt.Sprintf("no improvement above %g for %d iterations", o.cfg.UnchangedThreshold, m), true
	}
	if r.iteration >= o.cfg.MaxIterations {
		return MaxIterationsReached, fmt.Sprintf("reached %d iterations", o.cfg.MaxIterations), true
	}
	return "", "", false
}

func (o *Optimisation) result(r *run, reason State, msg string) *Result {
	var best parameters.Vector
	if r.best != nil {
		best, _ = o.params.Vector(r.best)
	}
	return &Result{
		Name:        o.name,
		Optimiser:   o.optimiser.Name(),
		Best:        best,
		BestCost:    r.bestCost,
		History:     r.history,
		Reason:      reason,
		Message:     msg,
		Iterations:  r.iteration,
		Evaluations: r.evaluations,
		Duration:    time.Since(r.start),
	}
}

func (o *Optimisation) finish(logger *zap.Logger, r *run, reason State, msg string) *Result {
	res := o.result(r, reason, msg)
	o.setState(reason)
	if o.recorder != nil {
		o.recorder.ObserveRun(res.Optimiser, reason, res.Duration)
	}
	logger.Info("optimisation finished",
		zap.String("reason", string(reason)),
		zap.String("message", msg),
		zap.Float64("best_cost", res.BestCost),
		zap.Int("iterations", res.Iterations),
		zap.Int("evaluations", res.Evaluations),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func (o *Optimisation) fail(logger *zap.Logger, r *run, err error) (*Result, error) {
	return o.failAt(logger, r, r.iteration, err)
}

func (o *Optimisation) failAt(logger *zap.Logger, r *run, iteration int, err error) (*Result, error) {
	res := o.result(r, Failed, err.Error())
	o.setState(Failed)
	if o.recorder != nil {
		o.recorder.ObserveRun(res.Optimiser, Failed, res.Duration)
	}
	logger.Error("optimisation failed", zap.Int("iteration", iteration), zap.Error(err))
	return nil, &RunError{Iteration: iteration, Result: res, Err: err}
}
