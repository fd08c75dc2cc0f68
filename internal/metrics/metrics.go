// Package metrics exports optimisation runs to Prometheus.
package metrics

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/cellfit/internal/optimization"
)

const namespace = "cellfit"

// Recorder implements optimization.Recorder on its own registry, so several
// recorders can live in one process (tests, embedded use).
type Recorder struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	iterations         *prometheus.CounterVec
	bestCost           *prometheus.GaugeVec
	runs               *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	activeRuns         prometheus.Gauge
}

var _ optimization.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder with the Go and process collectors
// registered alongside the run metrics
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Cost function evaluations by optimiser and feasibility",
			},
			[]string{"optimiser", "feasible"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Wall time of one cost function evaluation",
				Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
			},
			[]string{"optimiser"},
		),
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Completed optimiser iterations",
			},
			[]string{"optimiser"},
		),
		bestCost: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "best_cost",
				Help:      "Best cost of the most recent iteration reported by each optimiser",
			},
			[]string{"optimiser"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by optimiser and termination reason",
			},
			[]string{"optimiser", "reason"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a whole run",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"optimiser"},
		),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executing",
		}),
	}
	r.registry.MustRegister(
		r.evaluations, r.evaluationDuration, r.iterations, r.bestCost,
		r.runs, r.runDuration, r.activeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveEvaluation implements optimization.Recorder
func (r *Recorder) ObserveEvaluation(optimiser string, feasible bool, elapsed time.Duration) {
	label := "false"
	if feasible {
		label = "true"
	}
	r.evaluations.WithLabelValues(optimiser, label).Inc()
	r.evaluationDuration.WithLabelValues(optimiser).Observe(elapsed.Seconds())
}

// ObserveIteration implements optimization.Recorder. An infinite best cost
// (nothing feasible yet) leaves the gauge untouched.
func (r *Recorder) ObserveIteration(optimiser string, bestCost float64) {
	r.iterations.WithLabelValues(optimiser).Inc()
	if !math.IsInf(bestCost, 0) && !math.IsNaN(bestCost) {
		r.bestCost.WithLabelValues(optimiser).Set(bestCost)
	}
}

// ObserveRun implements optimization.Recorder
func (r *Recorder) ObserveRun(optimiser string, reason optimization.State, elapsed time.Duration) {
	r.runs.WithLabelValues(optimiser, string(reason)).Inc()
	r.runDuration.WithLabelValues(optimiser).Observe(elapsed.Seconds())
}

// RunStarted and RunFinished track the active run gauge. The service calls
// them around each job.
func (r *Recorder) RunStarted()  { r.activeRuns.Inc() }
func (r *Recorder) RunFinished() { r.activeRuns.Dec() }

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
