package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/optimization"
)

// JobStatus is the lifecycle state of a fit job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job has finished
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// FitRequest starts a fit. Manifest is a manifest object, or a string
// holding a YAML manifest. Data maps signal names to values and must
// include the time axis.
type FitRequest struct {
	Manifest json.RawMessage      `json:"manifest"`
	Data     map[string][]float64 `json:"data"`
}

// job is the server side state of one fit. Fields below mu in Server are
// guarded by it.
type job struct {
	id        string
	name      string
	optimiser string
	created   time.Time
	started   *time.Time
	finished  *time.Time
	status    JobStatus
	progress  *optimization.Progress
	result    *optimization.Result
	err       string

	run    *optimization.Optimisation
	cancel context.CancelFunc
}

// ProgressView is the last reported iteration of a running fit
type ProgressView struct {
	Iteration   int      `json:"iteration"`
	BestCost    *float64 `json:"best_cost"`
	Evaluations int      `json:"evaluations"`
	ElapsedMS   int64    `json:"elapsed_ms"`
}

// HistoryView is one entry of a result's history
type HistoryView struct {
	Iteration   int      `json:"iteration"`
	BestCost    *float64 `json:"best_cost"`
	Evaluations int      `json:"evaluations"`
}

// ResultView is the JSON form of optimization.Result. Infinite costs
// (nothing feasible was found) are null.
type ResultView struct {
	Name        string             `json:"name,omitempty"`
	Optimiser   string             `json:"optimiser"`
	Parameters  map[string]float64 `json:"parameters"`
	BestCost    *float64           `json:"best_cost"`
	Reason      string             `json:"reason"`
	Message     string             `json:"message"`
	Iterations  int                `json:"iterations"`
	Evaluations int                `json:"evaluations"`
	DurationMS  int64              `json:"duration_ms"`
	History     []HistoryView      `json:"history"`
}

// JobView is the JSON form of a fit job
type JobView struct {
	ID         string        `json:"fit_id"`
	Name       string        `json:"name,omitempty"`
	Optimiser  string        `json:"optimiser"`
	Status     JobStatus     `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Progress   *ProgressView `json:"progress,omitempty"`
	Result     *ResultView   `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// view snapshots the job; the caller holds the server lock
func (j *job) view() JobView {
	v := JobView{
		ID:         j.id,
		Name:       j.name,
		Optimiser:  j.optimiser,
		Status:     j.status,
		CreatedAt:  j.created,
		StartedAt:  j.started,
		FinishedAt: j.finished,
		Error:      j.err,
	}
	if p := j.progress; p != nil {
		v.Progress = &ProgressView{
			Iteration:   p.Iteration,
			BestCost:    finite(p.BestCost),
			Evaluations: p.Evaluations,
			ElapsedMS:   p.Elapsed.Milliseconds(),
		}
	}
	v.Result = NewResultView(j.result)
	return v
}

// NewResultView converts a driver result; nil stays nil
func NewResultView(r *optimization.Result) *ResultView {
	if r == nil {
		return nil
	}
	rv := &ResultView{
		Name:        r.Name,
		Optimiser:   r.Optimiser,
		BestCost:    finite(r.BestCost),
		Reason:      string(r.Reason),
		Message:     r.Message,
		Iterations:  r.Iterations,
		Evaluations: r.Evaluations,
		DurationMS:  r.Duration.Milliseconds(),
		History:     make([]HistoryView, len(r.History)),
	}
	if r.Best.Len() > 0 {
		rv.Parameters = r.Best.Map()
	}
	for i, h := range r.History {
		rv.History[i] = HistoryView{Iteration: h.Iteration, BestCost: finite(h.BestCost), Evaluations: h.Evaluations}
	}
	return rv
}

// execute waits for a job slot, runs the fit and records the outcome
func (s *Server) execute(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer j.cancel()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.finish(j, StatusCancelled, nil, "cancelled before start")
		return
	}

	now := time.Now()
	s.mu.Lock()
	j.status = StatusRunning
	j.started = &now
	s.mu.Unlock()

	s.logger.Info("Fit started", map[string]interface{}{"fit_id": j.id, "optimiser": j.optimiser})
	if s.recorder != nil {
		s.recorder.RunStarted()
	}
	result, err := j.run.Run(ctx)
	if s.recorder != nil {
		s.recorder.RunFinished()
	}
	switch {
	case err != nil:
		var runErr *optimization.RunError
		if stderrors.As(err, &runErr) {
			result = runErr.Result
		}
		s.logger.Error("Fit failed", map[string]interface{}{"fit_id": j.id, "error": err.Error()})
		s.finish(j, StatusFailed, result, err.Error())
	case result.Reason == optimization.Cancelled:
		s.finish(j, StatusCancelled, result, "")
	default:
		s.logger.Info("Fit completed", map[string]interface{}{
			"fit_id":    j.id,
			"reason":    string(result.Reason),
			"best_cost": result.BestCost,
		})
		s.finish(j, StatusCompleted, result, "")
	}
}

func (s *Server) finish(j *job, status JobStatus, result *optimization.Result, msg string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j.status = status
	j.finished = &now
	j.result = result
	j.err = msg
	j.run = nil
}

// progress records the latest iteration of a job
func (s *Server) progress(j *job) func(optimization.Progress) {
	return func(p optimization.Progress) {
		s.mu.Lock()
		j.progress = &p
		s.mu.Unlock()
	}
}

// prune forgets finished jobs older than the retention period; the caller
// holds the lock
func (s *Server) prune(now time.Time) {
	retention := s.cfg.Optimization.JobRetention
	if retention <= 0 {
		return
	}
	for id, j := range s.jobs {
		if j.finished != nil && now.Sub(*j.finished) > retention {
			delete(s.jobs, id)
			s.zap.Debug("pruned fit", zap.String("fit_id", id))
		}
	}
}
