// Package server exposes fit jobs over HTTP and JSON-RPC 2.0.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/config"
	"github.com/copyleftdev/cellfit/internal/dataset"
	apperrors "github.com/copyleftdev/cellfit/internal/errors"
	"github.com/copyleftdev/cellfit/internal/logging"
	"github.com/copyleftdev/cellfit/internal/manifest"
	"github.com/copyleftdev/cellfit/internal/metrics"
	"github.com/copyleftdev/cellfit/internal/optimization"
)

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Option configures a Server
type Option func(*Server)

// WithRecorder exports job metrics and serves them on /metrics
func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithPool shares an evaluation pool between all jobs
func WithPool(p *optimization.Pool) Option {
	return func(s *Server) { s.pool = p }
}

// WithZapLogger sets the logger handed to the optimisation driver
func WithZapLogger(z *zap.Logger) Option {
	return func(s *Server) {
		if z != nil {
			s.zap = z
		}
	}
}

const defaultMaxBody = 32 << 20

// Server runs fit jobs in the background. At most cfg.Optimization.MaxJobs
// fits run at once; the rest wait as pending.
type Server struct {
	cfg      *config.Config
	logger   Logger
	zap      *zap.Logger
	recorder *metrics.Recorder
	pool     *optimization.Pool

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	slots   chan struct{}
	maxBody int64
	closed  bool

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	maxJobs := cfg.Optimization.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	maxBody := cfg.HTTP.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		zap:     zap.NewNop(),
		ctx:     ctx,
		stop:    stop,
		slots:   make(chan struct{}, maxJobs),
		maxBody: maxBody,
		jobs:    make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the REST API, the JSON-RPC endpoint, the health
// check and, with a recorder, the metrics endpoint
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fits", apperrors.Handle(s.logger, s.handleCreate))
		r.Get("/fits", apperrors.Handle(s.logger, s.handleList))
		r.Get("/fits/{id}", apperrors.Handle(s.logger, s.handleStatus))
		r.Delete("/fits/{id}", apperrors.Handle(s.logger, s.handleCancel))
	})

	r.Post("/rpc", s.handleJSONRPC)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.recorder != nil {
		r.Handle("/metrics", s.recorder.Handler())
	}
}

// Start validates and queues a fit
func (s *Server) Start(req FitRequest) (JobView, error) {
	m, err := parseManifest(req.Manifest)
	if err != nil {
		return JobView{}, err
	}
	data, err := dataset.New(req.Data)
	if err != nil {
		return JobView{}, apperrors.BadRequest("data: %v", err)
	}

	id := uuid.NewString()
	logger := s.zap.With(zap.String("fit_id", id))
	run, err := m.Build(data, s.cfg.RunDefaults(), logger)
	if err != nil {
		return JobView{}, apperrors.BadRequest("%v", err)
	}
	run.Config.Pool = s.pool

	j := &job{
		id:        id,
		name:      m.Name,
		optimiser: run.Optimiser.Name(),
		created:   time.Now(),
		status:    StatusPending,
	}
	opts := []optimization.Option{
		optimization.WithLogger(logger),
		optimization.WithName(m.Name),
		optimization.WithProgress(s.progress(j)),
	}
	if s.recorder != nil {
		opts = append(opts, optimization.WithRecorder(s.recorder))
	}
	j.run, err = optimization.New(run.Cost, run.Optimiser, run.Config, opts...)
	if err != nil {
		return JobView{}, apperrors.BadRequest("%v", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return JobView{}, apperrors.New("server is shutting down").WithStatus(http.StatusServiceUnavailable)
	}
	s.prune(j.created)
	var ctx context.Context
	ctx, j.cancel = context.WithCancel(s.ctx)
	s.jobs[id] = j
	s.wg.Add(1)
	view := j.view()
	s.mu.Unlock()

	go s.execute(ctx, j)

	s.logger.Info("Fit queued", map[string]interface{}{"fit_id": id, "optimiser": j.optimiser})
	return view, nil
}

// parseManifest accepts a manifest object or a YAML document in a string
func parseManifest(raw json.RawMessage) (*manifest.Manifest, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, apperrors.BadRequest("manifest is required")
	}
	doc := []byte(raw)
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		doc = []byte(text)
	}
	m, err := manifest.Parse(doc)
	if err != nil {
		return nil, apperrors.Wrap(err, "manifest").WithStatus(http.StatusBadRequest)
	}
	return m, nil
}

// Status returns a snapshot of a fit
func (s *Server) Status(id string) (JobView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobView{}, apperrors.NotFound("fit %q not found", id)
	}
	return j.view(), nil
}

// List returns every known fit, oldest first
func (s *Server) List() []JobView {
	s.mu.RLock()
	views := make([]JobView, 0, len(s.jobs))
	for _, j := range s.jobs {
		views = append(views, j.view())
	}
	s.mu.RUnlock()
	sort.Slice(views, func(a, b int) bool { return views[a].CreatedAt.Before(views[b].CreatedAt) })
	return views
}

// Cancel asks a fit to stop. A running fit ends after its current
// iteration and keeps its best result so far.
func (s *Server) Cancel(id string) (JobView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return JobView{}, apperrors.NotFound("fit %q not found", id)
	}
	if j.status.Terminal() {
		return JobView{}, apperrors.Conflict("cannot cancel fit with status %s", j.status)
	}
	j.cancel()

	s.logger.Info("Fit cancellation requested", map[string]interface{}{
		"fit_id": id,
	})
	return j.view(), nil
}

// Close cancels every fit and waits for them to return
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req FitRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body: %v", err)
	}
	view, err := s.Start(req)
	if err != nil {
		return err
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/fits/%s", view.ID))
	return writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) error {
	view, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) error {
	view, err := s.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, view)
}
