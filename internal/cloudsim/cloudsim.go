// Package cloudsim is an in-process stand-in for the remote solver service. It
// speaks the job protocol the remote client expects and steps each job through
// its stages on a timer, solving with an injected kernel.
package cloudsim

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/model"
)

// DefaultStepDelay is how long a job stays in each non-terminal stage.
const DefaultStepDelay = 250 * time.Millisecond

// DefaultRetention is how long a finished job stays queryable.
const DefaultRetention = 10 * time.Minute

const maxBodySize = 64 << 20

// SolverType is reported in results when the kernel names none.
const SolverType = "cloud-sparse"

// Options configures a Simulator.
type Options struct {
	StepDelay time.Duration
	Factory   kernel.Factory

	// Retention is how long a completed, failed or cancelled job is kept
	// before it is forgotten and reads as not found.
	Retention time.Duration
}

type job struct {
	model.Job
	nodeCount  int
	cancel     context.CancelFunc
	finishedAt time.Time
}

// Simulator holds jobs in memory.
type Simulator struct {
	stepDelay time.Duration
	retention time.Duration
	factory   kernel.Factory
	logger    *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*job
	router chi.Router
}

// New creates a simulator. A nil factory solves with kernel.Null.
func New(opts Options, logger *slog.Logger) *Simulator {
	if opts.StepDelay <= 0 {
		opts.StepDelay = DefaultStepDelay
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Factory == nil {
		opts.Factory = kernel.Null()
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Simulator{
		stepDelay: opts.StepDelay,
		retention: opts.Retention,
		factory:   opts.Factory,
		logger:    logger,
		ctx:       ctx,
		stop:      stop,
		jobs:      make(map[string]*job),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/analysis/cloud", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/health", s.handleHealth)
		r.Get("/{id}", s.handleStatus)
		r.Delete("/{id}", s.handleCancel)
	})
	s.router = r
	return s
}

// Handler returns the simulator's HTTP handler.
func (s *Simulator) Handler() http.Handler {
	return s.router
}

// Close cancels every running job and waits for them to stop.
func (s *Simulator) Close() {
	s.stop()
	s.wg.Wait()
}

// Job returns a snapshot of a job. Jobs finished longer ago than the
// retention period are not found.
func (s *Simulator) Job(id string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return j.Job, true
}

func (s *Simulator) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in model.AnalysisInput
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{
		Job:       model.Job{ID: uuid.NewString(), Status: model.JobQueued, Message: "Queued"},
		nodeCount: len(in.Nodes),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.pruneLocked()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	s.wg.Go(func() {
		defer cancel()
		s.run(ctx, j.ID, &in)
	})

	s.logger.Info("cloudsim: job accepted", "job_id", j.ID, "node_count", j.nodeCount)
	writeJSON(w, http.StatusAccepted, model.SubmitResponse{JobID: j.ID, NodeCount: j.nodeCount})
}

func (s *Simulator) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Simulator) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := s.Job(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Simulator) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	s.pruneLocked()
	j, ok := s.jobs[id]
	if ok && !j.Status.Terminal() {
		j.Status = model.JobCancelled
		j.Message = "Cancelled by client"
		j.finishedAt = time.Now()
		j.cancel()
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	s.logger.Info("cloudsim: job cancelled", "job_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// run steps a job through its stages. It stops as soon as the job is
// cancelled.
func (s *Simulator) run(ctx context.Context, id string, in *model.AnalysisInput) {
	steps := []struct {
		status   model.JobStatus
		progress float64
		message  string
	}{
		{model.JobAssembling, 20, "Assembling global stiffness matrix"},
		{model.JobSolving, 50, "Solving sparse system"},
	}
	for _, st := range steps {
		if !s.wait(ctx) {
			return
		}
		s.update(id, func(j *model.Job) {
			j.Status, j.Progress, j.Stage, j.Message = st.status, st.progress, string(st.status), st.message
		})
	}

	data, err := s.solve(ctx, in)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Warn("cloudsim: solve failed", "job_id", id, "error", err)
		s.update(id, func(j *model.Job) {
			j.Status, j.Error, j.Message = model.JobFailed, err.Error(), "Solve failed"
		})
		return
	}

	s.update(id, func(j *model.Job) {
		j.Status, j.Progress, j.Stage, j.Message = model.JobPostprocessing, 90, string(model.JobPostprocessing), "Computing reactions"
	})
	if !s.wait(ctx) {
		return
	}
	s.update(id, func(j *model.Job) {
		j.Status, j.Progress, j.Stage, j.Message, j.Result = model.JobCompleted, 100, "", "Analysis complete", data
	})
	s.logger.Info("cloudsim: job completed", "job_id", id)
}

func (s *Simulator) wait(ctx context.Context) bool {
	t := time.NewTimer(s.stepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// update applies fn unless the job already reached a terminal status.
func (s *Simulator) update(id string, fn func(*model.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && !j.Status.Terminal() {
		fn(&j.Job)
		if j.Status.Terminal() {
			j.finishedAt = time.Now()
		}
	}
}

// pruneLocked drops jobs that finished more than the retention period ago.
// s.mu must be held.
func (s *Simulator) pruneLocked() {
	now := time.Now()
	for id, j := range s.jobs {
		if !j.finishedAt.IsZero() && now.Sub(j.finishedAt) > s.retention {
			delete(s.jobs, id)
		}
	}
}

// wireResult is the result object of a completed job.
type wireResult struct {
	Displacements      []float64                          `json:"displacements"`
	Reactions          []float64                          `json:"reactions"`
	NodalDisplacements map[string]model.NodalDisplacement `json:"nodalDisplacements"`
	NodalReactions     map[string]model.NodalReaction     `json:"nodalReactions"`
	Timing             map[string]float64                 `json:"timing"`
	SolverType         string                             `json:"solverType"`
	MatrixStats        *wireMatrixStats                   `json:"matrixStats,omitempty"`
}

type wireMatrixStats struct {
	Size          int     `json:"size"`
	NNZ           int     `json:"nnz"`
	Density       float64 `json:"density"`
	MemorySavedMB float64 `json:"memorySavedMB"`
}

func (s *Simulator) solve(ctx context.Context, in *model.AnalysisInput) (json.RawMessage, error) {
	k, err := s.factory.New(kernel.Model{
		Nodes:    in.Nodes,
		Members:  in.Members,
		Supports: in.Supports,
		Options:  kernel.OptionsFrom(in.Options()),
	})
	if err != nil {
		return nil, err
	}
	sol, err := k.Solve(ctx, in.Loads)
	if err != nil {
		return nil, err
	}
	if sol == nil {
		return nil, errors.New("solver returned no solution")
	}

	out := wireResult{
		Displacements:      sol.Displacements,
		Reactions:          sol.Reactions,
		NodalDisplacements: make(map[string]model.NodalDisplacement, len(sol.NodalDisplacements)),
		NodalReactions:     make(map[string]model.NodalReaction, len(sol.NodalReactions)),
		Timing:             map[string]float64{"assembly": sol.Timing.Assembly, "solve": sol.Timing.Solve},
		SolverType:         sol.SolverType,
	}
	if out.SolverType == "" || out.SolverType == kernel.NullSolverType {
		out.SolverType = SolverType
	}
	for id, d := range sol.NodalDisplacements {
		out.NodalDisplacements[id] = model.NodalDisplacement{DX: d[0], DY: d[1], DZ: d[2], RX: d[3], RY: d[4], RZ: d[5]}
	}
	for id, r := range sol.NodalReactions {
		out.NodalReactions[id] = model.NodalReaction{FX: r[0], FY: r[1], FZ: r[2], MX: r[3], MY: r[4], MZ: r[5]}
	}
	if ms := sol.MatrixStats; ms != nil {
		out.MatrixStats = &wireMatrixStats{Size: ms.Size, NNZ: ms.NonzeroCount, Density: ms.Density, MemorySavedMB: ms.MemorySavedMB}
	}
	return json.Marshal(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
