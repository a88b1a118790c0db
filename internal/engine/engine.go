package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/beamlab/internal/backend"
	"github.com/seantiz/beamlab/internal/model"
	"github.com/seantiz/beamlab/internal/normalize"
	"github.com/seantiz/beamlab/internal/progress"
	"github.com/seantiz/beamlab/internal/store"
)

// DefaultHealthTimeout bounds a remote health probe.
const DefaultHealthTimeout = 10 * time.Second

// ErrBusy is returned when an analysis is started while another one is in
// flight. The running analysis is not affected.
var ErrBusy = errors.New("an analysis is already running")

// HealthChecker probes the remote service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options configures an Orchestrator.
type Options struct {
	// NodeThreshold is the model size at which runs go remote.
	NodeThreshold int

	HealthTimeout time.Duration

	// ProgressRetention is how long a finished run's progress topic stays
	// subscribable. Zero selects progress.DefaultRetention.
	ProgressRetention time.Duration

	// OnProgress is invoked synchronously for every progress event, in order.
	OnProgress func(p model.AnalysisProgress)

	// OnToast is invoked at remote submission, completion, cancellation and
	// failure.
	OnToast func(message string, severity model.Severity)
}

// Orchestrator runs one analysis at a time.
type Orchestrator struct {
	store    store.Store
	registry *backend.Registry
	health   HealthChecker
	logger   *slog.Logger
	opts     Options
	broker   *progress.Broker
	wg       sync.WaitGroup

	mu     sync.Mutex
	active *activeRun
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator. health may be nil when no remote
// service is configured.
func NewOrchestrator(s store.Store, reg *backend.Registry, health HealthChecker, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	return &Orchestrator{
		store:    s,
		registry: reg,
		health:   health,
		logger:   logger,
		opts:     opts,
		broker:   progress.NewBroker(opts.ProgressRetention),
	}
}

// Broker returns the orchestrator's progress broker for SSE subscription.
func (o *Orchestrator) Broker() *progress.Broker {
	return o.broker
}

// Analyze runs an analysis to completion and returns its result. Cancelling
// ctx or calling Cancel ends the run with a user_cancelled error.
func (o *Orchestrator) Analyze(ctx context.Context, in *model.AnalysisInput) (*model.AnalysisResult, error) {
	run, runCtx, err := o.begin(ctx, in)
	if err != nil {
		return nil, err
	}
	return o.execute(runCtx, run, in)
}

// Start records a run and executes it in a goroutine. The returned run is
// in status venue_decided. Execution is detached from the caller; use Cancel
// to stop it.
func (o *Orchestrator) Start(in *model.AnalysisInput) (*model.Run, error) {
	run, runCtx, err := o.begin(context.Background(), in)
	if err != nil {
		return nil, err
	}

	runCopy := *run
	o.wg.Go(func() {
		_, _ = o.execute(runCtx, run, in)
	})
	return &runCopy, nil
}

// Cancel triggers the active run's cancellation. It reports whether a run was
// active.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil {
		return false
	}
	o.logger.Info("cancelling analysis", "run_id", o.active.id)
	o.active.cancel()
	return true
}

// Active returns the id of the run in flight, if any.
func (o *Orchestrator) Active() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil {
		return "", false
	}
	return o.active.id, true
}

// Wait blocks until all runs launched by Start complete.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// CheckHealth probes the remote service. Failures are reported in the
// returned status, never as an error.
func (o *Orchestrator) CheckHealth(ctx context.Context) model.HealthStatus {
	if o.health == nil {
		healthChecksTotal.WithLabelValues(healthUnavailable).Inc()
		return model.HealthStatus{Error: "remote service not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.HealthTimeout)
	defer cancel()

	if err := o.health.Health(ctx); err != nil {
		healthChecksTotal.WithLabelValues(healthUnavailable).Inc()
		o.logger.Warn("remote health check failed", "error", err)
		return model.HealthStatus{Error: err.Error()}
	}
	healthChecksTotal.WithLabelValues(healthAvailable).Inc()
	return model.HealthStatus{Available: true}
}

// begin validates the input, decides the venue and claims the orchestrator
// for a new run. The busy check and the claim happen under one lock.
func (o *Orchestrator) begin(ctx context.Context, in *model.AnalysisInput) (*model.Run, context.Context, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	venue := backend.Classify(in, o.opts.NodeThreshold)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		return nil, nil, ErrBusy
	}

	run := &model.Run{
		ID:          model.NewID(),
		Status:      model.StatusVenueDecided,
		Venue:       venue,
		NodeCount:   len(in.Nodes),
		MemberCount: len(in.Members),
		CreatedAt:   time.Now().UTC(),
	}
	o.broker.Open(run.ID)
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.broker.Close(run.ID)
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.active = &activeRun{id: run.ID, cancel: cancel}
	activeRuns.Set(1)

	o.logger.Info("analysis started", "run_id", run.ID, "venue", venue, "node_count", run.NodeCount)
	return run, runCtx, nil
}

// end releases the orchestrator, returning it to idle.
func (o *Orchestrator) end(runID string) {
	o.mu.Lock()
	if o.active != nil && o.active.id == runID {
		o.active.cancel()
		o.active = nil
		activeRuns.Set(0)
	}
	o.mu.Unlock()

	o.broker.Close(runID)
}

// execute runs the lifecycle venue_decided → running → completed, failed or
// cancelled.
func (o *Orchestrator) execute(ctx context.Context, run *model.Run, in *model.AnalysisInput) (*model.AnalysisResult, error) {
	defer o.end(run.ID)

	log := o.logger.With("run_id", run.ID, "venue", run.Venue)

	start := time.Now()
	startedAt := start.UTC()
	run.Status = model.StatusRunning
	run.StartedAt = &startedAt
	if err := o.store.UpdateRun(context.Background(), run); err != nil {
		log.Error("failed to transition to running", "error", err)
	}

	// Each event is persisted for history, then published for live SSE, then
	// handed to the caller's callback.
	seq := 0
	rep := progress.NewReporter(func(p model.AnalysisProgress) {
		ev := &model.ProgressEvent{
			RunID:    run.ID,
			Seq:      seq,
			Stage:    p.Stage,
			Progress: p.Progress,
			Message:  p.Message,
			IsCloud:  p.IsCloud,
		}
		seq++
		if err := o.store.InsertProgress(context.Background(), ev); err != nil {
			log.Error("failed to persist progress", "seq", ev.Seq, "error", err)
		}
		o.broker.Publish(run.ID, p)
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(p)
		}
	})
	// A kernel abandoned on cancellation may keep reporting after the run ends.
	defer rep.Close()

	b, err := o.registry.Resolve(run.Venue)
	if err != nil {
		return nil, o.fail(log, run, start, fmt.Errorf("resolve backend: %w", err))
	}

	if run.Venue == model.VenueRemote {
		o.toast(fmt.Sprintf("Submitting %d-node model to cloud solver", run.NodeCount), model.SeverityInfo)
	}

	raw, err := b.Execute(ctx, in, rep)
	elapsed := time.Since(start)
	if raw.JobID != "" {
		run.JobID = raw.JobID
	}
	if err != nil {
		return nil, o.fail(log, run, start, err)
	}

	res, err := normalize.Normalize(raw, normalize.Params{
		Venue:       run.Venue,
		NodeCount:   run.NodeCount,
		MemberCount: run.MemberCount,
		TotalMS:     float64(elapsed) / float64(time.Millisecond),
	})
	if err != nil {
		return nil, o.fail(log, run, start, fmt.Errorf("normalize result: %w", err))
	}

	finishedAt := time.Now().UTC()
	dur := int(elapsed.Milliseconds())
	run.Status = model.StatusCompleted
	run.Result = res
	run.DurationMS = &dur
	run.FinishedAt = &finishedAt
	if err := o.store.UpdateRun(context.Background(), run); err != nil {
		log.Error("failed to update completed run", "error", err)
	}

	runsTotal.WithLabelValues(string(run.Venue), model.StatusCompleted).Inc()
	runDuration.WithLabelValues(string(run.Venue)).Observe(elapsed.Seconds())

	log.Info("analysis completed", "job_id", run.JobID, "method", res.SolverInfo.Method, "duration_ms", dur)
	o.toast(fmt.Sprintf("Analysis complete in %d ms", dur), model.SeveritySuccess)
	return res, nil
}

// fail records a failed or cancelled run and returns err.
func (o *Orchestrator) fail(log *slog.Logger, run *model.Run, start time.Time, err error) error {
	kind := backend.KindOf(err)
	var be *backend.Error
	if errors.As(err, &be) && be.JobID != "" {
		run.JobID = be.JobID
	}

	status := model.StatusFailed
	if kind == backend.KindUserCancelled {
		status = model.StatusCancelled
	}

	finishedAt := time.Now().UTC()
	dur := int(time.Since(start).Milliseconds())
	run.Status = status
	run.Error = err.Error()
	run.ErrorKind = string(kind)
	run.DurationMS = &dur
	run.FinishedAt = &finishedAt
	if uerr := o.store.UpdateRun(context.Background(), run); uerr != nil {
		log.Error("failed to update finished run", "status", status, "error", uerr)
	}

	runsTotal.WithLabelValues(string(run.Venue), status).Inc()
	runDuration.WithLabelValues(string(run.Venue)).Observe(time.Since(start).Seconds())

	if status == model.StatusCancelled {
		log.Info("analysis cancelled", "job_id", run.JobID)
		o.toast("Analysis cancelled", model.SeverityInfo)
	} else {
		log.Error("analysis failed", "job_id", run.JobID, "kind", kind, "error", err)
		o.toast("Analysis failed: "+err.Error(), model.SeverityError)
	}
	return err
}

func (o *Orchestrator) toast(message string, severity model.Severity) {
	if o.opts.OnToast != nil {
		o.opts.OnToast(message, severity)
	}
}
