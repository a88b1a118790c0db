// Package local implements the local venue: it drives an injected numeric
// kernel on its own goroutine and stages progress around it.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/beamlab/internal/backend"
	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/model"
)

// BackendName is the name reported in the backend's capabilities.
const BackendName = "local-kernel"

// Visible progress milestones of a local run.
const (
	progressInit        = 5
	progressAssemble    = 15
	progressAssembled   = 40
	progressSolve       = 50
	progressSolved      = 85
	progressPostprocess = 95
	progressDone        = 100
)

// Executor runs analyses in-process through a kernel.Factory.
type Executor struct {
	factory kernel.Factory
	logger  *slog.Logger
}

var _ backend.Backend = (*Executor)(nil)

// NewExecutor creates a local executor.
func NewExecutor(factory kernel.Factory, logger *slog.Logger) *Executor {
	return &Executor{factory: factory, logger: logger}
}

// Capabilities implements backend.Backend.
func (e *Executor) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: BackendName, Venue: model.VenueLocal}
}

type outcome struct {
	sol *kernel.Solution
	err error
}

// Execute constructs a kernel for the input and solves it. Kernel failures
// are wrapped as local solve failures and never retried. Cancelling ctx
// returns immediately; the kernel is expected to observe ctx and unwind.
func (e *Executor) Execute(ctx context.Context, in *model.AnalysisInput, rep backend.Reporter) (backend.RawResult, error) {
	start := time.Now()

	rep.Report(model.StageInitializing, progressInit,
		fmt.Sprintf("Preparing model: %d nodes, %d members", len(in.Nodes), len(in.Members)), false)

	k, err := e.factory.New(kernel.Model{
		Nodes:    in.Nodes,
		Members:  in.Members,
		Supports: in.Supports,
		Options:  kernel.OptionsFrom(in.Options()),
		Progress: func(stage string, pct int, message string) {
			if ctx.Err() != nil {
				return
			}
			// Kernel-internal progress lands inside the solve window.
			visible := progressAssembled + pct*(progressSolved-progressAssembled)/100
			rep.Report(kernelStage(stage), visible, message, false)
		},
	})
	if err != nil {
		return backend.RawResult{}, backend.NewError(backend.KindLocalSolveFailure, "initialize numeric kernel", err)
	}

	rep.Report(model.StageAssembling, progressAssemble,
		fmt.Sprintf("Assembling stiffness matrix for %d members", len(in.Members)), false)
	rep.Report(model.StageAssembling, progressAssembled, "Kernel ready", false)
	rep.Report(model.StageSolving, progressSolve, "Solving system", false)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("kernel panic: %v", r)}
			}
		}()
		sol, err := k.Solve(ctx, in.Loads)
		done <- outcome{sol: sol, err: err}
	}()

	var res outcome
	select {
	case <-ctx.Done():
		e.logger.Debug("local: abandoning kernel after cancellation", "elapsed_ms", time.Since(start).Milliseconds())
		return backend.RawResult{}, backend.FromContext(ctx)
	case res = <-done:
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return backend.RawResult{}, backend.FromContext(ctx)
		}
		return backend.RawResult{}, backend.NewError(backend.KindLocalSolveFailure, "local solve failed", res.err)
	}
	if res.sol == nil {
		return backend.RawResult{}, backend.Errorf(backend.KindLocalSolveFailure, "local solve returned no solution")
	}

	rep.Report(model.StageSolving, progressSolved, "System solved", false)
	rep.Report(model.StagePostprocessing, progressPostprocess, "Computing reactions", false)

	e.logger.Debug("local: solve complete",
		"solver", res.sol.SolverType,
		"assembly_ms", res.sol.Timing.Assembly,
		"solve_ms", res.sol.Timing.Solve,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	rep.Report(model.StagePostprocessing, progressDone, "Analysis complete", false)
	return backend.RawResult{Solution: res.sol}, nil
}

// kernelStage maps a kernel's stage name onto the shared vocabulary.
func kernelStage(s string) model.Stage {
	switch model.Stage(s) {
	case model.StageInitializing, model.StageAssembling, model.StageSolving, model.StagePostprocessing:
		return model.Stage(s)
	default:
		return model.StageSolving
	}
}
