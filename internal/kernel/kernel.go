package kernel

import (
	"context"

	"github.com/seantiz/beamlab/internal/model"
)

// DOFs is the number of degrees of freedom per node.
const DOFs = 6

// Options are the numeric solver options passed through from the input config.
type Options struct {
	Tolerance     float64
	MaxIterations int
	UseIterative  bool
}

// ProgressFunc receives kernel-internal progress in the kernel's own 0-100 scale.
type ProgressFunc func(stage string, progress int, message string)

// Model is what a kernel is constructed with.
type Model struct {
	Nodes    []model.Node
	Members  []model.Member
	Supports []model.Support
	Options  Options

	// Progress is optional.
	Progress ProgressFunc
}

// Timing is the kernel's own phase breakdown in milliseconds.
type Timing struct {
	Assembly float64
	Solve    float64
}

// Solution is the kernel-native result. Nodal vectors are DOF-ordered
// (dx, dy, dz, rx, ry, rz for displacements; fx, fy, fz, mx, my, mz for
// reactions).
type Solution struct {
	Displacements      []float64
	Reactions          []float64
	NodalDisplacements map[string][DOFs]float64
	NodalReactions     map[string][DOFs]float64
	Timing             Timing
	SolverType         string
	MatrixStats        *model.MatrixStats
}

// Kernel solves one constructed model for a set of nodal loads.
type Kernel interface {
	Solve(ctx context.Context, loads []model.Load) (*Solution, error)
}

// Factory constructs kernels.
type Factory interface {
	New(m Model) (Kernel, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(m Model) (Kernel, error)

// New implements Factory.
func (f FactoryFunc) New(m Model) (Kernel, error) {
	return f(m)
}

// SolveFunc adapts a function to the Kernel interface.
type SolveFunc func(ctx context.Context, loads []model.Load) (*Solution, error)

// Solve implements Kernel.
func (f SolveFunc) Solve(ctx context.Context, loads []model.Load) (*Solution, error) {
	return f(ctx, loads)
}

// OptionsFrom extracts kernel options from an input's solver config.
func OptionsFrom(cfg model.SolverConfig) Options {
	return Options{
		Tolerance:     cfg.Tolerance,
		MaxIterations: cfg.MaxIterations,
		UseIterative:  cfg.UseIterative,
	}
}
