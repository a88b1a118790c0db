package kernel

import (
	"context"

	"github.com/seantiz/beamlab/internal/model"
)

// NullSolverType is the solver type reported by the null kernel.
const NullSolverType = "null"

// Null returns a factory whose kernels report a zero response for every
// degree of freedom. It backs the remote simulator and tests when no real
// solver is configured.
func Null() Factory {
	return FactoryFunc(func(m Model) (Kernel, error) {
		return SolveFunc(func(ctx context.Context, _ []model.Load) (*Solution, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return ZeroSolution(m.Nodes, m.Supports), nil
		}), nil
	})
}

// ZeroSolution builds a zero-displacement solution for nodes, with reaction
// entries for every supported node.
func ZeroSolution(nodes []model.Node, supports []model.Support) *Solution {
	n := len(nodes) * DOFs
	sol := &Solution{
		Displacements:      make([]float64, n),
		Reactions:          make([]float64, n),
		NodalDisplacements: make(map[string][DOFs]float64, len(nodes)),
		NodalReactions:     make(map[string][DOFs]float64, len(supports)),
		SolverType:         NullSolverType,
	}
	for _, node := range nodes {
		sol.NodalDisplacements[node.ID] = [DOFs]float64{}
	}
	for _, s := range supports {
		sol.NodalReactions[s.NodeID] = [DOFs]float64{}
	}
	return sol
}
