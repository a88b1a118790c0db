// Package normalize converts venue-specific raw results into the canonical
// model.AnalysisResult so that callers never see which venue produced a run,
// apart from SolverInfo.IsCloud and SolverInfo.Method.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seantiz/beamlab/internal/backend"
	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/model"
)

// Method names reported when the producer did not name its solver.
const (
	DefaultLocalMethod  = "local-sparse"
	DefaultRemoteMethod = "cloud-sparse"
)

// ErrEmptyResult is returned when a raw result carries no payload for its venue.
var ErrEmptyResult = errors.New("normalize: empty result")

// Params carries the run facts that the raw result does not.
type Params struct {
	Venue       model.Venue
	NodeCount   int
	MemberCount int

	// TotalMS is the wall-clock duration of the run as measured by the caller.
	TotalMS float64
}

// Normalize builds the canonical result for raw.
func Normalize(raw backend.RawResult, p Params) (*model.AnalysisResult, error) {
	var (
		res *model.AnalysisResult
		err error
	)
	switch p.Venue {
	case model.VenueLocal:
		if raw.Solution == nil {
			return nil, ErrEmptyResult
		}
		res = fromSolution(raw.Solution)
	case model.VenueRemote:
		if isEmptyJSON(raw.Remote) {
			return nil, ErrEmptyResult
		}
		res, err = fromRemote(raw.Remote)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("normalize: unknown venue %q", p.Venue)
	}

	res.Timing.Total = p.TotalMS
	res.SolverInfo.IsCloud = p.Venue == model.VenueRemote
	res.SolverInfo.NodeCount = p.NodeCount
	res.SolverInfo.MemberCount = p.MemberCount
	if res.SolverInfo.Method == "" {
		if res.SolverInfo.IsCloud {
			res.SolverInfo.Method = DefaultRemoteMethod
		} else {
			res.SolverInfo.Method = DefaultLocalMethod
		}
	}
	return res, nil
}

func fromSolution(sol *kernel.Solution) *model.AnalysisResult {
	res := &model.AnalysisResult{
		Displacements:      clone(sol.Displacements),
		Reactions:          clone(sol.Reactions),
		NodalDisplacements: make(map[string]model.NodalDisplacement, len(sol.NodalDisplacements)),
		NodalReactions:     make(map[string]model.NodalReaction, len(sol.NodalReactions)),
		Timing:             model.Timing{Assembly: sol.Timing.Assembly, Solve: sol.Timing.Solve},
		SolverInfo:         model.SolverInfo{Method: sol.SolverType},
	}
	for id, d := range sol.NodalDisplacements {
		res.NodalDisplacements[id] = model.NodalDisplacement{DX: d[0], DY: d[1], DZ: d[2], RX: d[3], RY: d[4], RZ: d[5]}
	}
	for id, r := range sol.NodalReactions {
		res.NodalReactions[id] = model.NodalReaction{FX: r[0], FY: r[1], FZ: r[2], MX: r[3], MY: r[4], MZ: r[5]}
	}
	if sol.MatrixStats != nil {
		ms := *sol.MatrixStats
		res.MatrixStats = &ms
	}
	return res
}

// remoteResult is the wire shape of a completed remote job's result.
type remoteResult struct {
	Displacements      []float64                          `json:"displacements"`
	Reactions          []float64                          `json:"reactions"`
	NodalDisplacements map[string]model.NodalDisplacement `json:"nodalDisplacements"`
	NodalReactions     map[string]model.NodalReaction     `json:"nodalReactions"`
	Timing             map[string]float64                 `json:"timing"`
	SolverInfo         struct {
		Method string `json:"method"`
	} `json:"solverInfo"`
	SolverType  string             `json:"solverType"`
	MatrixStats *remoteMatrixStats `json:"matrixStats"`
}

// remoteMatrixStats accepts both spellings of the non-zero count.
type remoteMatrixStats struct {
	Size          int     `json:"size"`
	NonzeroCount  *int    `json:"nonzeroCount"`
	NNZ           *int    `json:"nnz"`
	Density       float64 `json:"density"`
	MemorySavedMB float64 `json:"memorySavedMB"`
}

func fromRemote(data json.RawMessage) (*model.AnalysisResult, error) {
	var rr remoteResult
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("normalize: decode remote result: %w", err)
	}

	res := &model.AnalysisResult{
		Displacements:      clone(rr.Displacements),
		Reactions:          clone(rr.Reactions),
		NodalDisplacements: make(map[string]model.NodalDisplacement, len(rr.NodalDisplacements)),
		NodalReactions:     make(map[string]model.NodalReaction, len(rr.NodalReactions)),
		Timing: model.Timing{
			Assembly: rr.Timing["assembly"],
			Solve:    rr.Timing["solve"],
		},
		SolverInfo: model.SolverInfo{Method: rr.SolverInfo.Method},
	}
	if res.SolverInfo.Method == "" {
		res.SolverInfo.Method = rr.SolverType
	}
	for id, d := range rr.NodalDisplacements {
		res.NodalDisplacements[id] = d
	}
	for id, r := range rr.NodalReactions {
		res.NodalReactions[id] = r
	}
	if ms := rr.MatrixStats; ms != nil {
		out := &model.MatrixStats{Size: ms.Size, Density: ms.Density, MemorySavedMB: ms.MemorySavedMB}
		switch {
		case ms.NonzeroCount != nil:
			out.NonzeroCount = *ms.NonzeroCount
		case ms.NNZ != nil:
			out.NonzeroCount = *ms.NNZ
		}
		res.MatrixStats = out
	}
	return res, nil
}

// isEmptyJSON reports whether data is absent or a JSON null.
func isEmptyJSON(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// clone returns a non-nil copy of s.
func clone(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
