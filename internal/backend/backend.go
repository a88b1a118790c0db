package backend

import (
	"context"
	"encoding/json"

	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/model"
)

// Backend is the interface that every execution venue must implement.
type Backend interface {
	// Execute runs an analysis and returns the venue-native result. The context
	// is the run's cancellation signal; every blocking point must observe it.
	Execute(ctx context.Context, in *model.AnalysisInput, rep Reporter) (RawResult, error)

	// Capabilities reports what this backend is.
	Capabilities() Capabilities
}

// Reporter receives staged progress from a backend.
type Reporter interface {
	Report(stage model.Stage, progress int, message string, isCloud bool)
}

// RawResult holds a venue-native result. Exactly one of Solution and Remote
// is set on success.
type RawResult struct {
	// Solution is the kernel-native result of the local venue.
	Solution *kernel.Solution

	// Remote is the result object of a completed remote job.
	Remote json.RawMessage

	// JobID is the remote job that produced Remote.
	JobID string
}

// Capabilities describes a backend.
type Capabilities struct {
	Name  string      `json:"name"`
	Venue model.Venue `json:"venue"`
}
