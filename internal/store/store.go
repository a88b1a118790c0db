package store

import (
	"context"
	"errors"

	"github.com/seantiz/beamlab/internal/model"
)

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByVenue  map[string]int `json:"count_by_venue"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for analysis runs.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertProgress(ctx context.Context, ev *model.ProgressEvent) error
	GetProgress(ctx context.Context, runID string) ([]model.ProgressEvent, error)
	Close() error
}
