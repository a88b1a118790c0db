package model

import "time"

// Run status constants. StatusIdle is the orchestrator's resting state and is
// never persisted.
const (
	StatusIdle         = "idle"
	StatusVenueDecided = "venue_decided"
	StatusRunning      = "running"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusCancelled    = "cancelled"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusIdle: {
		StatusVenueDecided: true,
	},
	StatusVenueDecided: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {StatusIdle: true},
	StatusFailed:    {StatusIdle: true},
	StatusCancelled: {StatusIdle: true},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status ends a run.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// ProgressEvent is a persisted progress event of a run.
type ProgressEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Stage     Stage     `json:"stage"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	IsCloud   bool      `json:"is_cloud"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is the record of one analysis request.
type Run struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Venue       Venue           `json:"venue"`
	NodeCount   int             `json:"node_count"`
	MemberCount int             `json:"member_count"`
	JobID       string          `json:"job_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	DurationMS  *int            `json:"duration_ms,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}
