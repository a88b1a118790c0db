package model

import "encoding/json"

// JobStatus is the remote service's status of a submitted job.
type JobStatus string

// Remote job statuses.
const (
	JobQueued         JobStatus = "queued"
	JobAssembling     JobStatus = "assembling"
	JobSolving        JobStatus = "solving"
	JobPostprocessing JobStatus = "postprocessing"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
)

// Terminal reports whether no further status changes are expected.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is the remote record of one submitted analysis, as returned by a
// status poll. Result is kept raw until normalization.
type Job struct {
	ID       string          `json:"id,omitempty"`
	Status   JobStatus       `json:"status"`
	Progress float64         `json:"progress"`
	Stage    string          `json:"stage,omitempty"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// SubmitResponse is the remote service's reply to a job submission.
type SubmitResponse struct {
	JobID     string `json:"jobId"`
	NodeCount int    `json:"nodeCount"`
}
