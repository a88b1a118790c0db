// Package remote implements the remote venue: a client for the job-based
// cloud solver that submits an analysis, then polls the job until it reaches a
// terminal status, the client-side time budget runs out, or the run is
// cancelled.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seantiz/beamlab/internal/backend"
	"github.com/seantiz/beamlab/internal/model"
)

// Client defaults.
const (
	// BackendName is the name reported in the backend's capabilities.
	BackendName = "cloud-solver"

	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxPollTime  = 300 * time.Second

	// MaxResponseSize bounds a response body; completed jobs carry full result vectors.
	MaxResponseSize = 256 << 20

	// cancelTimeout bounds the best-effort remote cancel issued after the run
	// context is already done.
	cancelTimeout = 5 * time.Second
)

// Visible progress window of a remote run.
const (
	progressUploadStart = 10
	progressUploaded    = 20
	progressPollCeiling = 95
	progressDone        = 100
	progressPollScale   = 0.75
)

// Remote endpoint paths, relative to the API base URL.
const (
	pathSubmit = "/analysis/cloud"
	pathHealth = "/analysis/cloud/health"
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	PollInterval time.Duration
	MaxPollTime  time.Duration

	// HTTPClient defaults to a client without a global timeout; every request
	// is bounded by the run context instead.
	HTTPClient *http.Client
}

// Client talks to the remote solver service.
type Client struct {
	baseURL      string
	pollInterval time.Duration
	maxPollTime  time.Duration
	http         *http.Client
	logger       *slog.Logger
}

var _ backend.Backend = (*Client)(nil)

// NewClient creates a remote client, filling unset options with defaults.
func NewClient(opts Options, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pollInterval: opts.PollInterval,
		maxPollTime:  opts.MaxPollTime,
		http:         opts.HTTPClient,
		logger:       logger,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxPollTime <= 0 {
		c.maxPollTime = DefaultMaxPollTime
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Capabilities implements backend.Backend.
func (c *Client) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: BackendName, Venue: model.VenueRemote}
}

// Execute submits the input and polls the job to completion. The submission
// and every status request share the MaxPollTime budget measured from the
// start of the call, so a stalled request cannot outlive it.
func (c *Client) Execute(ctx context.Context, in *model.AnalysisInput, rep backend.Reporter) (backend.RawResult, error) {
	start := time.Now()
	bctx, cancel := context.WithDeadline(ctx, start.Add(c.maxPollTime))
	defer cancel()

	rep.Report(model.StageUploading, progressUploadStart,
		fmt.Sprintf("Uploading %d nodes to cloud solver", len(in.Nodes)), true)

	sub, err := c.Submit(bctx, in)
	if err != nil {
		submissionsTotal.WithLabelValues(outcomeRejected).Inc()
		return backend.RawResult{}, c.budgetError(ctx, bctx, err)
	}
	submissionsTotal.WithLabelValues(outcomeAccepted).Inc()

	c.logger.Info("remote: job submitted", "job_id", sub.JobID, "node_count", sub.NodeCount)
	rep.Report(model.StageUploading, progressUploaded, fmt.Sprintf("Job %s queued", sub.JobID), true)

	job, err := c.poll(ctx, bctx, sub.JobID, start, rep)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) {
			be.JobID = sub.JobID
		}
		if ctx.Err() != nil {
			c.cancelRemote(sub.JobID)
		}
		return backend.RawResult{JobID: sub.JobID}, err
	}

	rep.Report(model.StagePostprocessing, progressDone, "Cloud analysis complete", true)
	return backend.RawResult{Remote: job.Result, JobID: sub.JobID}, nil
}

// poll is the bounded polling loop. Each iteration evaluates, in order:
// cancellation, the client-side time budget, then the job's status. The only
// suspension points are the status request and the wait between polls; both
// run under bctx, the run context bounded by the budget.
func (c *Client) poll(ctx, bctx context.Context, jobID string, start time.Time, rep backend.Reporter) (*model.Job, error) {
	for {
		if ctx.Err() != nil {
			return nil, backend.FromContext(ctx)
		}
		if elapsed := time.Since(start); elapsed > c.maxPollTime || bctx.Err() != nil {
			return nil, c.timeoutError()
		}

		job, err := c.Status(bctx, jobID)
		if err != nil {
			return nil, c.budgetError(ctx, bctx, err)
		}
		pollsTotal.WithLabelValues(string(job.Status)).Inc()

		switch job.Status {
		case model.JobCompleted:
			return job, nil
		case model.JobFailed:
			msg := job.Error
			if msg == "" {
				msg = "cloud analysis failed"
			}
			return nil, backend.NewError(backend.KindRemoteSolveFailure, msg, nil)
		case model.JobCancelled:
			return nil, backend.Errorf(backend.KindUserCancelled, "cloud job %s was cancelled", jobID)
		}

		rep.Report(stageFor(job.Status), VisibleProgress(job.Progress), pollMessage(job), true)

		if err := sleep(bctx, c.pollInterval); err != nil {
			if ctx.Err() != nil {
				return nil, backend.FromContext(ctx)
			}
			return nil, c.timeoutError()
		}
	}
}

func (c *Client) timeoutError() error {
	return backend.Errorf(backend.KindTimeout, "cloud analysis timed out after %s", c.maxPollTime)
}

// budgetError turns a request cut short by the poll budget into a timeout.
// Failures with the run context still live, or already done, pass through.
func (c *Client) budgetError(ctx, bctx context.Context, err error) error {
	if ctx.Err() == nil && bctx.Err() != nil {
		return c.timeoutError()
	}
	return err
}

// VisibleProgress maps server progress 0-100 into the visible polling window.
func VisibleProgress(server float64) int {
	v := progressUploaded + progressPollScale*server
	v = math.Max(progressUploaded, math.Min(progressPollCeiling, v))
	return int(v)
}

func stageFor(s model.JobStatus) model.Stage {
	switch s {
	case model.JobAssembling:
		return model.StageAssembling
	case model.JobSolving:
		return model.StageSolving
	case model.JobPostprocessing:
		return model.StagePostprocessing
	default:
		return model.StagePolling
	}
}

func pollMessage(job *model.Job) string {
	if job.Message != "" {
		return job.Message
	}
	return fmt.Sprintf("Cloud job %s (%.0f%%)", job.Status, job.Progress)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit posts the input to the submission endpoint.
func (c *Client) Submit(ctx context.Context, in *model.AnalysisInput) (*model.SubmitResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, backend.NewError(backend.KindSubmission, "encode analysis input", err)
	}

	var sub model.SubmitResponse
	status, err := c.do(ctx, http.MethodPost, pathSubmit, body, &sub)
	if err != nil {
		return nil, c.requestError(ctx, backend.KindSubmission, "cloud submission failed", status, err)
	}
	if sub.JobID == "" {
		return nil, backend.Errorf(backend.KindSubmission, "cloud submission returned no job id")
	}
	return &sub, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	status, err := c.do(ctx, http.MethodGet, jobPath(jobID), nil, &job)
	if err != nil {
		return nil, c.requestError(ctx, backend.KindPoll, "cloud status check failed", status, err)
	}
	return &job, nil
}

// Cancel asks the remote service to stop a job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	_, err := c.do(ctx, http.MethodDelete, jobPath(jobID), nil, nil)
	return err
}

// Health probes the health endpoint. It returns a health_check_failure error
// when the service is unreachable or reports anything but healthy.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	status, err := c.do(ctx, http.MethodGet, pathHealth, nil, &resp)
	if err != nil {
		e := backend.NewError(backend.KindHealthCheckFailure, "cloud service unreachable", err)
		e.Status = status
		return e
	}
	if resp.Status != "healthy" {
		return backend.Errorf(backend.KindHealthCheckFailure, "cloud service reported status %q", resp.Status)
	}
	return nil
}

// cancelRemote is best effort: the run has already ended client-side.
func (c *Client) cancelRemote(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := c.Cancel(ctx, jobID); err != nil {
		c.logger.Warn("remote: cancel job", "job_id", jobID, "error", err)
	}
}

func jobPath(jobID string) string {
	return pathSubmit + "/" + url.PathEscape(jobID)
}

// requestError classifies a failed request. A request interrupted by the run
// context is a cancellation or timeout, not a protocol failure.
func (c *Client) requestError(ctx context.Context, kind backend.Kind, msg string, status int, err error) error {
	if ctx.Err() != nil {
		return backend.FromContext(ctx)
	}
	var se *statusError
	if errors.As(err, &se) {
		return &backend.Error{Kind: kind, Message: msg + ": " + se.Message, Status: se.Status}
	}
	e := backend.NewError(kind, msg, err)
	e.Status = status
	return e
}

// statusError is a non-2xx response.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// do performs one JSON request. A non-2xx response yields a *statusError
// carrying the server-supplied message.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &statusError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// errorMessage extracts the server's message from an error body of the form
// {"error": "..."} (or {"detail": "..."}), falling back to the status text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 {
		return text
	}
	return http.StatusText(status)
}
