package progress

import (
	"sync"

	"github.com/seantiz/beamlab/internal/model"
)

// Sink receives every progress event a Reporter emits.
type Sink func(p model.AnalysisProgress)

// Reporter emits the progress of one run. Values are clamped to 0-100 and
// never decrease: a value below the last reported one is raised to it. A new
// Reporter is created per run, which resets the floor. Once closed, reports
// are dropped.
type Reporter struct {
	mu      sync.Mutex
	sink    Sink
	last    int
	started bool
	closed  bool
}

// NewReporter creates a Reporter that forwards to sink. A nil sink discards.
func NewReporter(sink Sink) *Reporter {
	return &Reporter{sink: sink}
}

// Report emits one progress event. The sink is invoked synchronously, so
// events are delivered in the order they were reported.
func (r *Reporter) Report(stage model.Stage, progress int, message string, isCloud bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	progress = min(max(progress, 0), 100)
	if r.started && progress < r.last {
		progress = r.last
	}
	r.last = progress
	r.started = true

	if r.sink != nil {
		r.sink(model.AnalysisProgress{
			Stage:    stage,
			Progress: progress,
			Message:  message,
			IsCloud:  isCloud,
		})
	}
}

// Close stops delivery to the sink. It waits for a report in progress, so no
// event reaches the sink after Close returns.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Last returns the last reported value, or 0 before the first report.
func (r *Reporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
