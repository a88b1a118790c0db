package progress

import (
	"sync"
	"time"

	"github.com/seantiz/beamlab/internal/model"
)

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// DefaultRetention is how long a finished run's topic is kept.
const DefaultRetention = 5 * time.Minute

// Broker fans out per-run progress events to subscribers. It is safe for
// concurrent use.
//
// A run's topic exists from Open until Close plus the retention period. A
// subscriber joining mid-run first receives the latest event, so a progress
// bar starts at the run's current value instead of at zero. Subscribing to a
// run that was never opened, has finished, or was evicted yields a closed
// channel.
type Broker struct {
	retention time.Duration
	now       func() time.Time

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs     map[int]chan model.AnalysisProgress
	nextID   int
	latest   *model.AnalysisProgress
	closedAt time.Time
}

func (t *topic) closed() bool {
	return !t.closedAt.IsZero()
}

// NewBroker creates a progress broker that keeps finished topics for
// retention. A non-positive retention selects DefaultRetention.
func NewBroker(retention time.Duration) *Broker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Broker{
		retention: retention,
		now:       time.Now,
		topics:    make(map[string]*topic),
	}
}

// Open starts a topic for runID. Opening an existing topic is a no-op.
func (b *Broker) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[runID]; ok {
		return
	}
	b.topics[runID] = &topic{subs: make(map[int]chan model.AnalysisProgress)}
}

// Subscribe returns a channel that receives progress for the given run and an
// unsubscribe function.
func (b *Broker) Subscribe(runID string) (<-chan model.AnalysisProgress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.AnalysisProgress, subscriberBufferSize)
	t, ok := b.topics[runID]
	if !ok || t.closed() {
		close(ch)
		return ch, func() {}
	}

	if t.latest != nil {
		ch <- *t.latest
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a progress event to all subscribers of the given run.
// Events are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(runID string, p model.AnalysisProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok || t.closed() {
		return
	}

	t.latest = &p
	for _, ch := range t.subs {
		select {
		case ch <- p:
		default:
			// Drop for slow subscribers to avoid blocking the run.
		}
	}
}

// Close signals that no more progress will be published for the given run.
// All subscriber channels are closed. Topics closed longer ago than the
// retention period are evicted.
func (b *Broker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if t, ok := b.topics[runID]; ok && !t.closed() {
		t.closedAt = now
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}

	for id, t := range b.topics {
		if t.closed() && now.Sub(t.closedAt) > b.retention {
			delete(b.topics, id)
		}
	}
}

// Len returns the number of topics held, open or retained.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
