package engine

import (
	"sync"

	"github.com/stratus-tools/paceline/internal/model"
)

// subscriberBufferSize is the channel buffer for each result subscriber.
// Results are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ResultBroker fans out per-item results for a run to live subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a run finishes) receive a closed channel instead of
// blocking forever. Each marker is a few bytes, which is acceptable for the
// expected run volume.
type ResultBroker struct {
	mu     sync.Mutex
	topics map[string]*resultTopic
}

type resultTopic struct {
	subs   map[int]chan model.WorkerResult
	nextID int
	closed bool
}

// NewResultBroker creates a new result broker.
func NewResultBroker() *ResultBroker {
	return &ResultBroker{
		topics: make(map[string]*resultTopic),
	}
}

// Subscribe returns a channel that receives results for the given run and an
// unsubscribe function. If the run has already finished (Close was called),
// the returned channel is immediately closed.
func (b *ResultBroker) Subscribe(runID string) (<-chan model.WorkerResult, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &resultTopic{subs: make(map[int]chan model.WorkerResult)}
		b.topics[runID] = t
	}

	ch := make(chan model.WorkerResult, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
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

// Publish sends a result to all subscribers of the given run. Results are
// dropped for subscribers whose buffers are full.
func (b *ResultBroker) Publish(runID string, res model.WorkerResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- res:
		default:
			// Drop for slow subscribers to avoid blocking execution.
		}
	}
}

// Close signals that no more results will be published for the given run.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *ResultBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[runID] = &resultTopic{subs: make(map[int]chan model.WorkerResult), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
