// Package progress streams incremental job status events to subscribers
// and exposes a pollable snapshot for clients without live connections.
//
// The event stream is a convenience, not the source of truth: delivery
// is at-least-once, slow subscribers may miss intermediate events, and
// polling consumers rely on the latest snapshot for correctness.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls further behind than this loses intermediate events.
const subscriberBuffer = 32

// Event is one append-only progress notification for a job.
// Consumers deduplicate by (JobID, Seq).
type Event struct {
	JobID     uuid.UUID  `json:"job_id"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	Seq       uint64     `json:"seq"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher fans events out to live subscribers and keeps the latest
// event per job for polling.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[chan Event]struct{}
	latest map[uuid.UUID]Event
	seq    map[uuid.UUID]uint64
	logger *slog.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{
		subs:   make(map[uuid.UUID]map[chan Event]struct{}),
		latest: make(map[uuid.UUID]Event),
		seq:    make(map[uuid.UUID]uint64),
		logger: logger.With("component", "progress_publisher"),
	}
}

// Publish records and fans out a new event for the job. Sends to full
// subscriber channels are dropped; the snapshot still advances.
//
// The fanout happens under the mutex so a send can never race the
// close() in a subscriber's cancel. Sends are non-blocking, so the lock
// is never held waiting on a subscriber.
func (p *Publisher) Publish(ctx context.Context, jobID uuid.UUID, taskID *uuid.UUID, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq[jobID]++
	event := Event{
		JobID:     jobID,
		TaskID:    taskID,
		Seq:       p.seq[jobID],
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	p.latest[jobID] = event

	for ch := range p.subs[jobID] {
		select {
		case ch <- event:
		default:
			p.logger.Debug("dropping event for slow subscriber",
				"job_id", jobID,
				"seq", event.Seq)
		}
	}
}

// Subscribe registers a live subscriber for the job's events. The
// returned cancel function must be called to release the subscription.
func (p *Publisher) Subscribe(jobID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	p.mu.Lock()
	if p.subs[jobID] == nil {
		p.subs[jobID] = make(map[chan Event]struct{})
	}
	p.subs[jobID][ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs[jobID], ch)
			if len(p.subs[jobID]) == 0 {
				delete(p.subs, jobID)
			}
			// Closed under the same lock Publish sends under, so a
			// concurrent Publish can never hit a closed channel.
			close(ch)
		})
	}

	return ch, cancel
}

// Latest returns the most recent event for the job, if any.
func (p *Publisher) Latest(jobID uuid.UUID) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	event, ok := p.latest[jobID]
	return event, ok
}

// Forget drops the snapshot and sequence state for a deleted job.
func (p *Publisher) Forget(jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latest, jobID)
	delete(p.seq, jobID)
}
