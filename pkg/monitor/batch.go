package monitor

import (
	"context"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// Dispatcher delivers a batch of events plus a game-state snapshot to the
// commentary consumer. Implementations live in pkg/coach.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []event.Event, snapshot event.Snapshot) error
}

// Batcher accumulates admitted events per session and flushes them in
// bounded batches. Dispatch is at-most-once: a failed batch is logged and
// dropped, never re-enqueued.
type Batcher struct {
	max        int
	dispatcher Dispatcher
	log        Logger
}

// NewBatcher creates a batcher with the configured batch size cap.
func NewBatcher(cfg Config, d Dispatcher, log Logger) *Batcher {
	return &Batcher{max: cfg.BatchSize, dispatcher: d, log: log}
}

// Enqueue appends the event to the session's pending queue.
func (b *Batcher) Enqueue(s *Session, e event.Event) {
	s.pending = append(s.pending, e)
}

// Flush dispatches up to the batch cap from the session's queue and
// returns the number of events still pending. The dispatch call runs in
// its own goroutine so a slow consumer never blocks the pipeline.
func (b *Batcher) Flush(ctx context.Context, s *Session) int {
	if len(s.pending) == 0 {
		return 0
	}

	n := len(s.pending)
	if n > b.max {
		n = b.max
	}
	batch := make([]event.Event, n)
	copy(batch, s.pending[:n])
	s.pending = s.pending[n:]

	snapshot := s.snapshot()
	path := s.Path
	go func() {
		if err := b.dispatcher.Dispatch(ctx, batch, snapshot); err != nil {
			b.log.Warn("dispatch %d events for %s failed: %v", len(batch), path, err)
		}
	}()

	return len(s.pending)
}

// Drain flushes repeatedly until the session's queue is empty. Used for
// the forced flush on session completion.
func (b *Batcher) Drain(ctx context.Context, s *Session) {
	for len(s.pending) > 0 {
		b.Flush(ctx, s)
	}
}

// Pending returns the session's queued event count.
func (b *Batcher) Pending(s *Session) int { return len(s.pending) }
