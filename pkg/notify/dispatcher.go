package notify

import (
	"context"
	"time"

	"github.com/slipcoach/slipwatch/pkg/event"
	"github.com/slipcoach/slipwatch/pkg/replay"
)

// BatchDispatcher adapts the Service to the batch dispatch interface so it
// can sit in the dispatcher fan-out. Only session-end events trigger a
// notification; everything else passes through untouched.
type BatchDispatcher struct {
	svc *Service
}

// NewBatchDispatcher wraps a Service (which may be nil) as a dispatcher.
func NewBatchDispatcher(svc *Service) *BatchDispatcher {
	return &BatchDispatcher{svc: svc}
}

// Dispatch sends a summary for each session-end event in the batch.
func (d *BatchDispatcher) Dispatch(ctx context.Context, events []event.Event, _ event.Snapshot) error {
	for _, e := range events {
		if e.Category != event.CategorySessionEnd {
			continue
		}
		d.svc.Send(ctx, Summary{
			Matchup:  e.Matchup,
			Stage:    e.Stage,
			Duration: frameDuration(e.Frame),
			Totals:   e.Totals,
		})
	}
	return nil
}

// frameDuration converts a final frame index to wall time at 60fps.
func frameDuration(frame int32) time.Duration {
	frames := frame - replay.FirstFrame
	if frames < 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / 60
}
