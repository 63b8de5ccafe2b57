// Package coach is the boundary to the commentary/coaching consumer. The
// generation subsystem itself is external; this package provides the
// Dispatcher contract plus the shipped transports: a console feed, an SSE
// stream for external subscribers, and a fan-out combinator.
package coach

import (
	"context"
	"errors"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// Dispatcher accepts a batch of events with a game-state snapshot.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []event.Event, snapshot event.Snapshot) error
}

// logger is the minimal logging surface this package needs.
type logger interface {
	Warn(format string, args ...any)
	Debug(format string, args ...any)
}

// Multi fans a batch out to several dispatchers. All dispatchers see every
// batch; errors are joined so one failing transport never hides another.
type Multi []Dispatcher

// Dispatch sends the batch to all dispatchers.
func (m Multi) Dispatch(ctx context.Context, events []event.Event, snapshot event.Snapshot) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, events, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
