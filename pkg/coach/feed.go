package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// batchMessage is the JSON envelope published per dispatched batch.
type batchMessage struct {
	Events  []event.Event  `json:"events"`
	Context event.Snapshot `json:"context"`
}

// Feed streams dispatched batches over server-sent events so an external
// overlay or commentary process can subscribe. Transport only: no UI.
type Feed struct {
	sse  *sse.Server
	srv  *http.Server
	port int
	log  logger
}

// NewFeed creates an SSE feed listening on the given port.
func NewFeed(port int, log logger) *Feed {
	return &Feed{sse: &sse.Server{}, port: port, log: log}
}

// Start begins serving the event stream at /events. Blocks until the
// context is cancelled or the server fails.
func (f *Feed) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/events", f.sse)

	f.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", f.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.sse.Shutdown(shutdownCtx)
		_ = f.srv.Shutdown(shutdownCtx)
	}()

	err := f.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("feed server: %w", err)
}

// Dispatch publishes the batch to all connected subscribers. Subscribers
// that cannot keep up miss messages; the feed never buffers unbounded.
func (f *Feed) Dispatch(_ context.Context, events []event.Event, snapshot event.Snapshot) error {
	data, err := json.Marshal(batchMessage{Events: events, Context: snapshot})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	msg := &sse.Message{Type: sse.Type("batch")}
	msg.AppendData(string(data))
	if err := f.sse.Publish(msg); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	f.log.Debug("published batch of %d events", len(events))
	return nil
}
