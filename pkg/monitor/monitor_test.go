package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipcoach/slipwatch/pkg/event"
	"github.com/slipcoach/slipwatch/pkg/progress"
	"github.com/slipcoach/slipwatch/pkg/replay"
	"github.com/slipcoach/slipwatch/pkg/watcher"
)

// --- shared test doubles ---

// testLogger records formatted log lines for assertions.
type testLogger struct {
	mu    sync.Mutex
	lines []string
	warns []string
}

func (l *testLogger) Print(_ progress.Kind, format string, args ...any) { l.add(format, args...) }
func (l *testLogger) Debug(format string, args ...any)                  { l.add(format, args...) }

func (l *testLogger) Warn(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf(format, args...)
	l.lines = append(l.lines, line)
	l.warns = append(l.warns, line)
}

func (l *testLogger) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *testLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func (l *testLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// fakeParser is a scriptable replay.Parser.
type fakeParser struct {
	settings     *replay.Settings
	settingsErr  error
	settingshits int
	frame        *replay.Frame
	frameErr     error
	stats        *replay.Stats
	gameEnd      *replay.GameEnd
	closed       bool
}

func (f *fakeParser) Settings() (*replay.Settings, error) {
	f.settingshits++
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	if f.settings == nil {
		return nil, replay.ErrNotReady
	}
	return f.settings, nil
}

func (f *fakeParser) LatestFrame() (*replay.Frame, error) {
	if f.frameErr != nil {
		return nil, f.frameErr
	}
	if f.frame == nil {
		return nil, replay.ErrNotReady
	}
	return f.frame, nil
}

func (f *fakeParser) Stats() (*replay.Stats, error) {
	if f.stats == nil {
		return &replay.Stats{}, nil
	}
	return f.stats, nil
}

func (f *fakeParser) GameEnd() (*replay.GameEnd, error) { return f.gameEnd, nil }

func (f *fakeParser) Close() error {
	f.closed = true
	return nil
}

// openerFor returns an opener that always hands out the given parser.
func openerFor(p replay.Parser) replay.Opener {
	return func(string) (replay.Parser, error) { return p, nil }
}

// captureDispatcher records dispatched batches, safe for the batcher's
// dispatch goroutines.
type captureDispatcher struct {
	mu        sync.Mutex
	batches   [][]event.Event
	snapshots []event.Snapshot
	err       error
}

func (d *captureDispatcher) Dispatch(_ context.Context, events []event.Event, snapshot event.Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, events)
	d.snapshots = append(d.snapshots, snapshot)
	return d.err
}

func (d *captureDispatcher) batchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func (d *captureDispatcher) allEvents() []event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var all []event.Event
	for _, b := range d.batches {
		all = append(all, b...)
	}
	return all
}

func (d *captureDispatcher) countCategory(cat event.Category) int {
	n := 0
	for _, e := range d.allEvents() {
		if e.Category == cat {
			n++
		}
	}
	return n
}

// twoPlayerSettings is a human Fox vs Marth match on Battlefield.
func twoPlayerSettings() *replay.Settings {
	return &replay.Settings{
		StageID:   31,
		StageName: "Battlefield",
		Players: []replay.PlayerInfo{
			{Index: 0, Port: 1, CharacterID: 2, CharacterName: "Fox", Type: replay.PlayerHuman, StartStocks: 4},
			{Index: 1, Port: 2, CharacterID: 9, CharacterName: "Marth", Type: replay.PlayerHuman, StartStocks: 4},
		},
	}
}

func newTestMonitor(t *testing.T, p replay.Parser, d Dispatcher) (*Monitor, *testLogger) {
	t.Helper()
	log := &testLogger{}
	w, err := watcher.New(t.TempDir())
	require.NoError(t, err)
	return New(Config{}, w, openerFor(p), d, log), log
}

// --- lifecycle tests ---

func TestMonitor_Handle_DiscoversSession(t *testing.T) {
	fp := &fakeParser{} // nothing readable yet
	m, _ := newTestMonitor(t, fp, &captureDispatcher{})

	m.handle(context.Background(), watcher.Notification{Path: "/r/game.slp", Op: watcher.OpAdded})

	s := m.Registry().Get("/r/game.slp")
	require.NotNil(t, s)
	assert.Equal(t, StateDiscovered, s.State())
	assert.Equal(t, 1, m.Registry().Len())
}

func TestMonitor_Advance_ActivatesAndEmitsSessionStart(t *testing.T) {
	fp := &fakeParser{settings: twoPlayerSettings()}
	d := &captureDispatcher{}
	m, log := newTestMonitor(t, fp, d)

	m.handle(context.Background(), watcher.Notification{Path: "/r/game.slp", Op: watcher.OpAdded})

	s := m.Registry().Get("/r/game.slp")
	require.NotNil(t, s)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, "Fox vs Marth", s.Matchup())
	assert.True(t, log.contains("session started"))

	// session start is queued, not dispatched until a flush
	require.Equal(t, 1, m.batcher.Pending(s))
	assert.Equal(t, event.CategorySessionStart, s.pending[0].Category)
}

func TestMonitor_Advance_CorruptFilePurgesDirectly(t *testing.T) {
	fp := &fakeParser{settingsErr: replay.ErrInvalidReplay}
	m, log := newTestMonitor(t, fp, &captureDispatcher{})

	m.handle(context.Background(), watcher.Notification{Path: "/r/bad.slp", Op: watcher.OpAdded})

	assert.Nil(t, m.Registry().Get("/r/bad.slp"))
	assert.True(t, log.contains("invalid replay"))
	assert.True(t, fp.closed, "corrupt session must release its parser")
}

func TestMonitor_Handle_DebouncesRapidChanges(t *testing.T) {
	fp := &fakeParser{}
	m, _ := newTestMonitor(t, fp, &captureDispatcher{})
	m.cfg.DebounceInterval = time.Hour

	n := watcher.Notification{Path: "/r/game.slp", Op: watcher.OpChanged}
	m.handle(context.Background(), n)
	m.handle(context.Background(), n)
	m.handle(context.Background(), n)

	// only the creating notification reached the parser
	assert.Equal(t, 1, fp.settingshits)
}

func TestMonitor_Complete_EmitsSessionEndOnce(t *testing.T) {
	fp := &fakeParser{settings: twoPlayerSettings()}
	d := &captureDispatcher{}
	m, log := newTestMonitor(t, fp, d)

	ctx := context.Background()
	m.handle(ctx, watcher.Notification{Path: "/r/game.slp", Op: watcher.OpAdded})
	s := m.Registry().Get("/r/game.slp")
	require.NotNil(t, s)
	require.Equal(t, StateActive, s.State())

	// terminal marker and file removal racing each other
	m.complete(ctx, s)
	m.complete(ctx, s)
	m.handle(ctx, watcher.Notification{Path: "/r/game.slp", Op: watcher.OpRemoved})

	assert.Equal(t, StateCompleted, s.State())
	require.Eventually(t, func() bool {
		return d.countCategory(event.CategorySessionEnd) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, d.countCategory(event.CategorySessionEnd))
	assert.Equal(t, 1, d.countCategory(event.CategorySessionStart))
	assert.True(t, log.contains("session ended"))
	assert.Zero(t, m.batcher.Pending(s), "completion force-flushes the queue")
}

func TestMonitor_Complete_GameEndMarker(t *testing.T) {
	fp := &fakeParser{settings: twoPlayerSettings()}
	d := &captureDispatcher{}
	m, _ := newTestMonitor(t, fp, d)

	ctx := context.Background()
	m.handle(ctx, watcher.Notification{Path: "/r/game.slp", Op: watcher.OpAdded})
	s := m.Registry().Get("/r/game.slp")
	require.Equal(t, StateActive, s.State())

	// next pass sees the terminal marker
	fp.gameEnd = &replay.GameEnd{Method: 2, LRASInitiator: -1}
	m.advance(ctx, s)

	assert.Equal(t, StateCompleted, s.State())
	require.Eventually(t, func() bool {
		return d.countCategory(event.CategorySessionEnd) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_Complete_RemovalBeforeActivation(t *testing.T) {
	fp := &fakeParser{} // never becomes readable
	d := &captureDispatcher{}
	m, _ := newTestMonitor(t, fp, d)

	ctx := context.Background()
	m.handle(ctx, watcher.Notification{Path: "/r/game.slp", Op: watcher.OpAdded})
	s := m.Registry().Get("/r/game.slp")
	require.Equal(t, StateDiscovered, s.State())

	m.handle(ctx, watcher.Notification{Path: "/r/game.slp", Op: watcher.OpRemoved})

	// a session that never activated has no aggregates to report
	assert.Equal(t, StateCompleted, s.State())
	assert.Zero(t, d.batchCount())
}

func TestMonitor_Purge_ReleasesSession(t *testing.T) {
	fp := &fakeParser{settings: twoPlayerSettings()}
	m, _ := newTestMonitor(t, fp, &captureDispatcher{})

	m.handle(context.Background(), watcher.Notification{Path: "/r/game.slp", Op: watcher.OpAdded})
	require.Equal(t, 1, m.Registry().Len())

	m.purge("/r/game.slp")
	assert.Zero(t, m.Registry().Len())
	assert.True(t, fp.closed)

	// purging an unknown path is a no-op
	m.purge("/r/game.slp")
}

func TestMonitor_FlushTickerStopsWhenIdleAndRestarts(t *testing.T) {
	fp := &fakeParser{settings: twoPlayerSettings()}
	d := &captureDispatcher{}
	m, _ := newTestMonitor(t, fp, d)

	ctx := context.Background()
	m.handle(ctx, watcher.Notification{Path: "/r/game.slp", Op: watcher.OpAdded})
	s := m.Registry().Get("/r/game.slp")
	require.NotNil(t, s)
	require.NotNil(t, m.flushTicker, "first enqueue starts the flush ticker")

	// one flush drains the only pending event, leaving nothing anywhere
	m.flushAll(ctx)
	assert.Nil(t, m.flushTicker, "ticker stops once no session has pending events")
	require.Eventually(t, func() bool { return d.batchCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.enqueue(s, event.NewStockLost(0, 100, 1, 3))
	assert.NotNil(t, m.flushTicker, "ticker restarts on the next enqueue")
}

// stubWatch closes its channel as the watch loop dies.
type stubWatch struct {
	ch  chan watcher.Notification
	err error
}

func (w *stubWatch) Run(context.Context) error           { close(w.ch); return w.err }
func (w *stubWatch) Events() <-chan watcher.Notification { return w.ch }
func (w *stubWatch) Root() string                        { return "/r" }

func TestMonitor_Run_ReturnsErrorWhenWatcherDies(t *testing.T) {
	w := &stubWatch{ch: make(chan watcher.Notification), err: errors.New("boom")}
	m := New(Config{}, w, openerFor(&fakeParser{}), &captureDispatcher{}, &testLogger{})

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWatcherStopped)
		assert.ErrorContains(t, err, "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after the watcher died")
	}
}

func TestMonitor_Run_StopsOnCancel(t *testing.T) {
	fp := &fakeParser{}
	m, _ := newTestMonitor(t, fp, &captureDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	custom := Config{BatchSize: 9, FlushInterval: time.Second}.withDefaults()
	assert.Equal(t, 9, custom.BatchSize)
	assert.Equal(t, time.Second, custom.FlushInterval)
	assert.Equal(t, DefaultConfig().MinComboMoves, custom.MinComboMoves)
}
