package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slipcoach/slipwatch/pkg/event"
	"github.com/slipcoach/slipwatch/pkg/progress"
	"github.com/slipcoach/slipwatch/pkg/replay"
	"github.com/slipcoach/slipwatch/pkg/watcher"
)

// Config holds monitor tuning. DefaultConfig values are used for anything
// left at zero.
type Config struct {
	DebounceInterval time.Duration // minimum gap between processed change notifications per file
	FlushInterval    time.Duration // batch flush tick
	PurgeDelay       time.Duration // grace delay between Completed and Purged
	BatchSize        int           // max events per dispatched batch

	IncludeCPUEvents  bool  // emit events attributed to CPU players
	MinComboMoves     int   // combos below this hit count are ignored
	ComboWindowFrames int32 // combos ending further behind the cursor are stale
	HeartbeatFrames   int32 // frame-update cadence, 600 frames is ~10s
	DefaultStocks     int   // starting stocks when settings carry none

	ThrottleStockLost  time.Duration
	ThrottleComboLarge time.Duration
	ThrottleComboSmall time.Duration
	ThrottleTechnique  time.Duration
	ThrottleHeartbeat  time.Duration
}

// DefaultConfig returns the standard monitor tuning.
func DefaultConfig() Config {
	return Config{
		DebounceInterval:   500 * time.Millisecond,
		FlushInterval:      2 * time.Second,
		PurgeDelay:         10 * time.Second,
		BatchSize:          5,
		MinComboMoves:      3,
		ComboWindowFrames:  900,
		HeartbeatFrames:    600,
		DefaultStocks:      defaultStartStocks,
		ThrottleStockLost:  1 * time.Second,
		ThrottleComboLarge: 3 * time.Second,
		ThrottleComboSmall: 8 * time.Second,
		ThrottleTechnique:  15 * time.Second,
		ThrottleHeartbeat:  30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = def.DebounceInterval
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.PurgeDelay <= 0 {
		c.PurgeDelay = def.PurgeDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MinComboMoves <= 0 {
		c.MinComboMoves = def.MinComboMoves
	}
	if c.ComboWindowFrames <= 0 {
		c.ComboWindowFrames = def.ComboWindowFrames
	}
	if c.HeartbeatFrames <= 0 {
		c.HeartbeatFrames = def.HeartbeatFrames
	}
	if c.DefaultStocks <= 0 {
		c.DefaultStocks = def.DefaultStocks
	}
	if c.ThrottleStockLost <= 0 {
		c.ThrottleStockLost = def.ThrottleStockLost
	}
	if c.ThrottleComboLarge <= 0 {
		c.ThrottleComboLarge = def.ThrottleComboLarge
	}
	if c.ThrottleComboSmall <= 0 {
		c.ThrottleComboSmall = def.ThrottleComboSmall
	}
	if c.ThrottleTechnique <= 0 {
		c.ThrottleTechnique = def.ThrottleTechnique
	}
	if c.ThrottleHeartbeat <= 0 {
		c.ThrottleHeartbeat = def.ThrottleHeartbeat
	}
	return c
}

// Watch is the directory-watch surface the monitor needs; satisfied by
// watcher.Watcher.
type Watch interface {
	Run(ctx context.Context) error
	Events() <-chan watcher.Notification
	Root() string
}

// ErrWatcherStopped is returned by Run when the directory watch dies
// while the monitor is still supposed to be running.
var ErrWatcherStopped = errors.New("watcher stopped")

// Monitor is the session lifecycle controller: it owns the registry and
// drives the ingest -> classify -> throttle -> batch pipeline from a
// single event loop.
type Monitor struct {
	cfg        Config
	registry   *Registry
	ingester   *Ingester
	classifier *Classifier
	gate       *Gate
	batcher    *Batcher
	watch      Watch
	log        Logger

	flushTicker *time.Ticker
	purgeCh     chan string
}

// New creates a monitor wired to the given watcher, parser opener and
// dispatcher.
func New(cfg Config, w Watch, open replay.Opener, d Dispatcher, log Logger) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:        cfg,
		registry:   NewRegistry(),
		ingester:   NewIngester(open, cfg, log),
		classifier: NewClassifier(cfg),
		gate:       NewGate(cfg, log),
		batcher:    NewBatcher(cfg, d, log),
		watch:      w,
		log:        log,
		purgeCh:    make(chan string, 64),
	}
}

// Registry exposes the session registry for status inspection.
func (m *Monitor) Registry() *Registry { return m.registry }

// Run processes watch notifications, flush ticks and purge timers until
// the context is cancelled. All session state is mutated only from this
// loop. Returns the context error on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	watchErr := make(chan error, 1)
	go func() { watchErr <- m.watch.Run(ctx) }()

	m.log.Print(progress.KindSession, "monitoring %s", m.watch.Root())

	for {
		// a nil ticker channel blocks forever, which keeps the flush arm
		// of the select disabled while no session has pending events
		var tick <-chan time.Time
		if m.flushTicker != nil {
			tick = m.flushTicker.C
		}

		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case n, ok := <-m.watch.Events():
			if !ok {
				// channel closes only after watch.Run has returned
				m.shutdown()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := <-watchErr; err != nil {
					return fmt.Errorf("%w: %v", ErrWatcherStopped, err)
				}
				return ErrWatcherStopped
			}
			m.handle(ctx, n)
		case <-tick:
			m.flushAll(ctx)
		case path := <-m.purgeCh:
			m.purge(path)
		}
	}
}

// handle processes one watch notification.
func (m *Monitor) handle(ctx context.Context, n watcher.Notification) {
	if n.Op == watcher.OpRemoved {
		if s := m.registry.Get(n.Path); s != nil {
			m.complete(ctx, s)
		}
		return
	}

	s, created := m.registry.GetOrCreate(n.Path)
	if s.state == StateCompleted || s.state == StatePurged {
		return
	}

	// collapse rapid successive writes into one processing pass
	now := time.Now()
	if !created && now.Sub(s.lastTouched) < m.cfg.DebounceInterval {
		return
	}
	s.lastTouched = now

	m.advance(ctx, s)
}

// advance runs one ingest/classify/throttle/enqueue pass for a session.
func (m *Monitor) advance(ctx context.Context, s *Session) {
	diff, err := m.ingester.Advance(s)
	if err != nil {
		// corrupt file: one warning, then the session is gone for good
		m.log.Warn("invalid replay %s: %v", s.Path, err)
		m.purge(s.Path)
		return
	}

	if diff.Activated {
		m.log.Print(progress.KindSession, "session started: %s on %s", s.Matchup(), s.stage)
		m.enqueue(s, event.NewSessionStart(s.Matchup(), s.stage))
	}

	for _, e := range m.classifier.Classify(s, diff) {
		m.accumulate(s, e)
		if !m.gate.Admit(s, e) {
			continue
		}
		m.enqueue(s, e)
	}

	if diff.GameEnd != nil && s.state == StateActive {
		m.complete(ctx, s)
	}
}

// accumulate folds a classified event into the session's aggregates,
// before throttling so the end-of-session totals reflect everything
// detected rather than everything delivered.
func (m *Monitor) accumulate(s *Session, e event.Event) {
	switch e.Category {
	case event.CategoryStockLost:
		s.stocksLost[e.PlayerIndex] += e.StocksLost
	case event.CategoryCombo:
		s.damageDealt[e.PlayerIndex] += e.Damage
		s.comboCount[e.PlayerIndex]++
	}
}

// enqueue queues an admitted event and ensures the flush ticker runs.
func (m *Monitor) enqueue(s *Session, e event.Event) {
	m.batcher.Enqueue(s, e)
	if m.flushTicker == nil {
		m.flushTicker = time.NewTicker(m.cfg.FlushInterval)
	}
}

// flushAll flushes every session with pending events and stops the ticker
// once nothing is left anywhere.
func (m *Monitor) flushAll(ctx context.Context) {
	pending := 0
	for _, s := range m.registry.All() {
		pending += m.batcher.Flush(ctx, s)
	}
	if pending == 0 && m.flushTicker != nil {
		m.flushTicker.Stop()
		m.flushTicker = nil
	}
}

// complete transitions a session to Completed: forced flush, one
// end-of-session aggregate event, one more flush, then a deferred purge.
// Safe to call from both the terminal-marker and file-removal paths; the
// aggregation runs exactly once.
func (m *Monitor) complete(ctx context.Context, s *Session) {
	if s.state == StateCompleted || s.state == StatePurged {
		return
	}

	if s.state == StateActive && !s.endEmitted {
		s.endEmitted = true
		m.batcher.Drain(ctx, s)
		m.enqueue(s, event.NewSessionEnd(s.frameCursor, s.Matchup(), s.stage, s.totals()))
		m.batcher.Drain(ctx, s)
		m.log.Print(progress.KindSession, "session ended: %s", s.Matchup())
	}

	s.state = StateCompleted

	path := s.Path
	time.AfterFunc(m.cfg.PurgeDelay, func() {
		select {
		case m.purgeCh <- path:
		default:
			// loop already stopped, registry is cleared on shutdown anyway
		}
	})
}

// purge releases the session's parser handle and drops it from the
// registry. Also the direct path for corrupt files, skipping aggregation.
func (m *Monitor) purge(path string) {
	s := m.registry.Get(path)
	if s == nil {
		return
	}
	if s.parser != nil {
		_ = s.parser.Close()
		s.parser = nil
	}
	s.state = StatePurged
	m.registry.Remove(path)
	m.log.Debug("purged session for %s", path)
}

// shutdown stops the flush ticker and clears all session state. In-flight
// dispatch goroutines finish on their own; their results are discarded.
func (m *Monitor) shutdown() {
	if m.flushTicker != nil {
		m.flushTicker.Stop()
		m.flushTicker = nil
	}
	m.registry.Close()
}
