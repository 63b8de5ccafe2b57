// Package monitor implements the live match monitor: per-file session
// lifecycle, frame-incremental diffing, event classification, throttling
// and batched dispatch to the commentary consumer.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slipcoach/slipwatch/pkg/event"
	"github.com/slipcoach/slipwatch/pkg/replay"
)

// LifecycleState is the session's position in its lifecycle.
type LifecycleState string

// lifecycle state constants. Transitions: Discovered -> Active ->
// Completed -> Purged, with a direct -> Purged edge for corrupt files.
const (
	StateDiscovered LifecycleState = "discovered" // seen, settings not yet readable
	StateActive     LifecycleState = "active"     // players known, frames advancing
	StateCompleted  LifecycleState = "completed"  // terminal marker or file removed
	StatePurged     LifecycleState = "purged"     // removed from the registry
)

// frameCursorSentinel sits below the first valid frame (-123) so the first
// parsed frame always advances the cursor.
const frameCursorSentinel = -999

// defaultStartStocks is used when the settings block carries no stock count.
const defaultStartStocks = 4

// comboKey deduplicates combo events: the parser may report the same combo
// on consecutive polls.
type comboKey struct {
	player     int
	startFrame int32
}

// Session is the tracked lifecycle of one replay file from first detection
// to purge. All fields are owned by the monitor's event loop; no locking.
type Session struct {
	ID   string
	Path string

	state  LifecycleState
	parser replay.Parser

	// populated once at activation, immutable afterwards
	players []replay.PlayerInfo
	stageID int
	stage   string

	frameCursor int32
	stocks      map[int]int
	percents    map[int]float64
	prevFrame   map[int]replay.PostFrame
	lastChange  map[int]int32 // frame of each player's last action-state change

	seenCombos map[comboKey]struct{}
	throttle   map[string]time.Time
	pending    []event.Event

	lastTouched   time.Time
	lastHeartbeat int32
	startedAt     time.Time

	// running aggregates for the end-of-session event
	stocksLost  map[int]int
	damageDealt map[int]float64
	comboCount  map[int]int
	endEmitted  bool
}

// newSession creates a session in Discovered state with all cursors at
// their sentinel defaults. The parser is opened lazily by the ingester.
func newSession(path string) *Session {
	return &Session{
		ID:            uuid.New().String(),
		Path:          path,
		state:         StateDiscovered,
		frameCursor:   frameCursorSentinel,
		lastHeartbeat: frameCursorSentinel,
		stocks:        make(map[int]int),
		percents:      make(map[int]float64),
		prevFrame:     make(map[int]replay.PostFrame),
		lastChange:    make(map[int]int32),
		seenCombos:    make(map[comboKey]struct{}),
		throttle:      make(map[string]time.Time),
		stocksLost:    make(map[int]int),
		damageDealt:   make(map[int]float64),
		comboCount:    make(map[int]int),
	}
}

// State returns the session's lifecycle state.
func (s *Session) State() LifecycleState { return s.state }

// Players returns the session's player list, nil before activation.
func (s *Session) Players() []replay.PlayerInfo { return s.players }

// FrameCursor returns the highest frame index fully processed.
func (s *Session) FrameCursor() int32 { return s.frameCursor }

// Matchup renders the session's player characters as "Fox vs Marth".
func (s *Session) Matchup() string {
	if len(s.players) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.players))
	for _, p := range s.players {
		name := p.CharacterName
		if !p.Human() {
			name = fmt.Sprintf("%s (CPU)", name)
		}
		names = append(names, name)
	}
	return strings.Join(names, " vs ")
}

// activate sets the immutable player list and initializes stock counts
// from the settings, falling back to the configured default.
func (s *Session) activate(settings *replay.Settings, defaultStocks int) {
	s.players = settings.Players
	s.stageID = settings.StageID
	s.stage = settings.StageName
	s.startedAt = time.Now()
	for _, p := range s.players {
		stocks := p.StartStocks
		if stocks <= 0 {
			stocks = defaultStocks
		}
		s.stocks[p.Index] = stocks
	}
	s.state = StateActive
}

// playerStates snapshots all players' stocks and percents.
func (s *Session) playerStates() []event.PlayerState {
	states := make([]event.PlayerState, 0, len(s.players))
	for _, p := range s.players {
		states = append(states, event.PlayerState{
			Index:     p.Index,
			Port:      p.Port,
			Character: p.CharacterName,
			Stocks:    s.stocks[p.Index],
			Percent:   s.percents[p.Index],
		})
	}
	return states
}

// snapshot builds the game-state context attached to a dispatched batch.
func (s *Session) snapshot() event.Snapshot {
	return event.Snapshot{
		Frame:   s.frameCursor,
		Stage:   s.stage,
		Players: s.playerStates(),
	}
}

// totals builds the per-player aggregates for the end-of-session event.
func (s *Session) totals() []event.PlayerTotals {
	totals := make([]event.PlayerTotals, 0, len(s.players))
	for _, p := range s.players {
		totals = append(totals, event.PlayerTotals{
			Index:       p.Index,
			Character:   p.CharacterName,
			StocksLost:  s.stocksLost[p.Index],
			DamageDealt: s.damageDealt[p.Index],
			Combos:      s.comboCount[p.Index],
		})
	}
	return totals
}
