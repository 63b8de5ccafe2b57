package monitor

import (
	"errors"
	"io/fs"

	"github.com/slipcoach/slipwatch/pkg/progress"
	"github.com/slipcoach/slipwatch/pkg/replay"
)

// Logger is the minimal logging surface the monitor needs; satisfied by
// progress.Logger.
type Logger interface {
	Print(kind progress.Kind, format string, args ...any)
	Warn(format string, args ...any)
	Debug(format string, args ...any)
}

// StockDelta records a stock-count decrease for one player.
type StockDelta struct {
	Player    int
	Lost      int
	Remaining int
	Frame     int32
}

// Transition records an action-state change for one player. Gap is the
// number of frames the player spent in the From state.
type Transition struct {
	Player int
	From   uint16
	To     uint16
	Frame  int32
	Gap    int32
}

// Diff is the set of low-level changes one Advance call produced.
type Diff struct {
	Activated   bool // settings with a non-empty player list became readable
	NewFrames   int
	StockDeltas []StockDelta
	Transitions []Transition
	Combos      []replay.Combo
	GameEnd     *replay.GameEnd
}

// Ingester pulls the latest parser state for a session and diffs it
// against the session's cursor.
type Ingester struct {
	open          replay.Opener
	minComboMoves int
	comboWindow   int32
	defaultStocks int
	log           Logger
}

// NewIngester creates an ingester using the given parser opener.
func NewIngester(open replay.Opener, cfg Config, log Logger) *Ingester {
	return &Ingester{
		open:          open,
		minComboMoves: cfg.MinComboMoves,
		comboWindow:   cfg.ComboWindowFrames,
		defaultStocks: cfg.DefaultStocks,
		log:           log,
	}
}

// Advance reads the latest available parser state for the session and
// returns the resulting diff. Transient read failures produce an empty
// diff and no error; the caller retries on the next notification. A
// non-nil error means the file is corrupt and the session must be purged.
func (g *Ingester) Advance(s *Session) (Diff, error) {
	var diff Diff

	if s.parser == nil {
		p, err := g.open(s.Path)
		if err != nil {
			// file absent or locked, not an error: retried on next change
			g.log.Debug("open parser for %s: %v", s.Path, err)
			return diff, nil
		}
		s.parser = p
	}

	settings, err := s.parser.Settings()
	if err != nil {
		if transient(err) {
			return diff, nil
		}
		return diff, err
	}

	if s.players == nil && len(settings.Players) > 0 {
		s.activate(settings, g.defaultStocks)
		diff.Activated = true
	}

	if err := g.diffFrame(s, &diff); err != nil {
		return diff, err
	}

	if stats, statsErr := s.parser.Stats(); statsErr == nil && stats != nil {
		g.collectCombos(s, stats, &diff)
	} else if statsErr != nil && !transient(statsErr) {
		return diff, statsErr
	}

	if end, endErr := s.parser.GameEnd(); endErr == nil && end != nil && s.state != StateCompleted {
		diff.GameEnd = end
	} else if endErr != nil && !transient(endErr) {
		return diff, endErr
	}

	return diff, nil
}

// diffFrame compares the latest frame against the cached previous
// per-player snapshots, recording stock deltas and state transitions.
// A non-transient read failure is returned so the session gets purged.
func (g *Ingester) diffFrame(s *Session, diff *Diff) error {
	frame, err := s.parser.LatestFrame()
	if err != nil {
		if transient(err) {
			return nil
		}
		return err
	}
	if frame == nil || frame.Index <= s.frameCursor {
		return nil
	}

	for _, p := range s.players {
		cur, ok := frame.Players[p.Index]
		if !ok {
			continue
		}
		prev, seen := s.prevFrame[p.Index]
		if seen {
			if cur.Stocks < prev.Stocks {
				diff.StockDeltas = append(diff.StockDeltas, StockDelta{
					Player:    p.Index,
					Lost:      prev.Stocks - cur.Stocks,
					Remaining: cur.Stocks,
					Frame:     frame.Index,
				})
			}
			if cur.ActionStateID != prev.ActionStateID {
				diff.Transitions = append(diff.Transitions, Transition{
					Player: p.Index,
					From:   prev.ActionStateID,
					To:     cur.ActionStateID,
					Frame:  frame.Index,
					Gap:    frame.Index - s.lastChange[p.Index],
				})
				s.lastChange[p.Index] = frame.Index
			}
		} else {
			s.lastChange[p.Index] = frame.Index
		}

		s.prevFrame[p.Index] = cur
		s.percents[p.Index] = cur.Percent
		if cur.Stocks < s.stocks[p.Index] {
			s.stocks[p.Index] = cur.Stocks // never increases while active
		}
	}

	if s.frameCursor == frameCursorSentinel {
		diff.NewFrames = 1
	} else {
		diff.NewFrames = int(frame.Index - s.frameCursor)
	}
	s.frameCursor = frame.Index
	return nil
}

// collectCombos filters parser combos to new, recent, significant ones and
// records their keys so they are never emitted twice.
func (g *Ingester) collectCombos(s *Session, stats *replay.Stats, diff *Diff) {
	for _, c := range stats.Combos {
		if c.Moves < g.minComboMoves {
			continue
		}
		if s.frameCursor-c.EndFrame > g.comboWindow {
			continue // stale, outside the recency window
		}
		key := comboKey{player: c.PlayerIndex, startFrame: c.StartFrame}
		if _, dup := s.seenCombos[key]; dup {
			continue
		}
		s.seenCombos[key] = struct{}{}
		diff.Combos = append(diff.Combos, c)
	}
}

// transient reports whether a parser error should be swallowed and
// retried: the file is still being written, locked, or briefly missing
// mid-rename.
func transient(err error) bool {
	return errors.Is(err, replay.ErrNotReady) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}
