package monitor

import "github.com/slipcoach/slipwatch/pkg/event"

// melee action state ids consulted by the technique rules.
const (
	stateLanding        uint16 = 0x2a // normal landing
	stateLandingSpecial uint16 = 0x2b // landing with special fall
	stateAirDodge       uint16 = 0xec
	stateTechInPlace    uint16 = 0xc7
	stateTechForward    uint16 = 0xc8
	stateTechBackward   uint16 = 0xc9
	stateDownBoundUp    uint16 = 0xb7 // missed tech, face up
	stateDownBoundDown  uint16 = 0xbf // missed tech, face down
	stateGuardOn        uint16 = 0xb2
	stateCatch          uint16 = 0xd4 // grab attempt
	stateCliffCatch     uint16 = 0xfc // ledge grab
)

// aerial attack action state range (nair through dair).
const (
	stateAerialFirst uint16 = 0x41
	stateAerialLast  uint16 = 0x45
)

// wavedashWindow is the largest number of frames between the air dodge and
// the landing that still counts as a wavedash/waveland.
const wavedashWindow = 5

// Classifier maps low-level transitions into typed domain events.
type Classifier struct {
	includeCPU      bool
	heartbeatFrames int32
}

// NewClassifier creates a classifier. CPU-attributed events are dropped
// unless includeCPU is set.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		includeCPU:      cfg.IncludeCPUEvents,
		heartbeatFrames: cfg.HeartbeatFrames,
	}
}

// Classify turns a diff into domain events in detection order. Session
// start/end events are synthesized by the lifecycle controller, not here.
func (c *Classifier) Classify(s *Session, d Diff) []event.Event {
	var events []event.Event

	for _, sd := range d.StockDeltas {
		if !c.eligible(s, sd.Player) {
			continue
		}
		events = append(events, event.NewStockLost(sd.Player, sd.Frame, sd.Lost, sd.Remaining))
	}

	for _, tr := range d.Transitions {
		if !c.eligible(s, tr.Player) {
			continue
		}
		if sub, ok := classifyTransition(tr); ok {
			events = append(events, event.NewTechnique(tr.Player, tr.Frame, sub))
		}
	}

	for _, combo := range d.Combos {
		if !c.eligible(s, combo.PlayerIndex) {
			continue
		}
		events = append(events, event.NewCombo(combo.PlayerIndex, combo.StartFrame, combo.Moves, combo.Damage(), combo.DidKill))
	}

	if d.NewFrames > 0 && s.frameCursor-s.lastHeartbeat >= c.heartbeatFrames {
		events = append(events, event.NewFrameUpdate(s.frameCursor, s.playerStates()))
		s.lastHeartbeat = s.frameCursor
	}

	return events
}

// eligible reports whether events for the player should be emitted at all.
func (c *Classifier) eligible(s *Session, player int) bool {
	if c.includeCPU {
		return true
	}
	if player < 0 || player >= len(s.players) {
		return false
	}
	return s.players[player].Human()
}

// classifyTransition applies the technique pattern rules in a fixed order;
// the first matching rule wins, which resolves overlapping patterns
// deterministically. Unrecognized transitions are dropped.
func classifyTransition(tr Transition) (string, bool) {
	landing := tr.To == stateLanding || tr.To == stateLandingSpecial

	switch {
	case landing && tr.From == stateAirDodge && tr.Gap <= wavedashWindow:
		return event.TechWavedash, true
	case tr.To == stateLanding && tr.From >= stateAerialFirst && tr.From <= stateAerialLast:
		return event.TechLCancel, true
	case tr.To == stateTechInPlace || tr.To == stateTechForward || tr.To == stateTechBackward:
		return event.TechTech, true
	case tr.To == stateDownBoundUp || tr.To == stateDownBoundDown:
		return event.TechMissedTech, true
	case tr.To == stateGuardOn:
		return event.TechShield, true
	case tr.To == stateCatch:
		return event.TechGrab, true
	case tr.To == stateCliffCatch:
		return event.TechRecovery, true
	}
	return "", false
}
