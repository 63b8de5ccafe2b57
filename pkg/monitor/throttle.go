package monitor

import (
	"time"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// throttle keys. Combos are split into two tiers so a long punish can get
// through while stray two-hit strings stay quiet.
const (
	keyStockLost   = "stock-lost"
	keyComboLarge  = "combo-large"
	keyComboSmall  = "combo-small"
	keyTechnique   = "technique"
	keyFrameUpdate = "frame-update"
)

// largeComboMoves is the hit count from which a combo uses the large tier.
const largeComboMoves = 5

// Gate enforces per-session, per-category minimum inter-arrival intervals.
type Gate struct {
	intervals map[string]time.Duration
	now       func() time.Time
	log       Logger
	warned    map[string]struct{}
}

// NewGate creates a throttle gate with the configured intervals.
func NewGate(cfg Config, log Logger) *Gate {
	return &Gate{
		intervals: map[string]time.Duration{
			keyStockLost:   cfg.ThrottleStockLost,
			keyComboLarge:  cfg.ThrottleComboLarge,
			keyComboSmall:  cfg.ThrottleComboSmall,
			keyTechnique:   cfg.ThrottleTechnique,
			keyFrameUpdate: cfg.ThrottleHeartbeat,
		},
		now:    time.Now,
		log:    log,
		warned: make(map[string]struct{}),
	}
}

// Admit decides whether the event passes the gate. Dropped events leave
// the gate state untouched; admitted events record the acceptance time.
// Events with no throttle interval configured are admitted (fail-open)
// with a warning logged once per key.
func (g *Gate) Admit(s *Session, e event.Event) bool {
	key, throttled := throttleKey(e)
	if !throttled {
		return true // lifecycle events are never throttled
	}

	interval, known := g.intervals[key]
	if !known {
		if _, seen := g.warned[key]; !seen {
			g.warned[key] = struct{}{}
			g.log.Warn("no throttle interval for %q, admitting by default", key)
		}
		return true
	}

	now := g.now()
	if last, ok := s.throttle[key]; ok && now.Sub(last) < interval {
		return false
	}
	s.throttle[key] = now
	return true
}

// throttleKey maps an event to its throttle key. Session lifecycle events
// report false: they always pass.
func throttleKey(e event.Event) (string, bool) {
	switch e.Category {
	case event.CategoryStockLost:
		return keyStockLost, true
	case event.CategoryCombo:
		if e.Moves >= largeComboMoves {
			return keyComboLarge, true
		}
		return keyComboSmall, true
	case event.CategoryTechnique:
		return keyTechnique, true
	case event.CategoryFrameUpdate:
		return keyFrameUpdate, true
	case event.CategorySessionStart, event.CategorySessionEnd:
		return "", false
	default:
		// unrecognized category, keyed by its own name so the fail-open
		// warning fires once
		return string(e.Category), true
	}
}
