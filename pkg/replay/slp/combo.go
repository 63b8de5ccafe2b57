package slp

import "github.com/slipcoach/slipwatch/pkg/replay"

// comboGapFrames is the largest frame gap between hits that still extends
// a combo. Matches roughly 0.75s of hitstun/followup time at 60fps.
const comboGapFrames = 45

// comboComputer derives combo records from the per-frame damage taken by
// each player. A chain of percent increases attributed to the same
// attacker, with no gap longer than comboGapFrames, forms one combo.
type comboComputer struct {
	players int
	prev    map[int]replay.PostFrame
	active  map[int]*comboState // keyed by victim index
	closed  []replay.Combo
}

// comboState tracks an in-progress combo against one victim.
type comboState struct {
	attacker     int
	startFrame   int32
	lastHitFrame int32
	startPercent float64
	endPercent   float64
	moves        int
	didKill      bool
}

func newComboComputer() *comboComputer {
	return &comboComputer{
		prev:   make(map[int]replay.PostFrame),
		active: make(map[int]*comboState),
	}
}

func (c *comboComputer) setPlayers(n int) { c.players = n }

// observe folds one sealed frame into the computer.
func (c *comboComputer) observe(f *replay.Frame) {
	for victim, cur := range f.Players {
		prev, ok := c.prev[victim]
		c.prev[victim] = cur
		if !ok {
			continue
		}

		state := c.active[victim]

		// a combo that went stale closes before new damage is considered
		if state != nil && f.Index-state.lastHitFrame > comboGapFrames {
			c.close(victim, state)
			state = nil
		}

		if cur.Stocks < prev.Stocks {
			if state != nil {
				state.didKill = true
				state.endPercent = prev.Percent
				c.close(victim, state)
			}
			continue
		}

		if cur.Percent <= prev.Percent {
			continue
		}

		attacker := cur.LastHitBy
		if attacker < 0 || attacker == victim {
			attacker = c.fallbackAttacker(victim)
		}
		if attacker < 0 {
			continue
		}

		if state != nil && state.attacker != attacker {
			c.close(victim, state)
			state = nil
		}

		if state == nil {
			state = &comboState{
				attacker:     attacker,
				startFrame:   f.Index,
				startPercent: prev.Percent,
			}
			c.active[victim] = state
		}
		state.moves++
		state.lastHitFrame = f.Index
		state.endPercent = cur.Percent
	}
}

// fallbackAttacker attributes damage in a 1v1 when the last-hit-by field
// is unset; with more than two players nothing can be inferred.
func (c *comboComputer) fallbackAttacker(victim int) int {
	if c.players != 2 {
		return -1
	}
	return 1 - victim
}

func (c *comboComputer) close(victim int, state *comboState) {
	delete(c.active, victim)
	if state.moves < 1 {
		return
	}
	c.closed = append(c.closed, replay.Combo{
		PlayerIndex:  state.attacker,
		StartFrame:   state.startFrame,
		EndFrame:     state.lastHitFrame,
		Moves:        state.moves,
		StartPercent: state.startPercent,
		EndPercent:   state.endPercent,
		DidKill:      state.didKill,
	})
}

// finish closes any still-open combos, called when the match ends.
func (c *comboComputer) finish() {
	for victim, state := range c.active {
		c.close(victim, state)
	}
}

// records returns all closed combos in detection order.
func (c *comboComputer) records() []replay.Combo {
	return c.closed
}
