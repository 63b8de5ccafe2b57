package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipcoach/slipwatch/pkg/event"
	"github.com/slipcoach/slipwatch/pkg/replay"
)

func activeSession(t *testing.T) *Session {
	t.Helper()
	s := newSession("/r/game.slp")
	s.activate(twoPlayerSettings(), defaultStartStocks)
	return s
}

func TestClassifier_StockDelta(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	s := activeSession(t)

	events := c.Classify(s, Diff{StockDeltas: []StockDelta{
		{Player: 1, Lost: 1, Remaining: 2, Frame: 3000},
	}})

	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, event.CategoryStockLost, e.Category)
	assert.Equal(t, 1, e.PlayerIndex)
	assert.Equal(t, 1, e.StocksLost)
	assert.Equal(t, 2, e.StocksRemaining)
	assert.Equal(t, int32(3000), e.Frame)
}

func TestClassifyTransition(t *testing.T) {
	tests := []struct {
		name    string
		tr      Transition
		want    string
		matched bool
	}{
		{"wavedash", Transition{From: stateAirDodge, To: stateLanding, Gap: 3}, event.TechWavedash, true},
		{"waveland special landing", Transition{From: stateAirDodge, To: stateLandingSpecial, Gap: 5}, event.TechWavedash, true},
		{"airdodge landing too slow", Transition{From: stateAirDodge, To: stateLanding, Gap: 9}, "", false},
		{"l-cancel from nair", Transition{From: stateAerialFirst, To: stateLanding, Gap: 12}, event.TechLCancel, true},
		{"l-cancel from dair", Transition{From: stateAerialLast, To: stateLanding, Gap: 12}, event.TechLCancel, true},
		{"plain landing", Transition{From: 0x0e, To: stateLanding, Gap: 20}, "", false},
		{"tech in place", Transition{From: 0x26, To: stateTechInPlace, Gap: 8}, event.TechTech, true},
		{"tech roll", Transition{From: 0x26, To: stateTechForward, Gap: 8}, event.TechTech, true},
		{"missed tech face up", Transition{From: 0x26, To: stateDownBoundUp, Gap: 8}, event.TechMissedTech, true},
		{"missed tech face down", Transition{From: 0x26, To: stateDownBoundDown, Gap: 8}, event.TechMissedTech, true},
		{"shield", Transition{From: 0x0e, To: stateGuardOn, Gap: 2}, event.TechShield, true},
		{"grab", Transition{From: 0x0e, To: stateCatch, Gap: 2}, event.TechGrab, true},
		{"ledge grab", Transition{From: 0x1d, To: stateCliffCatch, Gap: 40}, event.TechRecovery, true},
		{"unrecognized", Transition{From: 0x0e, To: 0x0f, Gap: 1}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, ok := classifyTransition(tt.tr)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.want, sub)
		})
	}
}

func TestClassifier_WavedashWinsOverShield(t *testing.T) {
	// an air dodge into landing within the window is a wavedash even though
	// later rules could also inspect the same transition; rule order decides
	sub, ok := classifyTransition(Transition{From: stateAirDodge, To: stateLanding, Gap: wavedashWindow})
	require.True(t, ok)
	assert.Equal(t, event.TechWavedash, sub)
}

func TestClassifier_Combo(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	s := activeSession(t)

	events := c.Classify(s, Diff{Combos: []replay.Combo{
		{PlayerIndex: 0, StartFrame: 500, EndFrame: 600, Moves: 5, StartPercent: 10, EndPercent: 55, DidKill: true},
	}})

	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, event.CategoryCombo, e.Category)
	assert.Equal(t, 5, e.Moves)
	assert.InDelta(t, 45.0, e.Damage, 0.001)
	assert.True(t, e.DidKill)
}

func TestClassifier_CPUFiltered(t *testing.T) {
	settings := twoPlayerSettings()
	settings.Players[1].Type = replay.PlayerCPU

	s := newSession("/r/game.slp")
	s.activate(settings, defaultStartStocks)

	diff := Diff{StockDeltas: []StockDelta{
		{Player: 0, Lost: 1, Remaining: 3, Frame: 100},
		{Player: 1, Lost: 1, Remaining: 3, Frame: 100},
	}}

	c := NewClassifier(DefaultConfig())
	events := c.Classify(s, diff)
	require.Len(t, events, 1, "cpu-attributed events are dropped by default")
	assert.Equal(t, 0, events[0].PlayerIndex)

	cfg := DefaultConfig()
	cfg.IncludeCPUEvents = true
	events = NewClassifier(cfg).Classify(s, diff)
	assert.Len(t, events, 2)
}

func TestClassifier_Heartbeat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatFrames = 600
	c := NewClassifier(cfg)
	s := activeSession(t)

	// the first processed frame always triggers a heartbeat: the cursor is
	// far beyond the sentinel
	s.frameCursor = replay.FirstFrame
	events := c.Classify(s, Diff{NewFrames: 1})
	require.Len(t, events, 1)
	assert.Equal(t, event.CategoryFrameUpdate, events[0].Category)
	require.Len(t, events[0].Players, 2)

	// below the cadence, no heartbeat
	s.frameCursor = replay.FirstFrame + 300
	events = c.Classify(s, Diff{NewFrames: 300})
	assert.Empty(t, events)

	// at the cadence, the next heartbeat fires
	s.frameCursor = replay.FirstFrame + 600
	events = c.Classify(s, Diff{NewFrames: 300})
	require.Len(t, events, 1)
	assert.Equal(t, int32(replay.FirstFrame+600), events[0].Frame)
}

func TestClassifier_NoHeartbeatWithoutNewFrames(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	s := activeSession(t)
	s.frameCursor = 1000

	events := c.Classify(s, Diff{})
	assert.Empty(t, events)
}
