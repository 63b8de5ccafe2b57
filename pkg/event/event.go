// Package event defines the domain events the monitor emits to the
// commentary consumer, plus the game-state snapshot attached to every
// dispatched batch.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category is the coarse classification of a domain event.
type Category string

// event category constants.
const (
	CategoryStockLost    Category = "stock-lost"    // a player lost one or more stocks
	CategoryCombo        Category = "combo"         // a multi-hit combo completed
	CategoryTechnique    Category = "technique"     // a technical execution was detected
	CategoryFrameUpdate  Category = "frame-update"  // periodic heartbeat with full state
	CategorySessionStart Category = "session-start" // a match started
	CategorySessionEnd   Category = "session-end"   // a match ended, carries aggregates
)

// technique sub-type constants. One transition maps to at most one sub-type;
// the classifier applies rules in a fixed order so overlaps resolve
// deterministically.
const (
	TechWavedash   = "wavedash"       // landing within a few frames of an air dodge
	TechLCancel    = "l-cancel"       // landing directly out of an aerial attack
	TechTech       = "tech"           // successful tech on hitting the ground
	TechMissedTech = "missed-tech"    // knockdown without a tech input
	TechShield     = "shield"         // shield raised
	TechGrab       = "grab"           // grab attempt
	TechRecovery   = "recovery-start" // ledge grab starting a recovery sequence
)

// PlayerState is one player's position in the match, carried by heartbeat
// events and by the snapshot attached to every batch.
type PlayerState struct {
	Index     int     `json:"index"`
	Port      int     `json:"port"`
	Character string  `json:"character"`
	Stocks    int     `json:"stocks"`
	Percent   float64 `json:"percent"`
}

// PlayerTotals is the per-player aggregate carried by a session-end event.
type PlayerTotals struct {
	Index       int     `json:"index"`
	Character   string  `json:"character"`
	StocksLost  int     `json:"stocks_lost"`
	DamageDealt float64 `json:"damage_dealt"`
	Combos      int     `json:"combos"`
}

// Event is a single classified domain event. Category determines which of
// the optional fields are populated.
type Event struct {
	Category    Category `json:"category"`
	SubType     string   `json:"sub_type,omitempty"`
	PlayerIndex int      `json:"player_index"`
	Frame       int32    `json:"frame"`

	// stock loss fields
	StocksLost      int `json:"stocks_lost,omitempty"`
	StocksRemaining int `json:"stocks_remaining,omitempty"`

	// combo fields
	Moves   int     `json:"moves,omitempty"`
	Damage  float64 `json:"damage,omitempty"`
	DidKill bool    `json:"did_kill,omitempty"`

	// session fields
	Matchup string         `json:"matchup,omitempty"`
	Stage   string         `json:"stage,omitempty"`
	Totals  []PlayerTotals `json:"totals,omitempty"`

	// heartbeat fields
	Players []PlayerState `json:"players,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
}

// Snapshot is the lightweight game-state context attached to each batch.
type Snapshot struct {
	Frame   int32         `json:"frame"`
	Stage   string        `json:"stage"`
	Players []PlayerState `json:"players"`
}

// NewStockLost creates a stock loss event.
func NewStockLost(player int, frame int32, lost, remaining int) Event {
	return Event{
		Category:        CategoryStockLost,
		PlayerIndex:     player,
		Frame:           frame,
		StocksLost:      lost,
		StocksRemaining: remaining,
		EmittedAt:       time.Now(),
	}
}

// NewCombo creates a combo event.
func NewCombo(player int, frame int32, moves int, damage float64, didKill bool) Event {
	return Event{
		Category:    CategoryCombo,
		PlayerIndex: player,
		Frame:       frame,
		Moves:       moves,
		Damage:      damage,
		DidKill:     didKill,
		EmittedAt:   time.Now(),
	}
}

// NewTechnique creates a technique event with the given sub-type.
func NewTechnique(player int, frame int32, subType string) Event {
	return Event{
		Category:    CategoryTechnique,
		SubType:     subType,
		PlayerIndex: player,
		Frame:       frame,
		EmittedAt:   time.Now(),
	}
}

// NewFrameUpdate creates a heartbeat event with the current player states.
func NewFrameUpdate(frame int32, players []PlayerState) Event {
	return Event{
		Category:  CategoryFrameUpdate,
		Frame:     frame,
		Players:   players,
		EmittedAt: time.Now(),
	}
}

// NewSessionStart creates a session start event with matchup and stage.
func NewSessionStart(matchup, stage string) Event {
	return Event{
		Category:  CategorySessionStart,
		Matchup:   matchup,
		Stage:     stage,
		EmittedAt: time.Now(),
	}
}

// NewSessionEnd creates a session end event carrying per-player aggregates.
func NewSessionEnd(frame int32, matchup, stage string, totals []PlayerTotals) Event {
	return Event{
		Category:  CategorySessionEnd,
		Frame:     frame,
		Matchup:   matchup,
		Stage:     stage,
		Totals:    totals,
		EmittedAt: time.Now(),
	}
}

// JSON returns the event as JSON bytes for feed streaming.
func (e Event) JSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
