// Package replay defines the boundary to the replay-parsing collaborator:
// the types and accessors a parser must expose for the monitor to track a
// live match file. The slp subpackage provides the incremental .slp
// implementation; tests substitute scriptable fakes.
package replay

import "errors"

// sentinel errors returned by parser accessors.
var (
	// ErrNotReady indicates the underlying file is still being written and
	// the requested data is not available yet. Callers retry on the next
	// change notification.
	ErrNotReady = errors.New("replay not ready")

	// ErrInvalidReplay indicates the file is structurally corrupt and will
	// never become readable. Callers should stop tracking the file.
	ErrInvalidReplay = errors.New("invalid replay file")
)

// FirstFrame is the lowest frame index a match produces. Frames before
// index 0 cover the "ready, go" intro.
const FirstFrame = -123

// PlayerType distinguishes human players from CPU and demo slots.
type PlayerType int

// player type constants as stored in the game settings block.
const (
	PlayerHuman PlayerType = 0
	PlayerCPU   PlayerType = 1
	PlayerDemo  PlayerType = 2
	PlayerEmpty PlayerType = 3
)

// PlayerInfo describes one occupied player slot from the game settings.
type PlayerInfo struct {
	Index         int        // 0-based position in the settings list
	Port          int        // display slot, 1-based
	CharacterID   int        // external character id
	CharacterName string     // resolved via CharacterName, "Unknown" if unmapped
	Type          PlayerType // human / cpu / demo
	StartStocks   int        // starting stock count from settings, 0 if absent
}

// Human reports whether the slot is controlled by a human player.
func (p PlayerInfo) Human() bool { return p.Type == PlayerHuman }

// Settings holds the match configuration parsed from the game start block.
type Settings struct {
	Players   []PlayerInfo
	StageID   int
	StageName string
}

// PostFrame is the per-player state after one frame has been simulated.
type PostFrame struct {
	Stocks        int
	Percent       float64
	ActionStateID uint16
	X             float64
	Y             float64
	LastHitBy     int // player index of last attacker, -1 if none
}

// Frame is the latest fully-parsed frame with per-player post-frame state.
type Frame struct {
	Index   int32
	Players map[int]PostFrame // keyed by player index
}

// Combo is one computed combo record: a chain of hits by one player.
type Combo struct {
	PlayerIndex  int // attacking player
	StartFrame   int32
	EndFrame     int32
	Moves        int
	StartPercent float64
	EndPercent   float64
	DidKill      bool
}

// Damage returns the percent dealt over the course of the combo.
func (c Combo) Damage() float64 { return c.EndPercent - c.StartPercent }

// Stats holds parser-computed statistics for the match so far.
type Stats struct {
	Combos []Combo
}

// GameEnd is the terminal marker written when a match concludes.
type GameEnd struct {
	Method        int // 1 time, 2 game, 7 no contest
	LRASInitiator int // player index that quit out, -1 if none
}

// Parser exposes incremental read access to a single replay file. All
// accessors may return ErrNotReady while the source file is still being
// written; implementations must tolerate being called repeatedly.
type Parser interface {
	// Settings returns the match configuration, available once the game
	// start block has been written.
	Settings() (*Settings, error)

	// LatestFrame returns the highest fully-parsed frame.
	LatestFrame() (*Frame, error)

	// Stats returns computed statistics for the frames parsed so far.
	Stats() (*Stats, error)

	// GameEnd returns the terminal marker, or nil if the match is still
	// in progress.
	GameEnd() (*GameEnd, error)

	// Close releases the underlying file handle.
	Close() error
}

// Opener creates a parser for the given file path. The monitor opens
// parsers lazily on first activity for a file.
type Opener func(path string) (Parser, error)
