// Package slp implements replay.Parser for Slippi .slp files. The parser
// reads incrementally: each accessor call consumes only the bytes appended
// since the previous call, so a file can be re-polled cheaply while the
// game client is still writing it.
package slp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/slipcoach/slipwatch/pkg/replay"
)

// raw element header: "{U\x03raw[$U#l" followed by an int32 payload length.
// the length stays zero until the writer finalizes the file.
var rawHeader = []byte{'{', 'U', 0x03, 'r', 'a', 'w', '[', '$', 'U', '#', 'l'}

var headerSize = len(rawHeader) + 4

// event command bytes within the raw stream.
const (
	cmdEventPayloads = 0x35
	cmdGameStart     = 0x36
	cmdPostFrame     = 0x38
	cmdGameEnd       = 0x39
)

// Parser is the incremental .slp reader. Not safe for concurrent use;
// the monitor calls it from a single goroutine.
type Parser struct {
	path string
	file *os.File

	offset       int64 // absolute offset of the next unread raw byte
	rawLen       int64 // raw element length, 0 while the file is unfinalized
	headerParsed bool
	rawDone      bool

	payloadSizes map[byte]int

	settings     *replay.Settings
	latest       *replay.Frame
	pending      map[int]replay.PostFrame // players of the frame currently being assembled
	pendingFrame int32
	havePending  bool
	gameEnd      *replay.GameEnd
	combos       *comboComputer
}

// Open creates a parser for the given path. The file must exist but may
// still be empty; parsing happens lazily on the first accessor call.
func Open(path string) (replay.Parser, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the watched replay directory
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	return &Parser{
		path:    path,
		file:    f,
		pending: make(map[int]replay.PostFrame),
		combos:  newComboComputer(),
	}, nil
}

// Settings returns the match configuration once the game start block is
// readable. Returns replay.ErrNotReady before that.
func (p *Parser) Settings() (*replay.Settings, error) {
	if err := p.poll(); err != nil {
		return nil, err
	}
	if p.settings == nil {
		return nil, replay.ErrNotReady
	}
	return p.settings, nil
}

// LatestFrame returns the highest fully-parsed frame.
func (p *Parser) LatestFrame() (*replay.Frame, error) {
	if err := p.poll(); err != nil {
		return nil, err
	}
	if p.latest == nil {
		return nil, replay.ErrNotReady
	}
	return p.latest, nil
}

// Stats returns combo records computed from the frames parsed so far.
func (p *Parser) Stats() (*replay.Stats, error) {
	if err := p.poll(); err != nil {
		return nil, err
	}
	return &replay.Stats{Combos: p.combos.records()}, nil
}

// GameEnd returns the terminal marker, or nil while the match is running.
func (p *Parser) GameEnd() (*replay.GameEnd, error) {
	if err := p.poll(); err != nil {
		return nil, err
	}
	return p.gameEnd, nil
}

// Close releases the file handle.
func (p *Parser) Close() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// poll reads any bytes appended since the last call and parses complete
// events from them. Partial events at the tail are left for the next poll.
func (p *Parser) poll() error {
	if p.rawDone || p.file == nil {
		return nil
	}

	info, err := p.file.Stat()
	if err != nil {
		return fmt.Errorf("stat replay: %w", err)
	}
	size := info.Size()

	if !p.headerParsed {
		if err := p.parseHeader(size); err != nil {
			return err
		}
	}

	end := size
	if p.rawLen > 0 {
		end = int64(headerSize) + p.rawLen
		if end > size {
			end = size
		}
	}
	if end <= p.offset {
		return nil
	}

	buf := make([]byte, end-p.offset)
	if _, err := p.file.ReadAt(buf, p.offset); err != nil && err != io.EOF {
		return fmt.Errorf("read replay: %w", err)
	}

	consumed, err := p.parseEvents(buf)
	p.offset += int64(consumed)
	if err != nil {
		return err
	}

	if p.rawLen > 0 && p.offset >= int64(headerSize)+p.rawLen {
		p.flushPending()
		p.combos.finish()
		p.rawDone = true
	}
	return nil
}

// parseHeader validates the raw element header and records the payload
// length. A short file is not an error, just not ready yet.
func (p *Parser) parseHeader(size int64) error {
	if size < int64(headerSize) {
		return replay.ErrNotReady
	}
	hdr := make([]byte, headerSize)
	if _, err := p.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(hdr[:len(rawHeader)], rawHeader) {
		return fmt.Errorf("%w: bad raw element header", replay.ErrInvalidReplay)
	}
	p.rawLen = int64(binary.BigEndian.Uint32(hdr[len(rawHeader):]))
	p.offset = int64(headerSize)
	p.headerParsed = true
	return nil
}

// parseEvents consumes complete events from buf and returns the number of
// bytes consumed. A trailing partial event is not consumed.
func (p *Parser) parseEvents(buf []byte) (int, error) {
	pos := 0
	for pos < len(buf) {
		cmd := buf[pos]

		if cmd == cmdEventPayloads {
			n, err := p.parsePayloadSizes(buf[pos:])
			if err != nil || n == 0 {
				return pos, err
			}
			pos += n
			continue
		}

		if p.payloadSizes == nil {
			return pos, fmt.Errorf("%w: first event is not the payload size table", replay.ErrInvalidReplay)
		}
		size, ok := p.payloadSizes[cmd]
		if !ok {
			return pos, fmt.Errorf("%w: unknown event command 0x%02x", replay.ErrInvalidReplay, cmd)
		}
		if pos+1+size > len(buf) {
			return pos, nil // partial event, wait for more bytes
		}

		payload := buf[pos+1 : pos+1+size]
		switch cmd {
		case cmdGameStart:
			p.parseGameStart(payload)
		case cmdPostFrame:
			p.parsePostFrame(payload)
		case cmdGameEnd:
			p.parseGameEnd(payload)
		}
		pos += 1 + size
	}
	return pos, nil
}

// parsePayloadSizes parses the event-payload-size table that must open the
// raw stream. Returns bytes consumed, or 0 if the table is incomplete.
func (p *Parser) parsePayloadSizes(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, nil
	}
	tableSize := int(buf[1]) // includes the size byte itself
	if tableSize < 1 || (tableSize-1)%3 != 0 {
		return 0, fmt.Errorf("%w: malformed payload size table", replay.ErrInvalidReplay)
	}
	if len(buf) < 1+tableSize {
		return 0, nil
	}

	sizes := make(map[byte]int)
	for i := 2; i < 1+tableSize; i += 3 {
		sizes[buf[i]] = int(binary.BigEndian.Uint16(buf[i+1 : i+3]))
	}
	p.payloadSizes = sizes
	return 1 + tableSize, nil
}

// game start payload offsets, relative to the first payload byte.
const (
	gsStageOffset   = 0x12 // u16, inside the game info block
	gsPlayersOffset = 0x64 // player array, 0x24 bytes per slot
	gsPlayerSize    = 0x24
	gsMaxPlayers    = 4
)

// parseGameStart extracts the player list and stage from the game info block.
func (p *Parser) parseGameStart(payload []byte) {
	if p.settings != nil || len(payload) < gsPlayersOffset+gsMaxPlayers*gsPlayerSize {
		return
	}

	settings := &replay.Settings{
		StageID: int(binary.BigEndian.Uint16(payload[gsStageOffset : gsStageOffset+2])),
	}
	settings.StageName = replay.StageName(settings.StageID)

	for slot := 0; slot < gsMaxPlayers; slot++ {
		base := gsPlayersOffset + slot*gsPlayerSize
		ptype := replay.PlayerType(payload[base+1])
		if ptype == replay.PlayerEmpty {
			continue
		}
		charID := int(payload[base])
		settings.Players = append(settings.Players, replay.PlayerInfo{
			Index:         len(settings.Players),
			Port:          slot + 1,
			CharacterID:   charID,
			CharacterName: replay.CharacterName(charID),
			Type:          ptype,
			StartStocks:   int(payload[base+2]),
		})
	}

	if len(settings.Players) > 0 {
		p.settings = settings
		p.combos.setPlayers(len(settings.Players))
	}
}

// post frame payload offsets, relative to the first payload byte.
const (
	pfFrameOffset     = 0x00 // i32
	pfPlayerOffset    = 0x04 // u8
	pfFollowerOffset  = 0x05 // u8
	pfActionOffset    = 0x07 // u16
	pfXOffset         = 0x09 // f32
	pfYOffset         = 0x0d // f32
	pfPercentOffset   = 0x15 // f32
	pfLastHitByOffset = 0x1f // u8
	pfStocksOffset    = 0x20 // u8
	pfMinSize         = 0x21
)

// parsePostFrame folds one post-frame update into the frame being
// assembled. A post-frame for a higher index seals the previous frame.
func (p *Parser) parsePostFrame(payload []byte) {
	if len(payload) < pfMinSize {
		return
	}
	if payload[pfFollowerOffset] != 0 {
		return // nana and other followers are not tracked
	}

	frame := int32(binary.BigEndian.Uint32(payload[pfFrameOffset : pfFrameOffset+4]))
	player := int(payload[pfPlayerOffset])

	lastHitBy := int(payload[pfLastHitByOffset])
	if lastHitBy >= gsMaxPlayers {
		lastHitBy = -1
	}

	state := replay.PostFrame{
		Stocks:        int(payload[pfStocksOffset]),
		Percent:       float64(math.Float32frombits(binary.BigEndian.Uint32(payload[pfPercentOffset : pfPercentOffset+4]))),
		ActionStateID: binary.BigEndian.Uint16(payload[pfActionOffset : pfActionOffset+2]),
		X:             float64(math.Float32frombits(binary.BigEndian.Uint32(payload[pfXOffset : pfXOffset+4]))),
		Y:             float64(math.Float32frombits(binary.BigEndian.Uint32(payload[pfYOffset : pfYOffset+4]))),
		LastHitBy:     lastHitBy,
	}

	if p.havePending && frame != p.pendingFrame {
		p.flushPending()
	}
	p.pendingFrame = frame
	p.havePending = true
	p.pending[player] = state
}

// flushPending seals the frame currently being assembled as the latest
// fully-parsed frame and feeds it to the combo computer.
func (p *Parser) flushPending() {
	if !p.havePending {
		return
	}
	players := make(map[int]replay.PostFrame, len(p.pending))
	for idx, st := range p.pending {
		players[idx] = st
	}
	p.latest = &replay.Frame{Index: p.pendingFrame, Players: players}
	p.combos.observe(p.latest)
	p.havePending = false
}

// game end payload offsets.
const (
	geMethodOffset = 0x00 // u8
	geLRASOffset   = 0x01 // i8, version >= 2.0.0
)

func (p *Parser) parseGameEnd(payload []byte) {
	if len(payload) < 1 {
		return
	}
	end := &replay.GameEnd{Method: int(payload[geMethodOffset]), LRASInitiator: -1}
	if len(payload) > geLRASOffset {
		end.LRASInitiator = int(int8(payload[geLRASOffset]))
	}
	p.gameEnd = end
	p.flushPending()
	p.combos.finish()
}
