// Package progress provides timestamped logging to stdout and an optional
// log file with per-category color support.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Kind selects the color used for a log line.
type Kind string

// kind constants for the event pipeline stages.
const (
	KindSession Kind = "session" // session lifecycle (green)
	KindStock   Kind = "stock"   // stock losses (red)
	KindCombo   Kind = "combo"   // combos (yellow)
	KindTech    Kind = "tech"    // techniques (cyan)
	KindFeed    Kind = "feed"    // dispatch/feed activity (magenta)
)

// kind colors using fatih/color.
var (
	sessionColor   = color.New(color.FgGreen)
	stockColor     = color.New(color.FgRed)
	comboColor     = color.New(color.FgYellow)
	techColor      = color.New(color.FgCyan)
	feedColor      = color.New(color.FgMagenta)
	warnColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	timestampColor = color.New(color.FgWhite)
)

// kindColors maps kinds to their color functions.
var kindColors = map[Kind]*color.Color{
	KindSession: sessionColor,
	KindStock:   stockColor,
	KindCombo:   comboColor,
	KindTech:    techColor,
	KindFeed:    feedColor,
}

// Logger writes timestamped output to stdout and optionally to a log file.
type Logger struct {
	file   *os.File
	stdout io.Writer
	debug  bool
}

// Config holds logger configuration.
type Config struct {
	LogFile string // optional path for a session log file
	Debug   bool   // enable debug output
	NoColor bool   // disable color output (sets color.NoColor globally)
}

// timestampFormat is the format for timestamps: YY-MM-DD HH:MM:SS
const timestampFormat = "06-01-02 15:04:05"

// NewLogger creates a logger writing to stdout and, if configured, a file.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.NoColor {
		color.NoColor = true
	}

	l := &Logger{stdout: os.Stdout, debug: cfg.Debug}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // path from user config
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
	}

	return l, nil
}

// Print writes a timestamped message colored by kind.
func (l *Logger) Print(kind Kind, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format(timestampFormat)

	c, ok := kindColors[kind]
	if !ok {
		c = timestampColor
	}
	fmt.Fprintf(l.stdout, "%s %s\n", timestampColor.Sprintf("[%s]", ts), c.Sprint(msg))
	l.writeFile("[%s] %s\n", ts, msg)
}

// Warn writes a warning message.
func (l *Logger) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format(timestampFormat)
	fmt.Fprintf(l.stdout, "%s %s\n", timestampColor.Sprintf("[%s]", ts), warnColor.Sprintf("WARN: %s", msg))
	l.writeFile("[%s] WARN: %s\n", ts, msg)
}

// Error writes an error message.
func (l *Logger) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format(timestampFormat)
	fmt.Fprintf(l.stdout, "%s %s\n", timestampColor.Sprintf("[%s]", ts), errorColor.Sprintf("ERROR: %s", msg))
	l.writeFile("[%s] ERROR: %s\n", ts, msg)
}

// Debug writes a debug message, suppressed unless debug is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format(timestampFormat)
	fmt.Fprintf(l.stdout, "%s %s\n", timestampColor.Sprintf("[%s]", ts), msg)
	l.writeFile("[%s] DEBUG: %s\n", ts, msg)
}

// Section writes a full-width separator line with a leading title.
func (l *Logger) Section(title string) {
	width := terminalWidth()
	line := fmt.Sprintf("--- %s ", title)
	if pad := width - len(line); pad > 0 {
		line += strings.Repeat("-", pad)
	}
	fmt.Fprintln(l.stdout, sessionColor.Sprint(line))
	l.writeFile("%s\n", line)
}

// Close closes the log file if one is open.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// writeFile writes to the log file only, ignoring errors (best-effort).
func (l *Logger) writeFile(format string, args ...any) {
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, format, args...)
}

// terminalWidth returns the stdout width, falling back to 80 columns.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}
