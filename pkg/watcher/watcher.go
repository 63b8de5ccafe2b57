// Package watcher emits add/change/remove notifications for replay files
// in a watched directory, built on fsnotify.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of file activity a notification reports.
type Op string

// notification operations.
const (
	OpAdded   Op = "added"
	OpChanged Op = "changed"
	OpRemoved Op = "removed"
)

// Notification is one file event for a replay file in the watched root.
type Notification struct {
	Path string
	Op   Op
}

// replayExt is the extension of replay files produced by the game client.
const replayExt = ".slp"

// inProgressName is written while spectating a remote match and must never
// be tracked as a session of its own.
const inProgressName = "CurrentGame.slp"

// Watcher watches a single directory root for replay file activity.
type Watcher struct {
	root string
	fw   *fsnotify.Watcher
	ch   chan Notification
}

// New creates a watcher for the given root directory. The root must exist;
// a missing root is a configuration error and the monitor must not start.
func New(root string) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %q is not a directory", root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %q: %w", root, err)
	}

	return &Watcher{
		root: root,
		fw:   fw,
		ch:   make(chan Notification, 256),
	}, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string { return w.root }

// Events returns the channel notifications are delivered on. The channel
// is closed when Run returns.
func (w *Watcher) Events() <-chan Notification { return w.ch }

// Run pumps fsnotify events into the notifications channel until the
// context is cancelled. Events for files that are not replay files, and
// for the in-progress spectating file, are dropped here so downstream
// never sees them.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.ch)
	defer w.fw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			n, relevant := translate(ev)
			if !relevant {
				continue
			}
			select {
			case w.ch <- n:
			default:
				// buffer full, drop; the next change re-triggers processing
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fsnotify: %w", err)
			}
		}
	}
}

// translate maps an fsnotify event to a notification, reporting whether
// the event is relevant at all.
func translate(ev fsnotify.Event) (Notification, bool) {
	if !relevantPath(ev.Name) {
		return Notification{}, false
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		return Notification{Path: ev.Name, Op: OpAdded}, true
	case ev.Op.Has(fsnotify.Write):
		return Notification{Path: ev.Name, Op: OpChanged}, true
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		return Notification{Path: ev.Name, Op: OpRemoved}, true
	}
	return Notification{}, false
}

// relevantPath reports whether the path is a replay file worth tracking.
func relevantPath(path string) bool {
	base := filepath.Base(path)
	if base == inProgressName {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), replayExt)
}
