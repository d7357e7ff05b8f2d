// Package watch reports document changes in a folder using fsnotify.
// Bursts of events for one file are coalesced so that an editor's
// save sequence yields a single event.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change.
type Op int

const (
	// Changed covers creation and modification.
	Changed Op = iota + 1
	// Removed covers deletion and renaming away.
	Removed
)

func (o Op) String() string {
	switch o {
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is one coalesced change.
type Event struct {
	Path string
	Op   Op
}

// DefaultDebounce is the quiet period before pending events are emitted.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Accept filters by path; nil accepts everything.
	Accept   func(path string) bool
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher watches one folder, non-recursively.
type Watcher struct {
	fs   *fsnotify.Watcher
	dir  string
	opts Options
	log  *slog.Logger
}

// New starts watching dir.
func New(dir string, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", dir, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{fs: fw, dir: dir, opts: opts, log: log}, nil
}

// Close stops watching. Run returns once its context is done or the
// watcher is closed.
func (w *Watcher) Close() error { return w.fs.Close() }

// Run delivers coalesced events to handle, one at a time and in path
// order per flush, until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, handle func(context.Context, Event)) error {
	pending := make(map[string]Op)
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			op, ok := classify(ev.Op)
			if !ok || (w.opts.Accept != nil && !w.opts.Accept(ev.Name)) {
				continue
			}
			pending[ev.Name] = op
			fire = time.After(w.opts.Debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch: fsnotify error", "dir", w.dir, "err", err)

		case <-fire:
			fire = nil
			for _, ev := range drain(pending) {
				w.log.Debug("watch: event", "path", ev.Path, "op", ev.Op.String())
				handle(ctx, ev)
			}
		}
	}
}

func classify(op fsnotify.Op) (Op, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Removed, true
	case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
		return Changed, true
	}
	return 0, false
}

func drain(pending map[string]Op) []Event {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]Event, len(paths))
	for i, p := range paths {
		out[i] = Event{Path: filepath.Clean(p), Op: pending[p]}
		delete(pending, p)
	}
	return out
}
