package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/edulab/mirrorbox/internal/utils"
	"github.com/fsnotify/fsnotify"
)

var (
	ErrWatcherClosed = errors.New("watcher closed")
	ErrDirNotExist   = errors.New("directory to watch does not exist")
)

// EventKind is the watcher-level activity on one path.
type EventKind int

const (
	EventCreate EventKind = iota
	EventWrite
	EventRemove
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventWrite:
		return "write"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one file-system change under the session root. Paths are
// absolute; the engine converts them to wire form.
type Event struct {
	Kind EventKind
	Path string
}

// Watcher watches a directory tree recursively and emits Events. New
// subdirectories are added to the watch as they appear, and watches are
// dropped as directories go away.
//
// The underlying notifier reports a rename as remove-old plus create-new,
// so a raw file-system rename degrades to those two events here; exact
// rename pairs only arrive through the editor bridge.
type Watcher struct {
	Events chan Event
	Errors chan error

	watcher  *fsnotify.Watcher
	isClosed bool
	mu       sync.Mutex
}

func NewWatcher() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  watcher,
		Events:   make(chan Event, 64),
		Errors:   make(chan error, 16),
		isClosed: false,
	}, nil
}

// Run pumps raw notifications into typed Events until the context is done
// or the watcher is stopped. Run is the only sender on Events/Errors and the
// only closer, so Stop can never race a send on a closed channel.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				close(w.Events)
				close(w.Errors)
				return ErrWatcherClosed
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				close(w.Events)
				close(w.Errors)
				return ErrWatcherClosed
			}
			w.handleError(err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop closes the underlying notifier; the Run loop then drains out through
// its closed-channel branch.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isClosed {
		return ErrWatcherClosed
	}
	w.isClosed = true
	return w.watcher.Close()
}

// Add starts watching dir and every directory below it.
func (w *Watcher) Add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isClosed {
		return ErrWatcherClosed
	}

	if !utils.DirExists(dir) {
		return ErrDirNotExist
	}

	return w.recursivelyAddWatch(dir)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Chmod):
		return

	case event.Has(fsnotify.Create):
		if err := w.onCreate(event); err != nil {
			slog.Debug("create watch handling", "path", event.Name, "error", err)
		}
		w.emit(Event{Kind: EventCreate, Path: event.Name})

	case event.Has(fsnotify.Write):
		w.emit(Event{Kind: EventWrite, Path: event.Name})

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if err := w.onRemove(event); err != nil {
			slog.Debug("remove watch handling", "path", event.Name, "error", err)
		}
		w.emit(Event{Kind: EventRemove, Path: event.Name})
	}
}

func (w *Watcher) emit(event Event) {
	select {
	case w.Events <- event:
	default:
		slog.Warn("dropped event: events channel full",
			"path", event.Path,
			"kind", event.Kind.String(),
		)
	}
}

func (w *Watcher) handleError(err error) {
	select {
	case w.Errors <- err:
	default:
		slog.Warn("dropped error: errors channel full", "error", err)
	}
}

func (w *Watcher) onCreate(event fsnotify.Event) error {
	fileinfo, err := os.Stat(event.Name)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	if fileinfo.IsDir() {
		if err = w.recursivelyAddWatch(event.Name); err != nil {
			return fmt.Errorf("recursive add watch: %w", err)
		}
	}

	return nil
}

func (w *Watcher) onRemove(event fsnotify.Event) error {
	// can't stat a deleted dir/file, so yolo it
	if err := w.watcher.Remove(event.Name); err != nil {
		if !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return fmt.Errorf("remove watch: %w", err)
		}
	}
	return nil
}

func (w *Watcher) recursivelyAddWatch(dir string) error {
	slog.Debug("watcher add", "dir", dir)
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("fsnotify add watch: %w", err)
			}
		}
		return nil
	})
}
