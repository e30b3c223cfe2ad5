// Package capture turns local workspace activity into ordered sync events.
// It watches the session root, listens for editor signals through the
// bridge, and feeds everything as delivery tasks into the retry queue -
// without ever re-announcing writes the client itself made.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/edulab/mirrorbox/internal/client/taskqueue"
	"github.com/edulab/mirrorbox/internal/collectorsdk"
	"github.com/edulab/mirrorbox/internal/utils"
)

// DefaultHeartbeat is the liveness period. It lets the collector tell
// "idle and connected" from "disconnected".
const DefaultHeartbeat = 30 * time.Second

// Engine converts file-system and editor activity under one session root
// into delivery tasks, in event order. The queue's own serialization turns
// that into per-resource ordering on the wire.
type Engine struct {
	root      string
	sdk       *collectorsdk.Client
	queue     *taskqueue.Queue
	watcher   *Watcher
	ignore    *IgnoreList
	scheduler *PendingSnapshotScheduler

	heartbeat time.Duration
	debounce  time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

type Option func(*Engine)

// WithHeartbeatInterval overrides the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.heartbeat = d
	}
}

// WithDebounce overrides the per-document edit debounce window.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		e.debounce = d
	}
}

func NewEngine(root string, sdk *collectorsdk.Client, queue *taskqueue.Queue, opts ...Option) (*Engine, error) {
	absRoot, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve capture root: %w", err)
	}

	watcher, err := NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	e := &Engine{
		root:      absRoot,
		sdk:       sdk,
		queue:     queue,
		watcher:   watcher,
		ignore:    NewIgnoreList(absRoot),
		heartbeat: DefaultHeartbeat,
		debounce:  DefaultDebounce,
		ctx:       context.Background(), // replaced by the session context in Start
	}
	for _, opt := range opts {
		opt(e)
	}

	e.scheduler = NewPendingSnapshotScheduler(e.debounce, e.snapshotNow)

	return e, nil
}

// Start runs the baseline snapshot pass, then begins watching. Returns once
// watching is live; the event loops run until the context is done.
func (e *Engine) Start(ctx context.Context) error {
	slog.Info("capture start", "root", e.root)
	e.ctx = ctx

	if err := e.baseline(); err != nil {
		return fmt.Errorf("baseline snapshot: %w", err)
	}

	if err := e.watcher.Add(e.root); err != nil {
		return fmt.Errorf("watch session root: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrWatcherClosed) {
			slog.Error("watcher stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.handleWatcherEvents(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runHeartbeat(ctx)
	}()

	return nil
}

// Stop tears the engine down. Pending debounce timers are discarded; queued
// tasks belong to the queue, not the engine.
func (e *Engine) Stop() {
	slog.Info("capture stop")
	e.scheduler.Stop()
	if err := e.watcher.Stop(); err != nil && !errors.Is(err, ErrWatcherClosed) {
		slog.Debug("watcher stop", "error", err)
	}
	e.wg.Wait()
}

// baseline enqueues a snapshot for every file currently under the root.
// This is what the collector reconciles against; enumeration order carries
// no meaning, the queue serializes everything anyway.
func (e *Engine) baseline() error {
	count := 0
	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.ignore.ShouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		e.enqueueSnapshot(path)
		count++
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("baseline enqueued", "files", count)
	return nil
}

// TextEdited is the editor-bridge entry point for a document change. The
// snapshot is debounced per document; only a window that elapses
// uninterrupted produces one.
func (e *Engine) TextEdited(absPath string) {
	if e.ignore.ShouldIgnore(absPath) {
		return
	}
	e.scheduler.Touch(absPath)
}

// Renamed is the editor-bridge entry point for an exact rename pair.
func (e *Engine) Renamed(oldAbs, newAbs string) {
	oldWire, err1 := utils.WirePath(e.root, oldAbs)
	newWire, err2 := utils.WirePath(e.root, newAbs)
	if err1 != nil || err2 != nil {
		return
	}
	e.scheduler.Cancel(oldAbs)

	e.queue.Enqueue(e.ctx, func(ctx context.Context) error {
		return e.sdk.SendRename(ctx, oldWire, newWire)
	})
}

func (e *Engine) handleWatcherEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if e.ignore.ShouldIgnore(event.Path) {
				continue
			}
			e.translate(event)

		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// translate applies the event translation rules. Stat races with fast
// deletes are absorbed with best-effort fallbacks, never surfaced.
func (e *Engine) translate(event Event) {
	switch event.Kind {
	case EventCreate:
		e.onCreate(event.Path)

	case EventWrite:
		info, err := os.Stat(event.Path)
		if err != nil || info.IsDir() {
			// a modify on something that no longer resolves to a file
			// produces no event
			return
		}
		e.enqueueSnapshot(event.Path)

	case EventRemove:
		e.scheduler.Cancel(event.Path)
		wire, err := utils.WirePath(e.root, event.Path)
		if err != nil {
			return
		}
		e.queue.Enqueue(e.ctx, func(ctx context.Context) error {
			return e.sdk.SendDelete(ctx, wire)
		})
	}
}

func (e *Engine) onCreate(absPath string) {
	wire, err := utils.WirePath(e.root, absPath)
	if err != nil {
		return
	}

	info, statErr := os.Stat(absPath)
	var isDir *bool
	if statErr == nil {
		v := info.IsDir()
		isDir = &v
	}

	// the create goes out before the content, always
	e.queue.Enqueue(e.ctx, func(ctx context.Context) error {
		return e.sdk.SendCreate(ctx, wire, isDir)
	})

	if statErr != nil {
		// raced with a delete; still try a snapshot, it no-ops if gone
		e.enqueueSnapshot(absPath)
		return
	}
	if !info.IsDir() {
		e.enqueueSnapshot(absPath)
	}
}

// snapshotNow is the debounce scheduler's fire callback.
func (e *Engine) snapshotNow(absPath string) {
	e.enqueueSnapshot(absPath)
}

// enqueueSnapshot queues a full-content snapshot of absPath. The file is
// read at delivery time, so the collector always gets the current state; a
// file that vanished by then resolves as a no-op, the matching delete event
// is already behind it in the queue.
func (e *Engine) enqueueSnapshot(absPath string) {
	wire, err := utils.WirePath(e.root, absPath)
	if err != nil {
		return
	}

	e.queue.Enqueue(e.ctx, func(ctx context.Context) error {
		data, err := os.ReadFile(absPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("read %s: %w", wire, err)
		}

		isBinary := utils.IsBinaryContent(data)
		slog.Debug("snapshot", "path", wire, "size", humanize.Bytes(uint64(len(data))), "binary", isBinary)
		return e.sdk.SendSnapshot(ctx, wire, isBinary, data)
	})
}

func (e *Engine) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts := time.Now()
			e.queue.Enqueue(e.ctx, func(ctx context.Context) error {
				return e.sdk.SendHeartbeat(ctx, ts)
			})
		}
	}
}
