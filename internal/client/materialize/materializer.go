// Package materialize seeds a fresh session root from the collector's
// manifest. It runs once per session start: garbage-collect stale session
// roots, allocate a new one, write the template tree into it and persist
// the session marker.
package materialize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edulab/mirrorbox/internal/client/session"
	"github.com/edulab/mirrorbox/internal/collectorsdk"
	"github.com/edulab/mirrorbox/internal/utils"
)

const editorSettingsFile = ".vscode/settings.json"

// Materializer fetches the remote template and writes it to a new session
// root. Fatal problems (manifest fetch/decode) come back as the error
// return; everything best-effort goes to the diagnostic sink instead.
type Materializer struct {
	sdk          *collectorsdk.Client
	sessionsRoot string
	openRoots    map[string]bool
	onDiagnostic func(error)
}

type Option func(*Materializer)

// WithOpenWorkspaceFolders names directories that are currently open in the
// editor. Cleanup never touches them, even when they live under the
// sessions root - never delete state the user is looking at.
func WithOpenWorkspaceFolders(dirs []string) Option {
	return func(m *Materializer) {
		for _, dir := range dirs {
			if abs, err := utils.ResolvePath(dir); err == nil {
				m.openRoots[abs] = true
			}
		}
	}
}

// WithDiagnosticSink redirects non-fatal problems (cleanup failures, editor
// settings failures) away from the log, mainly for tests.
func WithDiagnosticSink(sink func(error)) Option {
	return func(m *Materializer) {
		m.onDiagnostic = sink
	}
}

func New(sdk *collectorsdk.Client, sessionsRoot string, opts ...Option) *Materializer {
	m := &Materializer{
		sdk:          sdk,
		sessionsRoot: sessionsRoot,
		openRoots:    make(map[string]bool),
		onDiagnostic: func(err error) {
			slog.Warn("materialize cleanup", "error", err)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize fetches the manifest and builds a fresh session root for it,
// with the session marker persisted inside. Two invocations with the same
// manifest produce two independent roots with identical contents.
func (m *Materializer) Materialize(ctx context.Context, hint string) (*session.Session, error) {
	entries, err := m.sdk.GetManifest(ctx)
	if err != nil {
		return nil, err
	}

	// best-effort, before allocation so a new root is never collected
	m.cleanupStale()

	root := session.AllocateRoot(m.sessionsRoot, hint)
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}

	for i := range entries {
		if err := m.writeEntry(root, &entries[i]); err != nil {
			return nil, err
		}
	}

	sess, err := session.New(root, &session.Config{
		CollectorURL: m.sdk.BaseURL(),
		Identity:     m.sdk.Identity(),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Save(); err != nil {
		return nil, fmt.Errorf("persist session marker: %w", err)
	}

	m.hideMetadataDir(root)

	slog.Info("session materialized", "root", root, "entries", len(entries))
	return sess, nil
}

// cleanupStale removes previous sessions' directories under the sessions
// root. One failed child never aborts the others or the materialization.
func (m *Materializer) cleanupStale() {
	children, err := os.ReadDir(m.sessionsRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			m.onDiagnostic(fmt.Errorf("read sessions root: %w", err))
		}
		return
	}

	for _, child := range children {
		dir := filepath.Join(m.sessionsRoot, child.Name())
		if m.openRoots[dir] {
			slog.Debug("cleanup skipping open workspace", "dir", dir)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.onDiagnostic(fmt.Errorf("remove stale session %s: %w", dir, err))
		}
	}
}

// writeEntry materializes one manifest node. Parent directories are always
// created implicitly - the server is not trusted to order entries.
func (m *Materializer) writeEntry(root string, entry *collectorsdk.ManifestEntry) error {
	localPath, err := utils.LocalPath(root, entry.Path)
	if err != nil {
		return fmt.Errorf("%w: entry %q: %v", collectorsdk.ErrManifestDecode, entry.Path, err)
	}

	if entry.Kind == collectorsdk.EntryDirectory {
		return utils.EnsureDir(localPath)
	}

	content, err := entry.Content()
	if err != nil {
		return err
	}
	if err := utils.EnsureParent(localPath); err != nil {
		return fmt.Errorf("create parent for %q: %w", entry.Path, err)
	}
	return os.WriteFile(localPath, content, 0o644)
}

// hideMetadataDir marks the reserved subpath hidden in the editor settings
// colocated with the marker. Strictly best-effort.
func (m *Materializer) hideMetadataDir(root string) {
	settingsPath := filepath.Join(root, filepath.FromSlash(editorSettingsFile))

	settings := map[string]any{}
	if data, err := os.ReadFile(settingsPath); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			m.onDiagnostic(fmt.Errorf("parse editor settings: %w", err))
			return
		}
	}

	exclude, _ := settings["files.exclude"].(map[string]any)
	if exclude == nil {
		exclude = map[string]any{}
	}
	exclude[session.MetadataDir] = true
	settings["files.exclude"] = exclude

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		m.onDiagnostic(fmt.Errorf("encode editor settings: %w", err))
		return
	}
	if err := utils.EnsureParent(settingsPath); err != nil {
		m.onDiagnostic(fmt.Errorf("create editor settings dir: %w", err))
		return
	}
	if err := os.WriteFile(settingsPath, data, 0o644); err != nil {
		m.onDiagnostic(fmt.Errorf("write editor settings: %w", err))
	}
}
