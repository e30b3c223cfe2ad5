// Package session owns the on-disk shape of a mirror session: the session
// root directory, the persisted marker that makes a directory recognizable
// as session-managed across process restarts, and the exclusive lock that
// keeps two engines from mirroring the same root.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edulab/mirrorbox/internal/utils"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// MetadataDir is the reserved subpath inside a session root. Everything
	// the client writes for itself lives under it, and the capture engine
	// must never announce writes below it.
	MetadataDir = ".mirrorbox"

	markerFile = "session.json"
	lockFile   = "session.lock"
)

var (
	ErrNotASession   = errors.New("directory has no session marker")
	ErrSessionLocked = errors.New("session locked by another process")
)

// Config is the immutable identity of one session: where the collector
// lives and who this workspace belongs to. It is created at materialization
// time and read-only thereafter.
type Config struct {
	CollectorURL string            `json:"collector_url"`
	Identity     map[string]string `json:"identity"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (c *Config) Validate() error {
	if c.CollectorURL == "" {
		return errors.New("session config: collector url missing")
	}
	return nil
}

// Session is one materialized session root plus its persisted config.
type Session struct {
	Root   string
	Config *Config

	flock *flock.Flock
}

// New wraps an existing directory as a session without touching disk.
// Save must be called before the marker is discoverable.
func New(root string, cfg *Config) (*Session, error) {
	absRoot, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve session root: %w", err)
	}
	return &Session{
		Root:   absRoot,
		Config: cfg,
		flock:  flock.New(filepath.Join(absRoot, MetadataDir, lockFile)),
	}, nil
}

// Save persists the session marker under the reserved subpath. Its presence
// is the sole signal that the directory is session-managed.
func (s *Session) Save() error {
	markerPath := filepath.Join(s.Root, MetadataDir, markerFile)
	if err := utils.EnsureParent(markerPath); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	data, err := json.MarshalIndent(s.Config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session marker: %w", err)
	}

	return os.WriteFile(markerPath, data, 0o644)
}

// Lock takes the exclusive session lock so that no other mirrorbox process
// can capture this root.
func (s *Session) Lock() error {
	if err := utils.EnsureDir(filepath.Join(s.Root, MetadataDir)); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	locked, err := s.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	if !locked {
		return ErrSessionLocked
	}
	return nil
}

func (s *Session) Unlock() error {
	if !s.flock.Locked() {
		return nil
	}
	if err := s.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock session: %w", err)
	}
	return nil
}

// Load reads the session marker under root, or ErrNotASession when the
// directory is not session-managed.
func Load(root string) (*Session, error) {
	absRoot, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}

	markerPath := filepath.Join(absRoot, MetadataDir, markerFile)
	data, err := os.ReadFile(markerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotASession
		}
		return nil, fmt.Errorf("read session marker: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode session marker: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return New(absRoot, &cfg)
}

// IsSessionRoot reports whether dir carries a session marker.
func IsSessionRoot(dir string) bool {
	return utils.FileExists(filepath.Join(dir, MetadataDir, markerFile))
}

// AllocateRoot picks a fresh, collision-free directory name under the
// sessions root: timestamp, random suffix and a human-readable hint. The
// directory is not created; the materializer does that.
func AllocateRoot(sessionsRoot, hint string) string {
	name := fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	if hint = sanitizeHint(hint); hint != "" {
		name = name + "-" + hint
	}
	return filepath.Join(sessionsRoot, name)
}

// DiscoverLatest finds the most recently created session root under the
// sessions root, for resuming after a process restart.
func DiscoverLatest(sessionsRoot string) (*Session, error) {
	entries, err := os.ReadDir(sessionsRoot)
	if err != nil {
		return nil, fmt.Errorf("read sessions root: %w", err)
	}

	var latest *Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(sessionsRoot, entry.Name())
		if !IsSessionRoot(dir) {
			continue
		}
		sess, err := Load(dir)
		if err != nil {
			continue
		}
		if latest == nil || sess.Config.CreatedAt.After(latest.Config.CreatedAt) {
			latest = sess
		}
	}

	if latest == nil {
		return nil, ErrNotASession
	}
	return latest, nil
}

// DefaultSessionsRoot is the well-known directory session roots live under.
func DefaultSessionsRoot() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mirrorbox", "sessions")
}

func sanitizeHint(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	var b strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	const maxHint = 32
	out := b.String()
	if len(out) > maxHint {
		out = out[:maxHint]
	}
	return out
}
