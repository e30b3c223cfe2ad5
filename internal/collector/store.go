package collector

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	path        TEXT NOT NULL DEFAULT '',
	old_path    TEXT NOT NULL DEFAULT '',
	new_path    TEXT NOT NULL DEFAULT '',
	is_directory INTEGER,
	is_binary   INTEGER NOT NULL DEFAULT 0,
	content     TEXT NOT NULL DEFAULT '',
	ts          INTEGER NOT NULL DEFAULT 0,
	identity    TEXT NOT NULL DEFAULT '{}',
	received_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_kind_path ON events(kind, path);
`

// StoredEvent is one received sync event, in arrival order. Arrival order
// is the whole point: the client guarantees per-session total order, so id
// order reconstructs the workspace timeline.
type StoredEvent struct {
	ID          int64  `db:"id"`
	Kind        string `db:"kind"`
	Path        string `db:"path"`
	OldPath     string `db:"old_path"`
	NewPath     string `db:"new_path"`
	IsDirectory *bool  `db:"is_directory"`
	IsBinary    bool   `db:"is_binary"`
	Content     string `db:"content"`
	Ts          int64  `db:"ts"`
	Identity    string `db:"identity"`
	ReceivedAt  int64  `db:"received_at"`
}

// Store is the collector's append-only event log.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(eventsSchema); err != nil {
		return nil, fmt.Errorf("create events schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Insert(event *StoredEvent) error {
	if event.ReceivedAt == 0 {
		event.ReceivedAt = time.Now().UnixMilli()
	}
	res, err := s.db.NamedExec(`
		INSERT INTO events (kind, path, old_path, new_path, is_directory, is_binary, content, ts, identity, received_at)
		VALUES (:kind, :path, :old_path, :new_path, :is_directory, :is_binary, :content, :ts, :identity, :received_at)`,
		event,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	event.ID, _ = res.LastInsertId()
	return nil
}

// Get returns one event by id, or sql.ErrNoRows.
func (s *Store) Get(id int64) (*StoredEvent, error) {
	var event StoredEvent
	if err := s.db.Get(&event, `SELECT * FROM events WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return &event, nil
}

// List returns events in arrival order, optionally filtered by kind.
func (s *Store) List(kind string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 500
	}

	var events []StoredEvent
	var err error
	if kind == "" {
		err = s.db.Select(&events, `SELECT * FROM events ORDER BY id ASC LIMIT ?`, limit)
	} else {
		err = s.db.Select(&events, `SELECT * FROM events WHERE kind = ? ORDER BY id ASC LIMIT ?`, kind, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *Store) Count() (int64, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM events`); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
