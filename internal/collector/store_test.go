package collector

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/edulab/mirrorbox/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.NewSqliteDb(db.WithPath(filepath.Join(t.TempDir(), "events.db")))
	require.NoError(t, err)

	store, err := NewStore(conn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertAssignsOrder(t *testing.T) {
	store := newTestStore(t)

	first := &StoredEvent{Kind: "create", Path: "a.txt"}
	second := &StoredEvent{Kind: "fileSnapshot", Path: "a.txt", Content: "aGk="}
	require.NoError(t, store.Insert(first))
	require.NoError(t, store.Insert(second))

	assert.Less(t, first.ID, second.ID)
	assert.NotZero(t, first.ReceivedAt)

	count, err := store.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestStore_ListArrivalOrder(t *testing.T) {
	store := newTestStore(t)

	for _, kind := range []string{"create", "fileSnapshot", "delete", "fileSnapshot"} {
		require.NoError(t, store.Insert(&StoredEvent{Kind: kind, Path: "x"}))
	}

	events, err := store.List("", 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "create", events[0].Kind)
	assert.Equal(t, "delete", events[2].Kind)

	snapshots, err := store.List("fileSnapshot", 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Less(t, snapshots[0].ID, snapshots[1].ID)
}

func TestStore_Get(t *testing.T) {
	store := newTestStore(t)

	event := &StoredEvent{Kind: "fileSnapshot", Path: "a.txt", Content: "aGk="}
	require.NoError(t, store.Insert(event))

	got, err := store.Get(event.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Path)
	assert.Equal(t, "aGk=", got.Content)

	_, err = store.Get(event.ID + 1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStore_ListHonorsLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(&StoredEvent{Kind: "heartbeat"}))
	}

	events, err := store.List("", 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestStore_NullableDirectoryFlag(t *testing.T) {
	store := newTestStore(t)

	isDir := true
	require.NoError(t, store.Insert(&StoredEvent{Kind: "create", Path: "src", IsDirectory: &isDir}))
	require.NoError(t, store.Insert(&StoredEvent{Kind: "create", Path: "gone.txt"}))

	events, err := store.List("create", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NotNil(t, events[0].IsDirectory)
	assert.True(t, *events[0].IsDirectory)
	assert.Nil(t, events[1].IsDirectory)
}
