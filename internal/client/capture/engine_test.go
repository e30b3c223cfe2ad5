package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edulab/mirrorbox/internal/client/taskqueue"
	"github.com/edulab/mirrorbox/internal/collectorsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Endpoint string
	Body     map[string]any
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) add(endpoint string, body map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{Endpoint: endpoint, Body: body})
}

func (l *eventLog) get() []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedEvent(nil), l.events...)
}

func newTestCollector(t *testing.T) (*httptest.Server, *eventLog) {
	t.Helper()
	log := &eventLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		log.add(r.URL.Path, body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, log
}

func newTestEngine(t *testing.T, serverURL string) (*Engine, *taskqueue.Queue) {
	t.Helper()
	sdk, err := collectorsdk.New(serverURL, map[string]string{"owner": "teach", "workspace": "lab1"})
	require.NoError(t, err)
	t.Cleanup(sdk.Close)

	queue := taskqueue.New(taskqueue.WithBackoffFloor(5 * time.Millisecond))
	engine, err := NewEngine(t.TempDir(), sdk, queue,
		WithDebounce(20*time.Millisecond),
		WithHeartbeatInterval(time.Hour),
	)
	require.NoError(t, err)
	return engine, queue
}

func drainQueue(t *testing.T, q *taskqueue.Queue) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if q.Len() == 0 && q.StateNow() == taskqueue.StateIdle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue never drained: %d tasks left", q.Len())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEngine_CreateFileEmitsCreateThenSnapshot(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	path := filepath.Join(engine.root, "hello.txt")
	writeFile(t, path, "hello")

	engine.translate(Event{Kind: EventCreate, Path: path})
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 2)

	assert.Equal(t, "/event/create", events[0].Endpoint)
	assert.Equal(t, "hello.txt", events[0].Body["path"])
	assert.Equal(t, false, events[0].Body["isDirectory"])
	// identity rides along in the body
	assert.Equal(t, "teach", events[0].Body["owner"])
	assert.Equal(t, "lab1", events[0].Body["workspace"])

	assert.Equal(t, "/event/fileSnapshot", events[1].Endpoint)
	assert.Equal(t, "hello.txt", events[1].Body["path"])
	assert.Equal(t, false, events[1].Body["isBinary"])
	content, err := base64.StdEncoding.DecodeString(events[1].Body["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestEngine_CreateDirectoryEmitsCreateOnly(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	dir := filepath.Join(engine.root, "src")
	require.NoError(t, os.Mkdir(dir, 0o755))

	engine.translate(Event{Kind: EventCreate, Path: dir})
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 1)
	assert.Equal(t, "/event/create", events[0].Endpoint)
	assert.Equal(t, "src", events[0].Body["path"])
	assert.Equal(t, true, events[0].Body["isDirectory"])
}

func TestEngine_CreateStatRaceStillAnnounces(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	// path never existed: the stat fails, the create still goes out
	// without a directory flag, and the snapshot no-ops
	gone := filepath.Join(engine.root, "flash.txt")
	engine.translate(Event{Kind: EventCreate, Path: gone})
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 1)
	assert.Equal(t, "/event/create", events[0].Endpoint)
	assert.Equal(t, "flash.txt", events[0].Body["path"])
	assert.NotContains(t, events[0].Body, "isDirectory")
}

func TestEngine_WriteOnFileEmitsSnapshot(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	path := filepath.Join(engine.root, "a.txt")
	writeFile(t, path, "v2")

	engine.translate(Event{Kind: EventWrite, Path: path})
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 1)
	assert.Equal(t, "/event/fileSnapshot", events[0].Endpoint)
}

func TestEngine_WriteOnMissingPathIsSilent(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	engine.translate(Event{Kind: EventWrite, Path: filepath.Join(engine.root, "missing.txt")})
	drainQueue(t, queue)

	assert.Empty(t, log.get())
}

func TestEngine_RemoveEmitsDeleteUnconditionally(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	engine.translate(Event{Kind: EventRemove, Path: filepath.Join(engine.root, "dead.txt")})
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 1)
	assert.Equal(t, "/event/delete", events[0].Endpoint)
	assert.Equal(t, "dead.txt", events[0].Body["path"])
}

func TestEngine_RenamedPairEmitsSingleRename(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	engine.Renamed(
		filepath.Join(engine.root, "old", "name.txt"),
		filepath.Join(engine.root, "new", "name.txt"),
	)
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 1)
	assert.Equal(t, "/event/rename", events[0].Endpoint)
	assert.Equal(t, "old/name.txt", events[0].Body["oldPath"])
	assert.Equal(t, "new/name.txt", events[0].Body["newPath"])
}

func TestEngine_TextEditsDebounceToOneSnapshot(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	path := filepath.Join(engine.root, "notes.md")
	writeFile(t, path, "hi")

	for i := 0; i < 5; i++ {
		engine.TextEdited(path)
		time.Sleep(3 * time.Millisecond)
	}
	// edited to its final state within the window
	writeFile(t, path, "hi!")
	engine.TextEdited(path)

	time.Sleep(60 * time.Millisecond)
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 1)
	assert.Equal(t, "/event/fileSnapshot", events[0].Endpoint)
	content, err := base64.StdEncoding.DecodeString(events[0].Body["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, "hi!", string(content))
}

func TestEngine_EditsOutsideRootIgnored(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	engine.TextEdited(filepath.Join(t.TempDir(), "elsewhere.txt"))
	engine.TextEdited(filepath.Join(engine.root, ".mirrorbox", "session.json"))

	time.Sleep(60 * time.Millisecond)
	drainQueue(t, queue)
	assert.Empty(t, log.get())
}

func TestEngine_BaselineSnapshotsEveryFile(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	writeFile(t, filepath.Join(engine.root, "a.txt"), "a")
	writeFile(t, filepath.Join(engine.root, "src", "b.go"), "package b")
	writeFile(t, filepath.Join(engine.root, ".mirrorbox", "session.json"), "{}")

	require.NoError(t, engine.baseline())
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 2, "marker dir must not be announced")

	var paths []string
	for _, ev := range events {
		assert.Equal(t, "/event/fileSnapshot", ev.Endpoint)
		paths = append(paths, ev.Body["path"].(string))
	}
	assert.ElementsMatch(t, []string{"a.txt", "src/b.go"}, paths)
}

func TestEngine_HeartbeatTicks(t *testing.T) {
	server, log := newTestCollector(t)

	sdk, err := collectorsdk.New(server.URL, map[string]string{"owner": "teach"})
	require.NoError(t, err)
	t.Cleanup(sdk.Close)

	queue := taskqueue.New(taskqueue.WithBackoffFloor(5 * time.Millisecond))
	engine, err := NewEngine(t.TempDir(), sdk, queue,
		WithHeartbeatInterval(15*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))

	var beats []recordedEvent
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		beats = beats[:0]
		for _, ev := range log.get() {
			if ev.Endpoint == "/event/heartbeat" {
				beats = append(beats, ev)
			}
		}
		if len(beats) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	engine.Stop()

	require.GreaterOrEqual(t, len(beats), 2, "ticker must keep firing")
	assert.Equal(t, "teach", beats[0].Body["owner"])
	assert.NotZero(t, beats[0].Body["ts"])
}

func TestEngine_BinarySnapshotFlagged(t *testing.T) {
	server, log := newTestCollector(t)
	engine, queue := newTestEngine(t, server.URL)

	raw := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0xff}
	path := filepath.Join(engine.root, "img.png")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	engine.enqueueSnapshot(path)
	drainQueue(t, queue)

	events := log.get()
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Body["isBinary"])
	content, err := base64.StdEncoding.DecodeString(events[0].Body["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, raw, content)
}
