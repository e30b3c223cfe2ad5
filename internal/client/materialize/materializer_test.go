package materialize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/edulab/mirrorbox/internal/client/session"
	"github.com/edulab/mirrorbox/internal/collectorsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/manifest", r.URL.Path)
		w.WriteHeader(status)
		if body != nil {
			require.NoError(t, json.NewEncoder(w).Encode(body))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newSDK(t *testing.T, url string) *collectorsdk.Client {
	t.Helper()
	sdk, err := collectorsdk.New(url, map[string]string{"owner": "teach"})
	require.NoError(t, err)
	t.Cleanup(sdk.Close)
	return sdk
}

func TestMaterialize_WritesTemplateTree(t *testing.T) {
	server := manifestServer(t, http.StatusOK, []collectorsdk.ManifestEntry{
		{Path: "a.txt", Kind: collectorsdk.EntryFile, ContentBase64: "aGk="},
		{Path: "src/main.py", Kind: collectorsdk.EntryFile, ContentBase64: "cHJpbnQoMSk="},
		{Path: "empty", Kind: collectorsdk.EntryDirectory},
	})

	sessionsRoot := t.TempDir()
	m := New(newSDK(t, server.URL), sessionsRoot)

	sess, err := m.Materialize(context.Background(), "lab")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(sess.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	// parent dirs are created implicitly even without a directory entry
	data, err = os.ReadFile(filepath.Join(sess.Root, "src", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(data))

	info, err := os.Stat(filepath.Join(sess.Root, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// the marker makes the root discoverable as session-managed
	assert.True(t, session.IsSessionRoot(sess.Root))
	loaded, err := session.Load(sess.Root)
	require.NoError(t, err)
	assert.Equal(t, server.URL, loaded.Config.CollectorURL)
	assert.Equal(t, "teach", loaded.Config.Identity["owner"])
}

func TestMaterialize_ChildrenBeforeParents(t *testing.T) {
	// the server is not trusted to order directories first
	server := manifestServer(t, http.StatusOK, []collectorsdk.ManifestEntry{
		{Path: "deep/nested/file.txt", Kind: collectorsdk.EntryFile, ContentBase64: "eA=="},
		{Path: "deep/nested", Kind: collectorsdk.EntryDirectory},
		{Path: "deep", Kind: collectorsdk.EntryDirectory},
	})

	m := New(newSDK(t, server.URL), t.TempDir())
	sess, err := m.Materialize(context.Background(), "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(sess.Root, "deep", "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestMaterialize_IdempotentAcrossInvocations(t *testing.T) {
	server := manifestServer(t, http.StatusOK, []collectorsdk.ManifestEntry{
		{Path: "a.txt", Kind: collectorsdk.EntryFile, ContentBase64: "aGk="},
	})

	sessionsRoot := t.TempDir()
	sdk := newSDK(t, server.URL)

	// keep the first root alive as an open workspace folder
	first, err := New(sdk, sessionsRoot).Materialize(context.Background(), "one")
	require.NoError(t, err)

	second, err := New(sdk, sessionsRoot,
		WithOpenWorkspaceFolders([]string{first.Root}),
	).Materialize(context.Background(), "two")
	require.NoError(t, err)

	assert.NotEqual(t, first.Root, second.Root)
	for _, root := range []string{first.Root, second.Root} {
		data, err := os.ReadFile(filepath.Join(root, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))
	}
}

func TestMaterialize_CleansStaleSessions(t *testing.T) {
	server := manifestServer(t, http.StatusOK, []collectorsdk.ManifestEntry{})
	sessionsRoot := t.TempDir()

	stale := filepath.Join(sessionsRoot, "20240101-000000-dead")
	openDir := filepath.Join(sessionsRoot, "20240101-000000-open")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.MkdirAll(openDir, 0o755))

	m := New(newSDK(t, server.URL), sessionsRoot,
		WithOpenWorkspaceFolders([]string{openDir}))
	_, err := m.Materialize(context.Background(), "")
	require.NoError(t, err)

	assert.NoDirExists(t, stale, "stale session must be collected")
	assert.DirExists(t, openDir, "open workspace folder must never be deleted")
}

func TestMaterialize_FetchError(t *testing.T) {
	server := manifestServer(t, http.StatusBadGateway, nil)

	m := New(newSDK(t, server.URL), t.TempDir())
	_, err := m.Materialize(context.Background(), "")
	assert.ErrorIs(t, err, collectorsdk.ErrManifestFetch)
}

func TestMaterialize_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not": "an array"}`))
	}))
	t.Cleanup(server.Close)

	m := New(newSDK(t, server.URL), t.TempDir())
	_, err := m.Materialize(context.Background(), "")
	assert.ErrorIs(t, err, collectorsdk.ErrManifestDecode)
}

func TestMaterialize_RejectsEscapingPaths(t *testing.T) {
	server := manifestServer(t, http.StatusOK, []collectorsdk.ManifestEntry{
		{Path: "../outside.txt", Kind: collectorsdk.EntryFile, ContentBase64: "eA=="},
	})

	m := New(newSDK(t, server.URL), t.TempDir())
	_, err := m.Materialize(context.Background(), "")
	assert.ErrorIs(t, err, collectorsdk.ErrManifestDecode)
}

func TestMaterialize_HidesMetadataDirInEditorSettings(t *testing.T) {
	server := manifestServer(t, http.StatusOK, []collectorsdk.ManifestEntry{})

	m := New(newSDK(t, server.URL), t.TempDir())
	sess, err := m.Materialize(context.Background(), "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(sess.Root, ".vscode", "settings.json"))
	require.NoError(t, err)

	var settings map[string]any
	require.NoError(t, json.Unmarshal(data, &settings))
	exclude := settings["files.exclude"].(map[string]any)
	assert.Equal(t, true, exclude[session.MetadataDir])
}

func TestMaterialize_CleanupFailureIsDiagnosticOnly(t *testing.T) {
	server := manifestServer(t, http.StatusOK, []collectorsdk.ManifestEntry{})

	var diags []error
	m := New(newSDK(t, server.URL), filepath.Join(t.TempDir(), "fresh"),
		WithDiagnosticSink(func(err error) { diags = append(diags, err) }))

	// sessions root does not exist yet: cleanup is a silent no-op and
	// materialization still succeeds
	sess, err := m.Materialize(context.Background(), "")
	require.NoError(t, err)
	assert.DirExists(t, sess.Root)
	assert.Empty(t, diags)
}
