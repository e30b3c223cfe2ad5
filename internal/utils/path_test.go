package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWirePath(t *testing.T) {
	root := filepath.FromSlash("/ws/session")

	tests := []struct {
		name    string
		abs     string
		want    string
		wantErr bool
	}{
		{"direct child", "/ws/session/a.txt", "a.txt", false},
		{"nested", "/ws/session/src/app/util.go", "src/app/util.go", false},
		{"the root itself", "/ws/session", ".", false},
		{"sibling escapes", "/ws/other/file.txt", "", true},
		{"parent escapes", "/ws", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WirePath(root, filepath.FromSlash(tt.abs))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalPath(t *testing.T) {
	root := filepath.FromSlash("/ws/session")

	got, err := LocalPath(root, "src/app/util.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/ws/session/src/app/util.go"), got)

	_, err = LocalPath(root, "../outside.txt")
	assert.Error(t, err)

	_, err = LocalPath(root, "a/../../outside.txt")
	assert.Error(t, err)

	_, err = LocalPath(root, filepath.FromSlash("/abs/path.txt"))
	assert.Error(t, err)
}

func TestWirePathRoundTrip(t *testing.T) {
	root := filepath.FromSlash("/ws/session")
	abs := filepath.FromSlash("/ws/session/src/main.py")

	wire, err := WirePath(root, abs)
	require.NoError(t, err)
	assert.Equal(t, "src/main.py", wire)

	back, err := LocalPath(root, wire)
	require.NoError(t, err)
	assert.Equal(t, abs, back)
}
