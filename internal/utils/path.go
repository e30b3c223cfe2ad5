package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	// Expand `~` to the user's home directory
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// Resolve relative paths (.., .) and return an absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(path string) error {
	dir := filepath.Dir(path)
	return EnsureDir(dir)
}

func EnsureDir(path string) error {
	// already exists
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// WirePath converts an absolute path under root into the root-relative,
// forward-slash form used on the wire, independent of the host separator.
func WirePath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes root")
	}
	return filepath.ToSlash(rel), nil
}

// LocalPath resolves a wire path (root-relative, forward slashes) back to an
// absolute path under root, rejecting anything that escapes it.
func LocalPath(root, wirePath string) (string, error) {
	if filepath.IsAbs(wirePath) {
		return "", errors.New("wire path must be relative")
	}
	joined := filepath.Join(root, filepath.FromSlash(wirePath))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", errors.New("wire path escapes root")
	}
	return joined, nil
}
