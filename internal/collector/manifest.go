package collector

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/edulab/mirrorbox/internal/collectorsdk"
)

// BuildManifest walks a template directory and renders it as the manifest
// the client materializes from. Directories come out before their children,
// though clients must not rely on that.
func BuildManifest(templateDir string) ([]collectorsdk.ManifestEntry, error) {
	var entries []collectorsdk.ManifestEntry

	err := filepath.WalkDir(templateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == templateDir {
			return nil
		}

		rel, err := filepath.Rel(templateDir, path)
		if err != nil {
			return err
		}
		wirePath := filepath.ToSlash(rel)

		if d.IsDir() {
			entries = append(entries, collectorsdk.ManifestEntry{
				Path: wirePath,
				Kind: collectorsdk.EntryDirectory,
			})
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read template file %s: %w", rel, err)
		}
		entries = append(entries, collectorsdk.ManifestEntry{
			Path:          wirePath,
			Kind:          collectorsdk.EntryFile,
			ContentBase64: base64.StdEncoding.EncodeToString(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk template dir: %w", err)
	}

	return entries, nil
}
