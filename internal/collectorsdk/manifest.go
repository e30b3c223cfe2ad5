package collectorsdk

import (
	"context"
	"encoding/base64"
	"fmt"
)

const manifestPath = "/manifest"

// EntryKind is the node type of one manifest entry.
type EntryKind string

const (
	EntryFile      EntryKind = "file"
	EntryDirectory EntryKind = "directory"
)

// ManifestEntry is one node of the remote template tree.
type ManifestEntry struct {
	Path          string    `json:"path"`
	Kind          EntryKind `json:"type"`
	ContentBase64 string    `json:"contentBase64,omitempty"`
}

// Content decodes the base64 payload of a file entry.
func (e *ManifestEntry) Content() ([]byte, error) {
	if e.Kind != EntryFile {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(e.ContentBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %q: %v", ErrManifestDecode, e.Path, err)
	}
	return data, nil
}

// GetManifest fetches the workspace template from the collector. Identity
// fields go out as query parameters. The server is not trusted to order
// directories before their children; callers must create parents implicitly.
func (c *Client) GetManifest(ctx context.Context) ([]ManifestEntry, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.identity).
		Get(manifestPath)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestFetch, err)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("%w: collector returned %d", ErrManifestFetch, resp.StatusCode)
	}

	raw, err := resp.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestFetch, err)
	}

	var entries []ManifestEntry
	if err := jsonUnmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestDecode, err)
	}

	for _, e := range entries {
		if e.Path == "" {
			return nil, fmt.Errorf("%w: entry with empty path", ErrManifestDecode)
		}
		if e.Kind != EntryFile && e.Kind != EntryDirectory {
			return nil, fmt.Errorf("%w: entry %q has unknown type %q", ErrManifestDecode, e.Path, e.Kind)
		}
	}

	return entries, nil
}
