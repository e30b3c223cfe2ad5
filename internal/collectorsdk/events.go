package collectorsdk

import (
	"context"
	"encoding/base64"
	"time"
)

const (
	eventSnapshot  = "/event/fileSnapshot"
	eventCreate    = "/event/create"
	eventDelete    = "/event/delete"
	eventRename    = "/event/rename"
	eventHeartbeat = "/event/heartbeat"
)

// SendSnapshot posts the full current content of one file. The payload is
// base64 either way; isBinary only tells the collector how to re-decode it
// for storage and display.
func (c *Client) SendSnapshot(ctx context.Context, path string, isBinary bool, content []byte) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.body(map[string]any{
			"path":     path,
			"isBinary": isBinary,
			"content":  base64.StdEncoding.EncodeToString(content),
		})).
		Post(eventSnapshot)
	return checkDelivery(resp, err, "fileSnapshot")
}

// SendCreate announces a new file or directory. isDirectory is nil when the
// path vanished before it could be stat'd; the collector gets the create
// without a directory flag.
func (c *Client) SendCreate(ctx context.Context, path string, isDirectory *bool) error {
	fields := map[string]any{"path": path}
	if isDirectory != nil {
		fields["isDirectory"] = *isDirectory
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.body(fields)).
		Post(eventCreate)
	return checkDelivery(resp, err, "create")
}

// SendDelete announces a removed path.
func (c *Client) SendDelete(ctx context.Context, path string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.body(map[string]any{"path": path})).
		Post(eventDelete)
	return checkDelivery(resp, err, "delete")
}

// SendRename announces a renamed or moved path.
func (c *Client) SendRename(ctx context.Context, oldPath, newPath string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.body(map[string]any{
			"oldPath": oldPath,
			"newPath": newPath,
		})).
		Post(eventRename)
	return checkDelivery(resp, err, "rename")
}

// SendHeartbeat tells the collector the session is idle but connected.
func (c *Client) SendHeartbeat(ctx context.Context, ts time.Time) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.body(map[string]any{"ts": ts.UTC().UnixMilli()})).
		Post(eventHeartbeat)
	return checkDelivery(resp, err, "heartbeat")
}
