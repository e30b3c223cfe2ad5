// Package collectorsdk is the HTTP client for the collector service. It owns
// every request the client makes: the one-time manifest fetch and the steady
// stream of sync events.
package collectorsdk

import (
	"time"

	"github.com/edulab/mirrorbox/internal/version"
	"github.com/imroc/req/v3"
)

const (
	HeaderUserAgent     = "User-Agent"
	HeaderMirrorVersion = "X-Mirrorbox-Version"
	requestTimeout      = 30 * time.Second
)

// Client talks to one collector on behalf of one session. The identity
// fields ride along on every request - as query params for GETs and merged
// into the JSON body for POSTs.
type Client struct {
	http     *req.Client
	baseURL  string
	identity map[string]string
}

// New creates a collector client for the given base URL and session identity.
func New(baseURL string, identity map[string]string) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoCollectorURL
	}

	http := req.C().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetCommonHeader(HeaderUserAgent, "MirrorBox/"+version.Version).
		SetCommonHeader(HeaderMirrorVersion, version.Version).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Client{
		http:     http,
		baseURL:  baseURL,
		identity: identity,
	}, nil
}

// BaseURL returns the collector base URL this client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Identity returns the session identity fields attached to every request.
func (c *Client) Identity() map[string]string {
	return c.identity
}

// Close releases the underlying transport.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// body returns a JSON body with the identity fields merged into the given
// event fields. Event fields win on key collision.
func (c *Client) body(fields map[string]any) map[string]any {
	merged := make(map[string]any, len(c.identity)+len(fields))
	for k, v := range c.identity {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
