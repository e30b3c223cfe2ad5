// Package client assembles one mirror session: materializer, capture
// engine, retry queue, editor bridge. The host constructs one Client per
// active workspace and disposes it on shutdown; there are no ambient
// singletons.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edulab/mirrorbox/internal/client/bridge"
	"github.com/edulab/mirrorbox/internal/client/capture"
	"github.com/edulab/mirrorbox/internal/client/materialize"
	"github.com/edulab/mirrorbox/internal/client/session"
	"github.com/edulab/mirrorbox/internal/client/taskqueue"
	"github.com/edulab/mirrorbox/internal/collectorsdk"
	"golang.org/x/sync/errgroup"
)

// Config is everything a session launch needs. Identity is opaque to the
// client; it is handed to the collector on every request.
type Config struct {
	CollectorURL string
	Identity     map[string]string
	SessionsRoot string
	Hint         string
	BridgeAddr   string
	// OpenWorkspaceFolders are editor-open directories that cleanup must
	// never delete.
	OpenWorkspaceFolders []string
}

func (c *Config) Validate() error {
	if c.CollectorURL == "" {
		return errors.New("client config: collector url missing")
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.SessionsRoot == "" {
		out.SessionsRoot = session.DefaultSessionsRoot()
	}
	if out.BridgeAddr == "" {
		out.BridgeAddr = "localhost:7938"
	}
	return &out
}

// Client is one live mirror session.
type Client struct {
	session  *session.Session
	sdk      *collectorsdk.Client
	queue    *taskqueue.Queue
	reporter *taskqueue.LogReporter
	engine   *capture.Engine
	bridge   *bridge.Server
}

// Launch materializes a fresh session root from the collector's manifest
// and builds a client around it.
func Launch(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	sdk, err := collectorsdk.New(cfg.CollectorURL, cfg.Identity)
	if err != nil {
		return nil, err
	}

	mat := materialize.New(sdk, cfg.SessionsRoot,
		materialize.WithOpenWorkspaceFolders(cfg.OpenWorkspaceFolders))
	sess, err := mat.Materialize(ctx, cfg.Hint)
	if err != nil {
		sdk.Close()
		return nil, fmt.Errorf("materialize session: %w", err)
	}

	return build(sess, sdk, cfg.BridgeAddr)
}

// Resume rediscovers the newest in-progress session under the sessions root
// by its persisted marker and rebuilds a client for it.
func Resume(cfg *Config) (*Client, error) {
	cfg = cfg.withDefaults()

	sess, err := session.DiscoverLatest(cfg.SessionsRoot)
	if err != nil {
		return nil, fmt.Errorf("discover session: %w", err)
	}

	sdk, err := collectorsdk.New(sess.Config.CollectorURL, sess.Config.Identity)
	if err != nil {
		return nil, err
	}

	return build(sess, sdk, cfg.BridgeAddr)
}

// ResumeRoot rebuilds a client for one specific session-managed directory.
func ResumeRoot(root, bridgeAddr string) (*Client, error) {
	sess, err := session.Load(root)
	if err != nil {
		return nil, err
	}

	sdk, err := collectorsdk.New(sess.Config.CollectorURL, sess.Config.Identity)
	if err != nil {
		return nil, err
	}
	if bridgeAddr == "" {
		bridgeAddr = "localhost:7938"
	}

	return build(sess, sdk, bridgeAddr)
}

func build(sess *session.Session, sdk *collectorsdk.Client, bridgeAddr string) (*Client, error) {
	reporter := taskqueue.NewLogReporter()
	queue := taskqueue.New(taskqueue.WithReporter(reporter))

	engine, err := capture.NewEngine(sess.Root, sdk, queue)
	if err != nil {
		sdk.Close()
		return nil, fmt.Errorf("create capture engine: %w", err)
	}

	c := &Client{
		session:  sess,
		sdk:      sdk,
		queue:    queue,
		reporter: reporter,
		engine:   engine,
	}
	c.bridge = bridge.New(bridgeAddr, sess.Root, engine, c)
	return c, nil
}

// Root returns the session root directory.
func (c *Client) Root() string {
	return c.session.Root
}

// QueueLen implements bridge.StatusSource.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// DeliveryFailing implements bridge.StatusSource.
func (c *Client) DeliveryFailing() bool {
	return c.reporter.Failing()
}

// Start runs the session until the context is canceled.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("mirror session start",
		"root", c.session.Root,
		"collector", c.sdk.BaseURL(),
	)

	if err := c.session.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := c.session.Unlock(); err != nil {
			slog.Warn("session unlock", "error", err)
		}
	}()

	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("start capture engine: %w", err)
	}
	defer c.engine.Stop()
	defer c.sdk.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.bridge.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err := g.Wait()
	slog.Info("mirror session stop")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
