// Package bridge is the localhost HTTP surface the editor plugin talks to.
// The editor reports text changes and exact rename pairs here; the capture
// engine consumes them alongside its own file-system events.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

const shutdownTimeout = 5 * time.Second

// CaptureSink is what the bridge feeds. Implemented by the capture engine.
type CaptureSink interface {
	TextEdited(absPath string)
	Renamed(oldAbs, newAbs string)
}

// StatusSource answers the editor's status poll.
type StatusSource interface {
	QueueLen() int
	DeliveryFailing() bool
}

// Server is the editor bridge. It only ever binds loopback.
type Server struct {
	addr   string
	root   string
	sink   CaptureSink
	status StatusSource

	engine *gin.Engine
	server *http.Server
}

func New(addr, sessionRoot string, sink CaptureSink, status StatusSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	httpLogger := slog.Default().WithGroup("bridge")
	engine.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{
		addr:   addr,
		root:   sessionRoot,
		sink:   sink,
		status: status,
		engine: engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/v1")
	v1.POST("/edit", s.handleEdit)
	v1.POST("/rename", s.handleRename)
	v1.GET("/status", s.handleStatus)
}

type editRequest struct {
	// Path is relative to the session root, forward slashes.
	Path string `json:"path" binding:"required"`
	// Scheme is the document's storage scheme; anything non-local is
	// ignored (unsaved previews, virtual documents).
	Scheme string `json:"scheme"`
}

func (s *Server) handleEdit(c *gin.Context) {
	var body editRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Scheme != "" && body.Scheme != "file" {
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	s.sink.TextEdited(filepath.Join(s.root, filepath.FromSlash(body.Path)))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type renameRequest struct {
	OldPath string `json:"oldPath" binding:"required"`
	NewPath string `json:"newPath" binding:"required"`
}

func (s *Server) handleRename(c *gin.Context) {
	var body renameRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.sink.Renamed(
		filepath.Join(s.root, filepath.FromSlash(body.OldPath)),
		filepath.Join(s.root, filepath.FromSlash(body.NewPath)),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queued":  s.status.QueueLen(),
		"failing": s.status.DeliveryFailing(),
	})
}

// Start serves until the context is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("editor bridge listening", "addr", listener.Addr().String())

	s.server = &http.Server{Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the gin engine, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
