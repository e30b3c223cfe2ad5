// Package collector is the reference implementation of the collector HTTP
// contract: it serves a manifest built from a template directory and
// appends every received sync event to a sqlite log. Development and
// integration tests run against it.
package collector

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/edulab/mirrorbox/internal/utils"
	"github.com/edulab/mirrorbox/internal/version"
)

const shutdownTimeout = 5 * time.Second

// knownEventFields are body keys that belong to the event itself; anything
// else in a POST body is session identity and stored as-is.
var knownEventFields = map[string]bool{
	"path":        true,
	"oldPath":     true,
	"newPath":     true,
	"isDirectory": true,
	"isBinary":    true,
	"content":     true,
	"ts":          true,
}

type Server struct {
	addr        string
	templateDir string
	store       *Store

	engine *gin.Engine
	server *http.Server
}

func NewServer(addr, templateDir string, store *Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	engine.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.BestSpeed))
	engine.Use(cors.Default())

	s := &Server{
		addr:        addr,
		templateDir: templateDir,
		store:       store,
		engine:      engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, version.DetailedWithApp())
	})
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.GET("/manifest", s.handleManifest)

	s.engine.POST("/event/fileSnapshot", s.eventHandler("fileSnapshot"))
	s.engine.POST("/event/create", s.eventHandler("create"))
	s.engine.POST("/event/delete", s.eventHandler("delete"))
	s.engine.POST("/event/rename", s.eventHandler("rename"))
	s.engine.POST("/event/heartbeat", s.eventHandler("heartbeat"))

	// teacher-side inspection
	s.engine.GET("/events", s.handleListEvents)
	s.engine.GET("/events/:id/content", s.handleEventContent)
}

func (s *Server) handleManifest(c *gin.Context) {
	entries, err := BuildManifest(s.templateDir)
	if err != nil {
		slog.Error("build manifest", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "manifest unavailable"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) eventHandler(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		event := &StoredEvent{
			Kind:     kind,
			Path:     stringField(body, "path"),
			OldPath:  stringField(body, "oldPath"),
			NewPath:  stringField(body, "newPath"),
			IsBinary: boolField(body, "isBinary"),
			Content:  stringField(body, "content"),
			Ts:       intField(body, "ts"),
			Identity: identityJSON(body),
		}
		if v, ok := body["isDirectory"].(bool); ok {
			event.IsDirectory = &v
		}

		if err := s.store.Insert(event); err != nil {
			slog.Error("store event", "kind", kind, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": event.ID})
	}
}

func (s *Server) handleListEvents(c *gin.Context) {
	events, err := s.store.List(c.Query("kind"), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// handleEventContent serves a stored snapshot's payload decoded, with a
// content type derived from the recorded path, so a browser can preview the
// file a student sent.
func (s *Server) handleEventContent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad event id"})
		return
	}

	event, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such event"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(event.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored content is not base64"})
		return
	}

	c.Data(http.StatusOK, utils.DetectContentType(event.Path), data)
}

// Start serves until the context is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("collector listening", "addr", listener.Addr().String(), "template", s.templateDir)

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

func stringField(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}

func boolField(body map[string]any, key string) bool {
	v, _ := body[key].(bool)
	return v
}

func intField(body map[string]any, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func identityJSON(body map[string]any) string {
	identity := map[string]any{}
	for k, v := range body {
		if !knownEventFields[k] {
			identity[k] = v
		}
	}
	data, err := jsonMarshal(identity)
	if err != nil {
		return "{}"
	}
	return string(data)
}
