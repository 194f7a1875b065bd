// Package server exposes folder history over HTTP: a JSON query API, a
// websocket notification stream and the prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-dev/keepsake/internal/engine"
	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/journal"
	"github.com/keepsake-dev/keepsake/internal/metrics"
	"github.com/keepsake-dev/keepsake/internal/relocate"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// Backend is the engine surface the API serves.
type Backend interface {
	Folders() ([]folder.WatchedFolder, error)
	Folder(id string) (folder.WatchedFolder, error)
	Status(id string) (engine.Status, error)
	ListCommits(ctx context.Context, id string, limit int) ([]vcs.Commit, error)
	ReadFileAt(ctx context.Context, id, ref, path string) ([]byte, error)
	Diff(ctx context.Context, id, path, oldRef, newRef string) (*vcs.DiffResult, error)
	Restore(ctx context.Context, id, path, ref string) (string, error)
	Relocate(ctx context.Context, id, location string) (*relocate.Result, error)
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on, e.g. "127.0.0.1:7465" (":0" picks a free port)
	Addr string

	Backend Backend

	// Metrics serves /metrics when set
	Metrics *metrics.Metrics

	// Journal serves /api/activity when set
	Journal *journal.Journal

	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	hub    *Hub
	logger *slog.Logger
	router *gin.Engine

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	wg       sync.WaitGroup
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// New builds the server and its routes. Nothing listens until Start.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:    cfg,
		hub:    NewHub(cfg.Logger),
		logger: cfg.Logger,
	}
	s.router = s.routes()
	return s
}

// Hub returns the notification hub; register it as an engine listener.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/ws", gin.WrapH(s.hub))
	if s.cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/folders", s.listFolders)
		api.GET("/folders/:id", s.getFolder)
		api.GET("/folders/:id/commits", s.listCommits)
		api.GET("/folders/:id/file", s.getFile)
		api.GET("/folders/:id/diff", s.getDiff)
		api.POST("/folders/:id/restore", s.restore)
		api.POST("/folders/:id/relocate", s.relocate)
		if s.cfg.Journal != nil {
			api.GET("/activity", s.activity)
		}
	}
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.http = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Stop closes websocket clients and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.wg.Wait()
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
