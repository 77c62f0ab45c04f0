// Package server implements the restartable HTTP origin server. It serves the
// built output tree and appends the reload client script to every HTML
// response. Instances are cheap: the orchestrator shuts one down and starts a
// fresh one on the same address after every successful rebuild.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/kiln/internal/config"
	"github.com/conneroisu/kiln/internal/errors"
	"github.com/conneroisu/kiln/internal/logging"
	"github.com/conneroisu/kiln/internal/reload"
)

const (
	// The previous instance may hold the port for a moment during a
	// restart, so binding retries briefly before giving up.
	bindAttempts = 10
	bindBackoff  = 100 * time.Millisecond
)

const notFoundFallback = "<p>404: page not found</p>"

// Server serves the output tree over plain HTTP. At most one instance is
// accepting connections in steady state; Start and Shutdown guard the
// lifecycle with a mutex so the orchestrator and in-flight handlers never
// observe a half-replaced instance.
type Server struct {
	addr         string
	outputDir    string
	indexPage    string
	notFoundPage string
	reloadScript string
	logger       logging.Logger

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// New creates a Server from the compiled-in configuration. The reload script
// injected into HTML responses points browsers at the reload hub's address,
// which is independent of this server's lifecycle.
func New(cfg *config.Config, logger logging.Logger) *Server {
	reloadAddr := fmt.Sprintf("%s:%d", cfg.Reload.Host, cfg.Reload.Port)

	return &Server{
		addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		outputDir:    cfg.Site.OutputDir,
		indexPage:    cfg.Site.IndexPage,
		notFoundPage: cfg.Site.NotFoundPage,
		reloadScript: reload.ClientScript(reloadAddr),
		logger:       logger.WithComponent("server"),
	}
}

// Start binds the listener and begins serving on a background goroutine. It
// returns once the listener is bound, so callers know the address is live.
// Bind failures are retried with backoff in case the previous instance has
// not released the port yet.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.NewInternalError("server_running", "server already started", nil).
			WithComponent("server")
	}

	listener, err := s.bind()
	if err != nil {
		return err
	}

	httpServer := &http.Server{Handler: s}

	s.listener = listener
	s.httpServer = httpServer

	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			// Fatal to this instance only; the orchestrator decides
			// whether to start another one.
			s.logger.Error(context.Background(), serveErr, "http server stopped unexpectedly")
		}
	}()

	return nil
}

func (s *Server) bind() (net.Listener, error) {
	var lastErr error

	for attempt := 0; attempt < bindAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(bindBackoff)
		}

		listener, err := net.Listen("tcp", s.addr)
		if err == nil {
			return listener, nil
		}
		lastErr = err
	}

	return nil, errors.NewNetworkError("server_bind", "binding listen address", lastErr).
		WithComponent("server")
}

// Shutdown stops accepting connections and waits for in-flight requests up to
// the context deadline, then closes the listener outright. After Shutdown the
// server can be started again with a fresh instance. Long-lived reload
// connections live on the hub's own listener and are unaffected.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		return httpServer.Close()
	}

	return nil
}

// Addr returns the bound listen address, or the configured address when the
// server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ServeHTTP resolves the request path against the output tree. The root path
// maps to the index document, anything else maps to output + path, and a
// missing file yields the not-found document with a 404 status.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.serveNotFound(w)
		return
	}

	rel := s.resolve(r.URL.Path)
	if rel == "" {
		s.serveNotFound(w)
		return
	}

	path := filepath.Join(s.outputDir, rel)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.serveNotFound(w)
		return
	}

	body, err := os.ReadFile(path)
	if err != nil {
		s.serveNotFound(w)
		return
	}

	w.WriteHeader(http.StatusOK)
	s.writeBody(w, path, body)
}

// resolve maps a request path to a path relative to the output directory, or
// "" when the path escapes it.
func (s *Server) resolve(requestPath string) string {
	if requestPath == "/" {
		return filepath.FromSlash(s.indexPage)
	}

	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(requestPath, "/")))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return ""
	}

	return rel
}

func (s *Server) serveNotFound(w http.ResponseWriter) {
	path := filepath.Join(s.outputDir, filepath.FromSlash(s.notFoundPage))

	body, err := os.ReadFile(path)
	if err != nil {
		body = []byte(notFoundFallback)
	}

	w.WriteHeader(http.StatusNotFound)
	s.writeBody(w, path, body)
}

// writeBody appends the reload client script to HTML documents so every served
// page holds an open connection to the reload hub.
func (s *Server) writeBody(w http.ResponseWriter, path string, body []byte) {
	_, _ = w.Write(body)
	if strings.EqualFold(filepath.Ext(path), ".html") {
		_, _ = w.Write([]byte(s.reloadScript))
	}
}
