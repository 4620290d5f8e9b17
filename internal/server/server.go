// Package server streams watcher events to websocket clients and serves the
// current gallery over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/TohruskyDev/FinalDream/internal/gallery"
)

// Config holds server configuration.
type Config struct {
	Addr string
	Hub  *Hub
	// Directory reports the watched directory for /api/images.
	Directory func() string
	Logger    zerolog.Logger
}

// Server is the HTTP front of a Hub.
type Server struct {
	hub       *Hub
	directory func() string
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	addr     string
	server   *http.Server
	listener net.Listener

	wg sync.WaitGroup
}

// New validates cfg and returns an unstarted server.
func New(cfg Config) (*Server, error) {
	if cfg.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if cfg.Directory == nil {
		cfg.Directory = func() string { return "" }
	}

	s := &Server{
		hub:       cfg.Hub,
		directory: cfg.Directory,
		logger:    cfg.Logger,
		addr:      cfg.Addr,
		upgrader: websocket.Upgrader{
			// Local viewers are served from file:// and arbitrary dev ports.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return s, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/images", s.handleImages)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting event server")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Event server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down event server")
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.wg.Wait()
	s.logger.Info().Msg("Event server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c, ok := s.hub.register(conn)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	go s.hub.writePump(c)
	go s.hub.readPump(c)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	export := gallery.Export{
		Directory:   s.directory(),
		GeneratedAt: time.Now().UTC(),
		Images:      s.hub.Gallery().Images(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(export); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write gallery response")
	}
}
