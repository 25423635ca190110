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
	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/logging"
	"go.uber.org/zap"
)

// EventsPath is where clients subscribe to handoff events.
const EventsPath = "/events"

// Config holds the server configuration
type Config struct {
	// Addr is the listen address. Port 0 picks a free port.
	Addr string

	// ClientBuffer is the number of events queued per client before the
	// client is dropped as too slow.
	// Default: 64
	ClientBuffer int

	// History is the number of past events replayed to a new client.
	// Default: 256
	History int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8765",
		ClientBuffer: 64,
		History:      256,
	}
}

// Server streams handoff events to websocket clients.
type Server struct {
	config     Config
	upgrader   websocket.Upgrader
	listener   net.Listener
	httpServer *http.Server
	wg         sync.WaitGroup

	mu      sync.Mutex
	clients map[*client]struct{}
	history [][]byte
	closed  bool
}

// New creates a new Server instance
func New(config Config) *Server {
	defaults := DefaultConfig()
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = defaults.ClientBuffer
	}
	if config.History <= 0 {
		config.History = defaults.History
	}
	s := &Server{
		config:  config,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local tooling only; any origin may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, s.handleEvents)
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	logging.Info("Event stream listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", EventsPath),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Event stream stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// URL returns the websocket URL of the event stream.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + EventsPath
}

// Observer returns a handoff observer that publishes to this server.
func (s *Server) Observer() handoff.Observer {
	return s.Publish
}

// Publish sends an event to every client and records it for late joiners.
// It never blocks on a client.
func (s *Server) Publish(ev handoff.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("Failed to marshal event", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.history = append(s.history, data)
	if n := len(s.history) - s.config.History; n > 0 {
		s.history = s.history[n:]
	}
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			logging.Warn("Dropping slow event client", zap.String("remote_addr", c.remote))
			s.removeLocked(c)
		}
	}
}

// register adds a client and queues the history for it.
func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	// Counted under mu so Shutdown cannot be waiting on wg yet.
	s.wg.Add(1)
	for _, data := range s.history {
		select {
		case c.send <- data:
		default:
		}
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(c)
}

func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down event stream...")

	err := s.httpServer.Shutdown(ctx)

	// Hijacked websocket connections are not tracked by http.Server.
	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		s.removeLocked(c)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All event clients closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	return err
}

// ActiveConnections returns the number of connected clients
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
