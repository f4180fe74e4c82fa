// Package status serves a local WebSocket stream mirroring every bus event,
// for dashboards and debugging tools.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
)

const clientSendBuffer = 64

// wireEvent is the JSON shape sent to status clients.
type wireEvent struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server broadcasts all bus events to connected WebSocket clients. A client
// that cannot keep up is dropped rather than allowed to stall the broadcast.
type Server struct {
	addr     string
	eventBus *bus.EventBus
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	httpServer *http.Server
}

// NewServer creates a status server bound to addr (typically loopback).
func NewServer(addr string, eventBus *bus.EventBus, logger zerolog.Logger) *Server {
	s := &Server{
		addr:     addr,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "status").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local debugging endpoint; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}

	eventBus.SubscribeAll(s.broadcast)
	return s
}

// Start begins serving. Returns immediately; the listener runs until Stop.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Status server failed")
		}
	}()

	return nil
}

// Stop closes all client connections and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", count).Msg("Status client connected")

	go s.writeLoop(c)
	go s.readLoop(c)
}

// writeLoop flushes queued events to one client.
func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.dropClient(c, "write failed")
			return
		}
	}
}

// readLoop discards client messages and detects disconnects.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.dropClient(c, "closed")
			return
		}
	}
}

func (s *Server) dropClient(c *client, reason string) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()

	c.conn.Close()
	s.logger.Debug().Str("reason", reason).Msg("Status client dropped")
}

// broadcast fans one bus event out to every client. Slow clients are dropped,
// never waited on.
func (s *Server) broadcast(event bus.Event) {
	payload, err := json.Marshal(wireEvent{
		Type:      string(event.Type),
		Data:      event.Data,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to marshal event")
		return
	}

	s.mu.Lock()
	var slow []*client
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()

	for _, c := range slow {
		c.conn.Close()
		s.logger.Warn().Msg("Dropped slow status client")
	}
}
