package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dontdude/judgebox/internal/platform/broadcast"
)

// upgrader matches the teacher's permissive dev-mode CheckOrigin in
// cmd/server/main.go.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusStream forwards each completion event from the broadcast channel
// (id, status, exit code) as JSON to every connected client, and sends each
// client a periodic heartbeat with the queue size and container count. It is purely
// observational: losing or dropping a client never affects dispatch, so it
// carries none of spec.md §8's invariants.
type StatusStream struct {
	dispatcher  Dispatcher
	broadcaster broadcast.Broadcaster
	token       string

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewStatusStream constructs a status-stream hub and starts forwarding
// broadcast events to connected clients.
func NewStatusStream(ctx context.Context, dispatcher Dispatcher, broadcaster broadcast.Broadcaster, token string) *StatusStream {
	s := &StatusStream{
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		token:       token,
		clients:     make(map[*websocket.Conn]struct{}),
	}
	go s.forward(ctx)
	return s
}

func (s *StatusStream) forward(ctx context.Context) {
	events, err := s.broadcaster.Subscribe(ctx)
	if err != nil {
		slog.Error("status stream: failed to subscribe to broadcast channel", "error", err)
		return
	}
	for event := range events {
		s.broadcastJSON(event)
	}
}

func (s *StatusStream) broadcastJSON(v any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(v); err != nil {
			slog.Warn("status stream: failed to write to client", "error", err)
		}
	}
}

// ServeHTTP upgrades the connection and registers it until the client
// disconnects.
func (s *StatusStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(s.token)) != 1 {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("status stream: upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			s.mu.RLock()
			_, ok := s.clients[conn]
			s.mu.RUnlock()
			if !ok {
				return
			}
			_ = conn.WriteJSON(map[string]any{
				"heartbeat":      true,
				"queueSize":      s.dispatcher.QueueSize(),
				"containerCount": s.dispatcher.ContainerCount(),
			})
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
