package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
)

func newTestServer(t *testing.T) (*Server, *bus.EventBus, string) {
	t.Helper()

	eventBus := bus.NewEventBus()
	s := NewServer("127.0.0.1:0", eventBus, zerolog.Nop())

	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return s, eventBus, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_StreamsBusEvents(t *testing.T) {
	s, eventBus, wsURL := newTestServer(t)
	conn := dial(t, wsURL)

	// Wait for the connection to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	eventBus.Publish(bus.Event{
		Type: bus.EventTypeSessionListening,
		Data: map[string]any{"old": "idle", "new": "listening"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var event wireEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != string(bus.EventTypeSessionListening) {
		t.Errorf("expected session.listening event, got %s", event.Type)
	}
	if event.Data["new"] != "listening" {
		t.Errorf("unexpected event data: %v", event.Data)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestServer_DropsSlowClients(t *testing.T) {
	eventBus := bus.NewEventBus()
	s := NewServer("127.0.0.1:0", eventBus, zerolog.Nop())

	// Stand up a raw WebSocket pair and register the server side as a client
	// with a tiny buffer and no writer draining it.
	serverConns := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(ts.Close)

	dial(t, "ws"+strings.TrimPrefix(ts.URL, "http"))
	serverConn := <-serverConns

	stalled := &client{conn: serverConn, send: make(chan []byte, 2)}
	s.mu.Lock()
	s.clients[stalled] = struct{}{}
	s.mu.Unlock()

	// The first two broadcasts fill the buffer; the third finds it full and
	// drops the client.
	for i := 0; i < 3; i++ {
		s.broadcast(bus.Event{Type: bus.EventTypeTranscriptPartial})
	}

	if got := s.ClientCount(); got != 0 {
		t.Errorf("slow client should have been dropped, still %d connected", got)
	}
}
