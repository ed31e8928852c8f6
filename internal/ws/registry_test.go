package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ai-hq/server/internal/event"
	"github.com/ai-hq/server/internal/metrics"
	"github.com/gorilla/websocket"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection together with the client side.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	select {
	case serverConn := <-connCh:
		t.Cleanup(func() {
			clientConn.Close()
			srv.Close()
		})
		return srv, serverConn, clientConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil, nil
	}
}

func newTestRegistry(buffer int) *Registry {
	return NewRegistry(RegistryOptions{
		Buffer:       buffer,
		WriteTimeout: time.Second,
		PingInterval: time.Hour,
	})
}

func mustRegister(t *testing.T, r *Registry, conn *websocket.Conn) *Subscriber {
	t.Helper()
	s, err := r.Register(conn)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	return s
}

// readMessage reads one text frame from conn with a deadline.
func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

// expectNoMessage asserts nothing arrives within d. The connection is not
// usable for reads afterwards.
func expectNoMessage(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message: %s", data)
	}
}

// detachedSubscriber builds a registered subscriber with no write pump, so
// its queue fills up deterministically.
func detachedSubscriber(r *Registry, buffer int) *Subscriber {
	s := &Subscriber{
		id:     "detached",
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	s.open.Store(true)
	r.mu.Lock()
	r.subscribers[s] = struct{}{}
	r.mu.Unlock()
	return s
}

func TestRegisterSendsConnectedAck(t *testing.T) {
	_, serverConn, clientConn := dialTestWS(t)
	r := newTestRegistry(8)
	defer r.Close()

	s := mustRegister(t, r, serverConn)
	if s.ID() == "" {
		t.Error("subscriber should have an id")
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}

	var ack event.Event
	if err := json.Unmarshal(readMessage(t, clientConn), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != event.TypeConnected {
		t.Errorf("first message type = %q, want %q", ack.Type, event.TypeConnected)
	}
}

func TestBroadcastDeliversIdenticalPayload(t *testing.T) {
	r := newTestRegistry(8)
	defer r.Close()

	var clients []*websocket.Conn
	for i := 0; i < 3; i++ {
		_, serverConn, clientConn := dialTestWS(t)
		mustRegister(t, r, serverConn)
		readMessage(t, clientConn) // ack
		clients = append(clients, clientConn)
	}

	r.Broadcast(event.Event{Type: "tool_start", Tool: "Grep", SessionID: "abc123", Title: "my-repo"})

	want := `{"type":"tool_start","tool":"Grep","sessionId":"abc123","title":"my-repo"}`
	for i, c := range clients {
		if got := string(readMessage(t, c)); got != want {
			t.Errorf("client %d got %s, want %s", i, got, want)
		}
	}
}

func TestBroadcastPreservesOrder(t *testing.T) {
	_, serverConn, clientConn := dialTestWS(t)
	r := newTestRegistry(64)
	defer r.Close()

	mustRegister(t, r, serverConn)
	readMessage(t, clientConn)

	tools := []string{"Read", "Grep", "Edit", "Bash", "Write"}
	for _, tool := range tools {
		r.Broadcast(event.Event{Type: "tool_start", Tool: tool})
	}

	for i, want := range tools {
		var e event.Event
		if err := json.Unmarshal(readMessage(t, clientConn), &e); err != nil {
			t.Fatal(err)
		}
		if e.Tool != want {
			t.Errorf("message %d tool = %q, want %q", i, e.Tool, want)
		}
	}
}

func TestBroadcastNoSubscribers(t *testing.T) {
	r := newTestRegistry(8)
	r.Broadcast(event.Event{Type: "tool_start"})
	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	_, serverConn, _ := dialTestWS(t)
	r := newTestRegistry(8)

	s := mustRegister(t, r, serverConn)
	r.Unregister(s)
	r.Unregister(s)

	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if s.Open() {
		t.Error("unregistered subscriber should not be open")
	}
}

func TestUnregisterUnknownSubscriber(t *testing.T) {
	r := newTestRegistry(8)
	other := newTestRegistry(8)
	s := detachedSubscriber(other, 1)

	r.Unregister(s)

	if !s.Open() {
		t.Error("unregistering from a registry that never held s should not stop it")
	}
}

func TestBroadcastSkipsClosedSubscriberWithoutRemoving(t *testing.T) {
	r := newTestRegistry(8)
	s := detachedSubscriber(r, 4)
	s.stop()

	r.Broadcast(event.Event{Type: "tool_end"})

	if got := len(s.send); got != 0 {
		t.Errorf("closed subscriber queued %d messages, want 0", got)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1: broadcast must not remove subscribers", got)
	}
}

func TestBroadcastFullQueueDoesNotBlock(t *testing.T) {
	r := newTestRegistry(1)
	slow := detachedSubscriber(r, 1)

	_, serverConn, clientConn := dialTestWS(t)
	mustRegister(t, r, serverConn)
	readMessage(t, clientConn)
	defer r.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			r.Broadcast(event.Event{Type: "tool_start"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full subscriber queue")
	}

	if got := len(slow.send); got != 1 {
		t.Errorf("slow subscriber queue length = %d, want 1", got)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2: slow subscribers stay registered", got)
	}
	// The healthy subscriber still gets at least the first message.
	readMessage(t, clientConn)
}

func TestWritePumpFailureMarksSubscriberNotOpen(t *testing.T) {
	_, serverConn, _ := dialTestWS(t)
	r := newTestRegistry(8)
	defer r.Close()

	// Close the connection so the write of the ack fails.
	serverConn.Close()
	s := mustRegister(t, r, serverConn)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Open() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.Open() {
		t.Fatal("subscriber still open after write error")
	}

	// Removal is left to the close notification.
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	r.Broadcast(event.Event{Type: "tool_start"})
}

func TestCloseStopsAllSubscribers(t *testing.T) {
	r := newTestRegistry(8)
	var subs []*Subscriber
	var clients []*websocket.Conn
	for i := 0; i < 2; i++ {
		_, serverConn, clientConn := dialTestWS(t)
		subs = append(subs, mustRegister(t, r, serverConn))
		readMessage(t, clientConn)
		clients = append(clients, clientConn)
	}

	r.Close()

	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	for i, s := range subs {
		if s.Open() {
			t.Errorf("subscriber %d still open after Close", i)
		}
	}
	for i, c := range clients {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := c.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("client %d read error = %v, want normal closure", i, err)
		}
	}
}

func TestRegisterAfterCloseRefused(t *testing.T) {
	_, serverConn, clientConn := dialTestWS(t)
	r := newTestRegistry(8)
	r.Close()

	s, err := r.Register(serverConn)
	if !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Register() error = %v, want ErrRegistryClosed", err)
	}
	if s != nil {
		t.Error("Register() after Close should not return a subscriber")
	}
	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := clientConn.ReadMessage(); err == nil {
		t.Error("refused connection should be closed")
	}
}

func TestBroadcastSendsSubmittedFields(t *testing.T) {
	_, serverConn, clientConn := dialTestWS(t)
	r := newTestRegistry(8)
	defer r.Close()

	mustRegister(t, r, serverConn)
	readMessage(t, clientConn)

	raw := `{"type":"tool_start","tool":"","sessionId":42,"title":"<repo>"}`
	e, err := event.Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	r.Broadcast(e)

	if got := string(readMessage(t, clientConn)); got != raw {
		t.Errorf("got %s, want %s", got, raw)
	}
}

func TestSubscriberGaugeTracksRegistrations(t *testing.T) {
	r := newTestRegistry(8)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		_, serverConn, _ := dialTestWS(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Register(serverConn)
			if err != nil {
				t.Error(err)
				return
			}
			r.Unregister(s)
		}()
	}
	wg.Wait()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "\nai_hq_subscribers_connected 0\n") {
		t.Error("subscribers gauge should settle at 0 once every subscriber left")
	}
}
