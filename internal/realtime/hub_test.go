package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, hub)

	if ev := readEvent(t, conn); ev.Kind != KindHello || ev.Seq != 0 {
		t.Fatalf("expected hello at seq 0, got %+v", ev)
	}
	hub.Notify("nodes", 7)

	ev := readEvent(t, conn)
	if ev.Kind != "nodes" || ev.Seq != 7 || ev.ID == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHelloCarriesLatestSeq(t *testing.T) {
	hub := NewHub(nil)
	hub.Notify("nodes", 4)
	hub.Notify("selection", 9)
	hub.Notify("detail", 3)

	conn := dial(t, hub)
	if ev := readEvent(t, conn); ev.Kind != KindHello || ev.Seq != 9 {
		t.Fatalf("expected hello at seq 9, got %+v", ev)
	}
	if hub.Clients() != 1 {
		t.Fatalf("expected one client, got %d", hub.Clients())
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://ui.local"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://evil.local")
	if check(r) {
		t.Fatalf("expected foreign origin rejected")
	}
	r.Header.Set("Origin", "http://ui.local")
	if !check(r) {
		t.Fatalf("expected listed origin accepted")
	}
	if !originChecker([]string{"*"})(r) {
		t.Fatalf("expected wildcard to accept")
	}
}
