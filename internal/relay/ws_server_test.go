package relay

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vidroom/signal-relay/internal/config"
	"github.com/vidroom/signal-relay/internal/metrics"
)

func testConfig() config.Config {
	return config.Config{
		RoomMemberCap:            2,
		MaxSignalingMessageBytes: 64 * 1024,
		WSIdleTimeout:            time.Minute,
		WSPingInterval:           20 * time.Second,
	}
}

func startTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *WebSocketServer) {
	t.Helper()
	ws := NewWebSocketServer(cfg, testLogger(), metrics.New())
	srv := httptest.NewServer(ws)
	t.Cleanup(srv.Close)
	return srv, ws
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dialRoom(t *testing.T, srv *httptest.Server, key string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "host="+key), nil)
	if err != nil {
		t.Fatalf("dial room %q: %v (resp=%v)", key, err, resp)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return payload
}

func TestServeHTTPRequiresUpgrade(t *testing.T) {
	srv, _ := startTestServer(t, testConfig())

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusUpgradeRequired)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "expected WebSocket upgrade") {
		t.Fatalf("body=%q", body)
	}
}

func TestServeHTTPRequiresHostParam(t *testing.T) {
	srv, _ := startTestServer(t, testConfig())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err == nil {
		t.Fatal("dial without host param should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp=%v, want 400", resp)
	}
	resp.Body.Close()
}

func TestServeHTTPRejectsDisallowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	srv, _ := startTestServer(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "host=r"), header)
	if err == nil {
		t.Fatal("dial from disallowed origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}
	resp.Body.Close()

	header.Set("Origin", "https://app.example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "host=r"), header)
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	resp.Body.Close()
	conn.Close()
}

func TestRelayForwardsBetweenTwoConnections(t *testing.T) {
	srv, _ := startTestServer(t, testConfig())

	a := dialRoom(t, srv, "room1")
	b := dialRoom(t, srv, "room1")

	if err := a.WriteMessage(websocket.TextMessage, []byte(`[{"type":"gathered","sender":"a"}]`)); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if got := readText(t, b); !strings.Contains(string(got), `"sender":"a"`) {
		t.Fatalf("b received %q", got)
	}

	if err := b.WriteMessage(websocket.TextMessage, []byte(`[{"type":"gathered","sender":"b"}]`)); err != nil {
		t.Fatalf("write b: %v", err)
	}
	got := readText(t, a)
	if !strings.Contains(string(got), `"sender":"b"`) {
		t.Fatalf("a received %q", got)
	}
}

func TestRelayClosesThirdConnection(t *testing.T) {
	srv, _ := startTestServer(t, testConfig())

	a := dialRoom(t, srv, "room1")
	b := dialRoom(t, srv, "room1")

	// A round trip proves both members joined before the third arrives.
	if err := a.WriteMessage(websocket.TextMessage, []byte(`[{"type":"gathered","sender":"a"}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readText(t, b)

	third := dialRoom(t, srv, "room1")

	_ = third.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := third.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read err=%v, want close error", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != "room is full" {
		t.Fatalf("close=%v, want policy violation room is full", closeErr)
	}
}

func TestRelayDestroysRoomAfterLastDisconnect(t *testing.T) {
	srv, ws := startTestServer(t, testConfig())

	a := dialRoom(t, srv, "room1")
	b := dialRoom(t, srv, "room1")
	if err := a.WriteMessage(websocket.TextMessage, []byte(`[{"type":"gathered","sender":"a"}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readText(t, b)
	a.Close()
	b.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ws.Router().RoomCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room never destroyed after both members left")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The key routes to a fresh room afterwards.
	c := dialRoom(t, srv, "room1")
	d := dialRoom(t, srv, "room1")
	if err := c.WriteMessage(websocket.TextMessage, []byte(`[{"type":"gathered","sender":"c"}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readText(t, d); !strings.Contains(string(got), `"sender":"c"`) {
		t.Fatalf("d received %q", got)
	}
}

func TestRelayDistinctRoomsAreIsolated(t *testing.T) {
	srv, _ := startTestServer(t, testConfig())

	a := dialRoom(t, srv, "room1")
	b := dialRoom(t, srv, "room1")
	c := dialRoom(t, srv, "room2")

	if err := a.WriteMessage(websocket.TextMessage, []byte(`[{"type":"gathered","sender":"a"}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readText(t, b); !strings.Contains(string(got), `"sender":"a"`) {
		t.Fatalf("b received %q", got)
	}

	_ = c.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, payload, err := c.ReadMessage(); err == nil {
		t.Fatalf("room2 member received foreign payload %q", payload)
	}
}
