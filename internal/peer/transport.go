package peer

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	transportWriteWait  = 10 * time.Second
	transportPongWait   = 60 * time.Second
	transportPingPeriod = (transportPongWait * 9) / 10
	transportReadLimit  = 64 * 1024
)

// WebSocketTransport connects a peer to the relay over a websocket.
//
// Reads and writes are pumped through channels so the Transport methods can
// honor their contexts while gorilla keeps its one-reader/one-writer rule.
type WebSocketTransport struct {
	conn      *websocket.Conn
	incoming  chan []byte
	outgoing  chan outbound
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

type outbound struct {
	payload []byte
	reply   chan error
}

// Dial connects to the relay's upgrade endpoint, attaching the room key as the
// host query parameter.
func Dial(ctx context.Context, serverURL, roomKey string) (*WebSocketTransport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("host", roomKey)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	t := &WebSocketTransport{
		conn:     conn,
		incoming: make(chan []byte, 1),
		outgoing: make(chan outbound),
		done:     make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t, nil
}

func (t *WebSocketTransport) readPump() {
	defer func() {
		t.conn.Close()
		close(t.incoming)
	}()

	t.conn.SetReadLimit(transportReadLimit)
	_ = t.conn.SetReadDeadline(time.Now().Add(transportPongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(transportPongWait))
	})

	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			t.readErr = err
			return
		}
		select {
		case t.incoming <- payload:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(transportPingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case out := <-t.outgoing:
			_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			out.reply <- t.conn.WriteMessage(websocket.TextMessage, out.payload)

		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			_ = t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (t *WebSocketTransport) Send(ctx context.Context, payload []byte) error {
	out := outbound{payload: payload, reply: make(chan error, 1)}
	select {
	case t.outgoing <- out:
		return <-out.reply
	case <-t.done:
		return fmt.Errorf("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-t.incoming:
		if !ok {
			if t.readErr != nil {
				return nil, t.readErr
			}
			return nil, fmt.Errorf("transport closed")
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
