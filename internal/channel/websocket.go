package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteWait        = 10 * time.Second
)

// WSTransport is a WebSocket client to the backend state endpoint.
type WSTransport struct {
	url            string
	maxMessageSize int64
	dialer         *websocket.Dialer

	mu      sync.Mutex // guards conn
	writeMu sync.Mutex // serializes writes
	conn    *websocket.Conn
}

// NewWSTransport creates a transport for url (ws:// or wss://).
func NewWSTransport(url string, maxMessageSize int64) *WSTransport {
	return &WSTransport{
		url:            url,
		maxMessageSize: maxMessageSize,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: wsHandshakeTimeout,
		},
	}
}

// Connect dials the backend.
func (t *WSTransport) Connect(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.url, err)
	}
	if t.maxMessageSize > 0 {
		conn.SetReadLimit(t.maxMessageSize)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (t *WSTransport) current() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrClosed
	}
	return t.conn, nil
}

// Receive reads the next text frame. Cancelling ctx closes the connection.
func (t *WSTransport) Receive(ctx context.Context) ([]byte, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Send writes msg as one JSON text frame.
func (t *WSTransport) Send(ctx context.Context, msg Message) error {
	conn, err := t.current()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Type, err)
	}
	return nil
}

// Close sends a close frame and drops the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best effort on shutdown
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}
