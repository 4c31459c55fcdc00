package transport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// WebSocket is opened with the shared header set once; messages are
// framed as JSON text frames (spec §4.A.4, §6.2).
type WebSocket struct {
	base

	URL     string
	Headers *SharedHeaders

	conn *websocket.Conn
}

// NewWebSocket constructs a WebSocket transport against url.
func NewWebSocket(url string, headers *SharedHeaders) *WebSocket {
	return &WebSocket{URL: url, Headers: headers}
}

// Start dials the WebSocket once, using the header snapshot current at
// dial time (the connection is not re-dialed on later header refreshes).
func (w *WebSocket) Start(ctx context.Context) error {
	header := make(map[string][]string)
	for k, v := range w.Headers.Load() {
		header[k] = []string{v}
	}

	conn, _, err := websocket.Dial(ctx, w.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("websocket transport: dial: %w", err)
	}
	w.conn = conn

	go w.readLoop()
	return nil
}

func (w *WebSocket) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := w.conn.Read(ctx)
		if err != nil {
			w.closeWith(err)
			return
		}
		w.deliver(data)
	}
}

// Send writes msg as a single text frame.
func (w *WebSocket) Send(ctx context.Context, msg Message) error {
	if w.isClosed() {
		return ErrTransportClosed
	}
	if err := w.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("websocket transport: write: %w", err)
	}
	return nil
}

// Close closes the WebSocket with a normal closure code.
func (w *WebSocket) Close() error {
	w.closeWith(nil)
	if w.conn != nil {
		return w.conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}
