// Package transport implements the four concrete bidirectional JSON-RPC
// channels the gateway speaks downstream (spec §4.A): STDIO, HTTP
// streamable, SSE, and WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"sync"

	meshErrors "github.com/vmcpmesh/gateway/pkg/errors"
)

// Message is a raw JSON-RPC 2.0 message, kept untyped so every concrete
// transport can frame it without decoding the envelope twice.
type Message = json.RawMessage

// ReceiveFunc is the single-consumer callback a Transport delivers
// incoming messages to.
type ReceiveFunc func(Message)

// CloseFunc is invoked exactly once when the channel terminates, whether
// by explicit Close or by the remote end going away.
type CloseFunc func(err error)

// Transport is a bidirectional channel for JSON-RPC messages (spec §4.A).
type Transport interface {
	// Start begins receiving and suspends until the channel is ready.
	Start(ctx context.Context) error
	// Send enqueues one outgoing message. Returns ErrTransportClosed if
	// the transport has already closed.
	Send(ctx context.Context, msg Message) error
	// OnReceive installs the single-consumer callback for incoming
	// messages. Must be called before Start.
	OnReceive(fn ReceiveFunc)
	// OnClose installs the terminal close callback, invoked exactly once.
	OnClose(fn CloseFunc)
	// Close releases all resources. Idempotent.
	Close() error
}

// ErrTransportClosed is returned by Send once the transport has closed.
var ErrTransportClosed = meshErrors.NewError(meshErrors.ErrTransportClosed, "transport is closed", nil)

// base provides the idempotent-close and single-consumer-callback
// bookkeeping shared by every concrete transport.
type base struct {
	mu        sync.Mutex
	closed    bool
	onReceive ReceiveFunc
	onClose   CloseFunc
	closeOnce sync.Once
}

func (b *base) OnReceive(fn ReceiveFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReceive = fn
}

func (b *base) OnClose(fn CloseFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = fn
}

func (b *base) deliver(msg Message) {
	b.mu.Lock()
	fn := b.onReceive
	b.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// closeWith runs the close callback exactly once and marks the
// transport closed, regardless of how many times closeWith is called.
func (b *base) closeWith(err error) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		fn := b.onClose
		b.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

func (b *base) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
