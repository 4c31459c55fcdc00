package bridge

import (
	"context"
	"sync"

	"github.com/vmcpmesh/gateway/internal/transport"
)

// memoryTransport is one half of an in-process transport.Transport
// pair: Send on one half delivers straight into the peer's OnReceive
// callback, with no framing or I/O (spec §4.I: "Wrap the aggregator as
// an MCP server using an in-memory transport pair").
type memoryTransport struct {
	mu        sync.Mutex
	onReceive transport.ReceiveFunc
	onClose   transport.CloseFunc
	closed    bool

	peer *memoryTransport
	recv chan transport.Message
	done chan struct{}
}

// newMemoryPair builds two connected transports; messages sent on one
// arrive at the other's OnReceive callback.
func newMemoryPair() (client, server *memoryTransport) {
	a := &memoryTransport{recv: make(chan transport.Message, 32), done: make(chan struct{})}
	b := &memoryTransport{recv: make(chan transport.Message, 32), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (m *memoryTransport) Start(ctx context.Context) error {
	go m.loop(ctx)
	return nil
}

func (m *memoryTransport) loop(ctx context.Context) {
	for {
		select {
		case msg := <-m.recv:
			m.mu.Lock()
			fn := m.onReceive
			m.mu.Unlock()
			if fn != nil {
				fn(msg)
			}
		case <-m.done:
			return
		case <-ctx.Done():
			_ = m.Close()
			return
		}
	}
}

func (m *memoryTransport) Send(ctx context.Context, msg transport.Message) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return transport.ErrTransportClosed
	}

	select {
	case m.peer.recv <- msg:
		return nil
	case <-m.peer.done:
		return transport.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memoryTransport) OnReceive(fn transport.ReceiveFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReceive = fn
}

func (m *memoryTransport) OnClose(fn transport.CloseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// Close is idempotent and propagates to the peer half, so closing
// either side of the pair tears down both (spec §4.I: "Closing the
// bridge closes both transport halves").
func (m *memoryTransport) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	fn := m.onClose
	m.mu.Unlock()
	close(m.done)
	if fn != nil {
		fn(nil)
	}
	if m.peer != nil {
		_ = m.peer.Close()
	}
	return nil
}
