package middleware

import (
	"context"

	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// HeaderBuilder produces the outbound header snapshot for a connection
// (spec §4.D); implemented by internal/meshauth.
type HeaderBuilder interface {
	BuildHeaders(ctx context.Context, conn *mesh.Connection) (transport.HeaderSnapshot, error)
}

// AuthTransport wraps a base transport and refreshes the shared header
// snapshot immediately before every outgoing send (spec §4.B). The
// snapshot is the same pointer the wrapped transport reads from, so a
// refresh here is visible to the very next send without reconstructing
// the transport or its client pool entry.
//
// Headers is nil for transports that carry no request-level headers
// (STDIO), in which case AuthTransport is a transparent passthrough.
type AuthTransport struct {
	inner   transport.Transport
	conn    *mesh.Connection
	headers *transport.SharedHeaders
	builder HeaderBuilder
}

// NewAuthTransport wraps inner with header-refresh-on-send behavior.
func NewAuthTransport(
	inner transport.Transport,
	conn *mesh.Connection,
	headers *transport.SharedHeaders,
	builder HeaderBuilder,
) *AuthTransport {
	return &AuthTransport{inner: inner, conn: conn, headers: headers, builder: builder}
}

// Start proxies to the wrapped transport.
func (a *AuthTransport) Start(ctx context.Context) error {
	return a.inner.Start(ctx)
}

// Send refreshes the header snapshot, then proxies the send.
func (a *AuthTransport) Send(ctx context.Context, msg transport.Message) error {
	if a.headers != nil && a.builder != nil {
		snapshot, err := a.builder.BuildHeaders(ctx, a.conn)
		if err != nil {
			return err
		}
		a.headers.Store(snapshot)
	}
	return a.inner.Send(ctx, msg)
}

// OnReceive proxies to the wrapped transport; AuthTransport observes no
// incoming traffic.
func (a *AuthTransport) OnReceive(fn transport.ReceiveFunc) {
	a.inner.OnReceive(fn)
}

// OnClose proxies to the wrapped transport.
func (a *AuthTransport) OnClose(fn transport.CloseFunc) {
	a.inner.OnClose(fn)
}

// Close proxies to the wrapped transport.
func (a *AuthTransport) Close() error {
	return a.inner.Close()
}
