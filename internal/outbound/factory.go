package outbound

import (
	"context"

	"github.com/vmcpmesh/gateway/internal/clientpool"
	"github.com/vmcpmesh/gateway/internal/middleware"
	"github.com/vmcpmesh/gateway/internal/monitoring"
	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/errors"
	"github.com/vmcpmesh/gateway/pkg/mesh"
	"github.com/vmcpmesh/gateway/pkg/meshconfig"
)

// PoolKind tells a caller which clientpool.Pool a connection belongs in
// (spec §4.C): STDIO children live in a process-wide singleton because a
// child process must outlive any one request, everything else in a
// per-request pool where header freshness matters more than reuse.
type PoolKind int

// Recognized pool kinds.
const (
	PoolPerRequest PoolKind = iota
	PoolStdioSingleton
)

// PoolKindFor reports which pool a connection's client belongs in.
func PoolKindFor(connType mesh.ConnectionType) PoolKind {
	if connType == mesh.ConnectionSTDIO {
		return PoolStdioSingleton
	}
	return PoolPerRequest
}

// VirtualDialer resolves a VIRTUAL connection to an in-process transport
// pair, implemented by internal/bridge. Kept as an interface here so
// outbound never imports bridge (bridge imports outbound to dial the
// virtual MCP's own children).
type VirtualDialer interface {
	Dial(ctx context.Context, conn *mesh.Connection) (transport.Transport, error)
}

// NewFactory builds the clientpool.Factory for conn: picking the
// concrete transport by connection_type, composing
// AuthTransport -> MonitoringTransport around it, and handing back a
// ready *Client (spec §4.A, §4.B, §4.E). The returned factory is meant
// to be passed to clientpool.Pool.GetOrCreate by the caller, who also
// decides which Pool (per PoolKindFor) and which cache key to use.
func NewFactory(
	conn *mesh.Connection,
	cfg *meshconfig.Config,
	headerBuilder middleware.HeaderBuilder,
	sink monitoring.Sink,
	virtualMCPID string,
	virtual VirtualDialer,
) clientpool.Factory {
	return func(ctx context.Context) (clientpool.Client, error) {
		t, headers, err := buildTransport(ctx, conn, cfg, virtual)
		if err != nil {
			return nil, err
		}

		wrapped := transport.Transport(t)
		if headers != nil {
			wrapped = middleware.NewAuthTransport(wrapped, conn, headers, headerBuilder)
		}
		if sink != nil {
			wrapped = middleware.NewMonitoringTransport(wrapped, conn, sink, virtualMCPID)
		}

		return NewClient(ctx, wrapped)
	}
}

// buildTransport constructs the concrete, unwrapped Transport for conn,
// along with the *transport.SharedHeaders it reads from (nil for STDIO,
// which carries no per-request headers).
func buildTransport(
	ctx context.Context,
	conn *mesh.Connection,
	cfg *meshconfig.Config,
	virtual VirtualDialer,
) (transport.Transport, *transport.SharedHeaders, error) {
	switch conn.ConnectionType {
	case mesh.ConnectionSTDIO:
		if !cfg.StdioAllowed() {
			return nil, nil, errors.NewError(errors.ErrInvalidArgument, "stdio transport disabled in production", nil)
		}
		return transport.NewStdio(conn.StdioConfig()), nil, nil

	case mesh.ConnectionHTTP:
		headers := transport.NewSharedHeaders()
		return transport.NewHTTPStreamable(conn.ConnectionURL, headers), headers, nil

	case mesh.ConnectionSSE:
		headers := transport.NewSharedHeaders()
		return transport.NewSSE(conn.ConnectionURL, headers), headers, nil

	case mesh.ConnectionWebsocket:
		headers := transport.NewSharedHeaders()
		return transport.NewWebSocket(conn.ConnectionURL, headers), headers, nil

	case mesh.ConnectionVirtual:
		if virtual == nil {
			return nil, nil, errors.NewError(errors.ErrInvalidArgument, "no virtual dialer configured", nil)
		}
		t, err := virtual.Dial(ctx, conn)
		if err != nil {
			return nil, nil, err
		}
		return t, nil, nil

	default:
		return nil, nil, errors.NewError(errors.ErrInvalidArgument, "unrecognized connection type: "+string(conn.ConnectionType), nil)
	}
}
