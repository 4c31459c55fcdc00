package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmcpmesh/gateway/internal/monitoring"
	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// fakeTransport is a minimal in-memory transport.Transport double.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []transport.Message
	sendErr   error
	started   bool
	closed    bool
	onReceive transport.ReceiveFunc
	onClose   transport.CloseFunc
}

func (f *fakeTransport) Start(context.Context) error {
	f.started = true
	return nil
}

func (f *fakeTransport) Send(_ context.Context, msg transport.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) OnReceive(fn transport.ReceiveFunc) { f.onReceive = fn }
func (f *fakeTransport) OnClose(fn transport.CloseFunc)     { f.onClose = fn }

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(msg transport.Message) {
	if f.onReceive != nil {
		f.onReceive(msg)
	}
}

func (f *fakeTransport) close(err error) {
	if f.onClose != nil {
		f.onClose(err)
	}
}

type staticHeaderBuilder struct {
	snapshot transport.HeaderSnapshot
	err      error
}

func (s staticHeaderBuilder) BuildHeaders(context.Context, *mesh.Connection) (transport.HeaderSnapshot, error) {
	return s.snapshot, s.err
}

func TestAuthTransport_RefreshesHeadersBeforeSend(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	headers := transport.NewSharedHeaders()
	conn := &mesh.Connection{ID: "conn_1"}
	builder := staticHeaderBuilder{snapshot: transport.HeaderSnapshot{"Authorization": "Bearer tok"}}

	at := NewAuthTransport(inner, conn, headers, builder)

	require.NoError(t, at.Send(context.Background(), transport.Message(`{}`)))
	assert.Equal(t, "Bearer tok", headers.Load()["Authorization"])
	assert.Len(t, inner.sent, 1)
}

func TestAuthTransport_NilHeadersIsPassthrough(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	conn := &mesh.Connection{ID: "conn_1"}
	at := NewAuthTransport(inner, conn, nil, nil)

	require.NoError(t, at.Send(context.Background(), transport.Message(`{}`)))
	assert.Len(t, inner.sent, 1)
}

func TestAuthTransport_BuildHeadersErrorPropagates(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	headers := transport.NewSharedHeaders()
	conn := &mesh.Connection{ID: "conn_1"}
	builder := staticHeaderBuilder{err: errors.New("refresh failed")}
	at := NewAuthTransport(inner, conn, headers, builder)

	err := at.Send(context.Background(), transport.Message(`{}`))
	assert.Error(t, err)
	assert.Empty(t, inner.sent)
}

func TestAuthTransport_ProxiesLifecycle(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	at := NewAuthTransport(inner, &mesh.Connection{}, nil, nil)

	require.NoError(t, at.Start(context.Background()))
	assert.True(t, inner.started)

	require.NoError(t, at.Close())
	assert.True(t, inner.closed)
}

type fakeSink struct {
	mu      sync.Mutex
	starts  []monitoring.Call
	finish  []finishCall
	spanNum int
}

type finishCall struct {
	output  any
	callErr error
}

func (f *fakeSink) Start(ctx context.Context, call monitoring.Call) (context.Context, *monitoring.Span) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, call)
	f.spanNum++
	return ctx, &monitoring.Span{}
}

func (f *fakeSink) Finish(_ context.Context, _ *monitoring.Span, output any, callErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finish = append(f.finish, finishCall{output: output, callErr: callErr})
}

func TestMonitoringTransport_RecordsToolCallRoundTrip(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	sink := &fakeSink{}
	conn := &mesh.Connection{ID: "conn_1", Title: "demo"}
	mt := NewMonitoringTransport(inner, conn, sink, "")

	var received []transport.Message
	mt.OnReceive(func(m transport.Message) { received = append(received, m) })

	req := transport.Message(`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"search","arguments":{"q":"x"}}}`)
	require.NoError(t, mt.Send(context.Background(), req))

	require.Len(t, sink.starts, 1)
	assert.Equal(t, "search", sink.starts[0].ToolName)
	assert.Equal(t, "conn_1", sink.starts[0].ConnectionID)

	resp := transport.Message(`{"jsonrpc":"2.0","id":"1","result":{"ok":true}}`)
	inner.deliver(resp)

	require.Len(t, sink.finish, 1)
	assert.Nil(t, sink.finish[0].callErr)
	require.Len(t, received, 1)
}

func TestMonitoringTransport_RecordsErrorResponse(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	sink := &fakeSink{}
	conn := &mesh.Connection{ID: "conn_1"}
	mt := NewMonitoringTransport(inner, conn, sink, "")
	mt.OnReceive(func(transport.Message) {})

	req := transport.Message(`{"jsonrpc":"2.0","id":"9","method":"tools/call","params":{"name":"search"}}`)
	require.NoError(t, mt.Send(context.Background(), req))

	resp := transport.Message(`{"jsonrpc":"2.0","id":"9","error":{"code":-32000,"message":"boom"}}`)
	inner.deliver(resp)

	require.Len(t, sink.finish, 1)
	assert.Error(t, sink.finish[0].callErr)
	assert.Equal(t, "boom", sink.finish[0].callErr.Error())
}

func TestMonitoringTransport_TagsBackendHealthProperty(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	sink := &fakeSink{}
	conn := &mesh.Connection{ID: "conn_1"}
	mt := NewMonitoringTransport(inner, conn, sink, "")

	ctx := mesh.WithBackendHealth(context.Background(), mesh.BackendDegraded)
	req := transport.Message(`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"search"}}`)
	require.NoError(t, mt.Send(ctx, req))

	require.Len(t, sink.starts, 1)
	assert.Equal(t, "degraded", sink.starts[0].Properties["backend.health"])
}

func TestMonitoringTransport_IgnoresNonToolCallMessages(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	sink := &fakeSink{}
	mt := NewMonitoringTransport(inner, &mesh.Connection{}, sink, "")

	require.NoError(t, mt.Send(context.Background(), transport.Message(`{"jsonrpc":"2.0","id":"1","method":"tools/list"}`)))
	assert.Empty(t, sink.starts)
}

func TestMonitoringTransport_ClosesOpenSpansOnTransportClose(t *testing.T) {
	t.Parallel()

	inner := &fakeTransport{}
	sink := &fakeSink{}
	conn := &mesh.Connection{ID: "conn_1"}
	mt := NewMonitoringTransport(inner, conn, sink, "")

	closed := false
	mt.OnClose(func(error) { closed = true })

	req := transport.Message(`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"search"}}`)
	require.NoError(t, mt.Send(context.Background(), req))

	inner.close(nil)

	assert.True(t, closed)
	mt.mu.Lock()
	assert.Empty(t, mt.inflight)
	mt.mu.Unlock()
}
