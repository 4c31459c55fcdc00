package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vmcpmesh/gateway/internal/monitoring"
	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

const methodToolsCall = "tools/call"

// MonitoringTransport tracks in-flight tools/call requests keyed by
// JSON-RPC id (spec §4.B). It opens a span and records a start time on
// the outgoing request, and on the matching response computes the
// duration, emits the histogram/counter pair, closes the span, and
// writes a monitoring record. Still-open spans at transport close are
// ended with a transport.closed attribute.
type MonitoringTransport struct {
	inner transport.Transport
	sink  monitoring.Sink

	conn         *mesh.Connection
	virtualMCPID string

	mu       sync.Mutex
	inflight map[string]*inflightCall

	onReceive transport.ReceiveFunc
	onClose   transport.CloseFunc
}

type inflightCall struct {
	ctx  context.Context
	span *monitoring.Span
}

// NewMonitoringTransport wraps inner with request/response observation.
func NewMonitoringTransport(
	inner transport.Transport,
	conn *mesh.Connection,
	sink monitoring.Sink,
	virtualMCPID string,
) *MonitoringTransport {
	m := &MonitoringTransport{
		inner:        inner,
		sink:         sink,
		conn:         conn,
		virtualMCPID: virtualMCPID,
		inflight:     make(map[string]*inflightCall),
	}
	inner.OnReceive(m.handleReceive)
	inner.OnClose(m.handleClose)
	return m
}

// Start proxies to the wrapped transport.
func (m *MonitoringTransport) Start(ctx context.Context) error {
	return m.inner.Start(ctx)
}

// Send opens a span for tools/call requests before forwarding the send;
// all other messages pass through unobserved.
func (m *MonitoringTransport) Send(ctx context.Context, msg transport.Message) error {
	env, ok := parseEnvelope(msg)
	if !ok || !env.isRequest() || env.Method != methodToolsCall {
		return m.inner.Send(ctx, msg)
	}

	key, hasID := idKey(env)
	if !hasID {
		return m.inner.Send(ctx, msg)
	}

	toolName, arguments := toolCallParams(msg)
	call := monitoring.Call{
		ConnectionID:    m.conn.ID,
		ConnectionTitle: m.conn.Title,
		ToolName:        toolName,
		VirtualMCPID:    m.virtualMCPID,
		Input:           arguments,
	}
	if ac, ok := mesh.AuthContextFromContext(ctx); ok {
		call.OrganizationID = ac.OrganizationID()
		call.UserID = ac.UserID()
		call.UserAgent = ac.UserAgent()
		call.RequestID = ac.RequestID()
		call.Properties = ac.Properties()
	}
	if health, ok := mesh.BackendHealthFromContext(ctx); ok {
		call.Properties = withBackendHealthProperty(call.Properties, health)
	}

	spanCtx, span := m.sink.Start(ctx, call)

	m.mu.Lock()
	m.inflight[key] = &inflightCall{ctx: spanCtx, span: span}
	m.mu.Unlock()

	return m.inner.Send(spanCtx, msg)
}

func (m *MonitoringTransport) handleReceive(msg transport.Message) {
	if env, ok := parseEnvelope(msg); ok {
		if key, hasID := idKey(env); hasID && !env.isRequest() {
			m.finish(key, msg, env)
		}
	}
	if m.onReceive != nil {
		m.onReceive(msg)
	}
}

func (m *MonitoringTransport) finish(key string, msg transport.Message, env envelope) {
	m.mu.Lock()
	call, ok := m.inflight[key]
	if ok {
		delete(m.inflight, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	var callErr error
	if env.isError() {
		callErr = responseError(env)
	}

	var output any
	if len(env.Result) > 0 {
		_ = json.Unmarshal(env.Result, &output)
	}

	m.sink.Finish(call.ctx, call.span, output, callErr)
	_ = msg
}

func (m *MonitoringTransport) handleClose(err error) {
	m.mu.Lock()
	open := make([]*inflightCall, 0, len(m.inflight))
	for _, c := range m.inflight {
		open = append(open, c)
	}
	m.inflight = make(map[string]*inflightCall)
	m.mu.Unlock()

	for _, c := range open {
		monitoring.CloseOpen(c.span)
	}

	if m.onClose != nil {
		m.onClose(err)
	}
}

// OnReceive registers the observer-facing receive callback.
func (m *MonitoringTransport) OnReceive(fn transport.ReceiveFunc) {
	m.onReceive = fn
}

// OnClose registers the observer-facing close callback.
func (m *MonitoringTransport) OnClose(fn transport.CloseFunc) {
	m.onClose = fn
}

// Close proxies to the wrapped transport.
func (m *MonitoringTransport) Close() error {
	return m.inner.Close()
}

// withBackendHealthProperty adds a "backend.health" entry to props
// (copying it first so the caller's map is never mutated in place),
// surfacing the aggregator's runtime health view of the called child on
// the monitoring record (SPEC_FULL.md SUPPLEMENTED FEATURES #1).
func withBackendHealthProperty(props map[string]any, health mesh.BackendHealth) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["backend.health"] = string(health)
	return out
}

func toolCallParams(raw []byte) (name string, arguments map[string]any) {
	var req struct {
		Params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"params"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", nil
	}
	return req.Params.Name, req.Params.Arguments
}

func responseError(env envelope) error {
	var rpcErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &rpcErr); err != nil {
		return fmt.Errorf("tool call failed")
	}
	return fmt.Errorf("%s", rpcErr.Message)
}
