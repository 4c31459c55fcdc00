// Package outbound builds the pooled MCP client for one Connection:
// pick the transport from connection_type, wrap it with
// AuthTransport -> MonitoringTransport, and multiplex JSON-RPC requests
// over the result (spec §4.A, §4.E).
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/errors"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// Client is a single child's MCP client: a JSON-RPC request/response
// multiplexer over one (possibly middleware-wrapped) Transport. It
// satisfies internal/clientpool.Client and internal/clientpool.CloseObserver,
// and is the concrete type the aggregator (spec §4.F) calls "c.client".
type Client struct {
	t transport.Transport

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]chan rpcResponse
	closed  bool

	closeMu       sync.Mutex
	closeHandlers []func(error)

	errMu   sync.Mutex
	onError func(error)
}

type rpcResponse struct {
	Result json.RawMessage
	Err    error
}

// NewClient wraps t as a JSON-RPC client and starts dispatching incoming
// messages. t must not already have an OnReceive/OnClose handler
// installed by the caller; Client installs its own.
func NewClient(ctx context.Context, t transport.Transport) (*Client, error) {
	c := &Client{t: t, pending: make(map[string]chan rpcResponse)}
	t.OnReceive(c.handleReceive)
	t.OnClose(c.handleClose)

	if err := t.Start(ctx); err != nil {
		return nil, errors.NewError(errors.ErrInternal, "start transport", err)
	}
	return c, nil
}

// OnClose registers fn to run when the underlying transport terminates,
// satisfying internal/clientpool.CloseObserver.
func (c *Client) OnClose(fn func(error)) {
	c.closeMu.Lock()
	c.closeHandlers = append(c.closeHandlers, fn)
	c.closeMu.Unlock()
}

// SetErrorObserver installs fn to be called whenever a request-level
// send fails, even though the transport never closed itself. The pool
// that dialed this client wires this to clientpool.Pool.NotifyError so
// a connection failing with one of spec §4.C's stale-error substrings
// is evicted instead of being handed out again.
func (c *Client) SetErrorObserver(fn func(error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

func (c *Client) notifyError(err error) {
	c.errMu.Lock()
	fn := c.onError
	c.errMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan rpcResponse)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- rpcResponse{Err: transport.ErrTransportClosed}
	}

	c.closeMu.Lock()
	handlers := c.closeHandlers
	c.closeMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (c *Client) handleReceive(msg transport.Message) {
	var env struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil || len(env.ID) == 0 {
		return
	}
	var id string
	if err := json.Unmarshal(env.ID, &id); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if env.Error != nil {
		ch <- rpcResponse{Err: jsonrpcError(env.Error.Code, env.Error.Message)}
		return
	}
	ch <- rpcResponse{Result: env.Result}
}

// jsonRPCMethodNotFound is the reserved JSON-RPC 2.0 error code for an
// unrecognized method.
const jsonRPCMethodNotFound = -32601

func jsonrpcError(code int, message string) error {
	if code == jsonRPCMethodNotFound {
		return errors.NewError(errors.ErrMethodNotFound, message, nil)
	}
	return errors.NewError(errors.ErrInternal, message, nil)
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.t.Close()
}

// SupportsStreaming reports whether this child can serve
// callStreamableTool as an incremental stream. None of the four
// concrete transports model partial/chunked tool responses today, so
// CallStreamableTool always takes the one-shot fallback branch of
// spec §4.F.
func (c *Client) SupportsStreaming() bool {
	return false
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := fmt.Sprintf("%d", c.nextID.Add(1))

	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      string `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	raw, err := json.Marshal(req)
	if err != nil {
		return errors.NewError(errors.ErrInternal, "marshal request", err)
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrTransportClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.t.Send(ctx, raw); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.notifyError(err)
		return err
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return resp.Err
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errors.NewError(errors.ErrInternal, "unmarshal result", err)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// ListTools lists the child's tools.
func (c *Client) ListTools(ctx context.Context) ([]mesh.ToolSchema, error) {
	var result toolsListResult
	if err := c.call(ctx, string(mcp.MethodToolsList), nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListResources lists the child's resources.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var result resourcesListResult
	if err := c.call(ctx, string(mcp.MethodResourcesList), nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListResourceTemplates lists the child's resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	var result resourceTemplatesListResult
	if err := c.call(ctx, methodResourcesTemplatesList, nil, &result); err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

// ListPrompts lists the child's prompts.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var result promptsListResult
	if err := c.call(ctx, string(mcp.MethodPromptsList), nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// CallTool invokes name with arguments unchanged.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := map[string]any{"name": name, "arguments": arguments}
	var result ToolCallResult
	if err := c.call(ctx, string(mcp.MethodToolsCall), params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource reads uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	params := map[string]any{"uri": uri}
	var result ReadResourceResult
	if err := c.call(ctx, methodResourcesRead, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt resolves name with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]any) (*GetPromptResult, error) {
	params := map[string]any{"name": name, "arguments": arguments}
	var result GetPromptResult
	if err := c.call(ctx, methodPromptsGet, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// methodResourcesTemplatesList, methodResourcesRead and methodPromptsGet
// are the remaining MCP JSON-RPC method names (spec §6.1). The pack's
// retrieved mark3labs/mcp-go source only confirms MethodToolsList,
// MethodToolsCall, MethodResourcesList and MethodPromptsList as literal
// constants (see pkg/authz/middleware_test.go in the teacher repo), so
// these three are written as the literal wire strings rather than
// guessed at an unseen constant name.
const (
	methodResourcesTemplatesList = "resources/templates/list"
	methodResourcesRead          = "resources/read"
	methodPromptsGet             = "prompts/get"
)
