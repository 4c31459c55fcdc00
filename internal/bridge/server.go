package bridge

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vmcpmesh/gateway/internal/aggregator"
	"github.com/vmcpmesh/gateway/internal/outbound"
	"github.com/vmcpmesh/gateway/internal/strategy"
	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/errors"
)

// These three method names are not attested as mcp-go constants
// anywhere in the retrieval pack, so they are written as the literal
// JSON-RPC strings, matching internal/outbound/client.go's resolution
// of the same gap.
const (
	methodResourcesTemplatesList = "resources/templates/list"
	methodResourcesRead          = "resources/read"
	methodPromptsGet             = "prompts/get"
	methodInitialize             = "initialize"
)

const (
	jsonrpcMethodNotFound = -32601
	jsonrpcInternalError  = -32603
)

// resourcePromptSource is the subset of internal/aggregator.DefaultAggregator
// the bridge server passes resources/prompts straight through to — a
// strategy only ever rewrites the tool surface (spec §4.G).
type resourcePromptSource interface {
	ListResources(ctx context.Context) ([]aggregator.ResourceEntry, error)
	ListResourceTemplates(ctx context.Context) ([]aggregator.ResourceTemplateEntry, error)
	ListPrompts(ctx context.Context) ([]aggregator.PromptEntry, error)
	ReadResource(ctx context.Context, uri string) (*outbound.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]any) (*outbound.GetPromptResult, error)
}

type jsonrpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcErr     `json:"error,omitempty"`
}

type jsonrpcErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// server answers the four MCP surfaces over one memoryTransport half,
// rewriting tools through strat and passing resources/prompts straight
// through resources (spec §4.G, §4.I).
type server struct {
	strat        strategy.Strategy
	resources    resourcePromptSource
	instructions string
}

func newServer(strat strategy.Strategy, resources resourcePromptSource, instructions string) *server {
	return &server{strat: strat, resources: resources, instructions: instructions}
}

func (s *server) serve(ctx context.Context, t transport.Transport) error {
	t.OnReceive(func(msg transport.Message) {
		s.handle(ctx, t, msg)
	})
	return t.Start(ctx)
}

func (s *server) handle(ctx context.Context, t transport.Transport, msg transport.Message) {
	var req jsonrpcRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}
	if len(req.ID) == 0 {
		return
	}

	result, err := s.dispatch(ctx, req.Method, req.Params)
	resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = &jsonrpcErr{Code: jsonrpcCode(err), Message: err.Error()}
	} else {
		resp.Result = result
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = t.Send(ctx, encoded)
}

func jsonrpcCode(err error) int {
	if errors.Is(err, errors.ErrMethodNotFound) || errors.Is(err, errors.ErrNotFound) {
		return jsonrpcMethodNotFound
	}
	return jsonrpcInternalError
}

func (s *server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case methodInitialize:
		return map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": "vmcp-bridge", "version": "1"},
			"instructions":    s.instructions,
		}, nil

	case string(mcp.MethodToolsList):
		tools, err := s.strat.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tools": tools}, nil

	case string(mcp.MethodToolsCall):
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errors.NewError(errors.ErrInvalidArgument, "invalid tools/call params", err)
		}
		return s.strat.CallTool(ctx, p.Name, p.Arguments)

	case string(mcp.MethodResourcesList):
		resources, err := s.resources.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"resources": resources}, nil

	case methodResourcesTemplatesList:
		templates, err := s.resources.ListResourceTemplates(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"resourceTemplates": templates}, nil

	case methodResourcesRead:
		var p struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errors.NewError(errors.ErrInvalidArgument, "invalid resources/read params", err)
		}
		return s.resources.ReadResource(ctx, p.URI)

	case string(mcp.MethodPromptsList):
		prompts, err := s.resources.ListPrompts(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"prompts": prompts}, nil

	case methodPromptsGet:
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errors.NewError(errors.ErrInvalidArgument, "invalid prompts/get params", err)
		}
		return s.resources.GetPrompt(ctx, p.Name, p.Arguments)

	default:
		return nil, errors.NewError(errors.ErrMethodNotFound, "method not found: "+method, nil)
	}
}
