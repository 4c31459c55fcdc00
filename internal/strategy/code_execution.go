package strategy

import (
	"context"
	"time"

	"github.com/vmcpmesh/gateway/internal/aggregator"
	"github.com/vmcpmesh/gateway/internal/outbound"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

const (
	toolRunCode       = "CODE_EXECUTION_RUN_CODE"
	defaultRunTimeout = 3000 * time.Millisecond
	maxRunTimeout     = 5 * time.Minute
)

// ToolCaller lets a sandboxed script call back into the aggregated
// tool set without the sandbox importing internal/aggregator directly
// (spec §4.H).
type ToolCaller func(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error)

// ConsoleEntry is one captured console.log/warn/error line emitted by
// a sandboxed script (spec §4.H).
type ConsoleEntry struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CodeResult is the outcome of running a script through a CodeSandbox.
type CodeResult struct {
	ReturnValue any            `json:"returnValue,omitempty"`
	Error       string         `json:"error,omitempty"`
	ConsoleLogs []ConsoleEntry `json:"consoleLogs"`
}

// CodeSandbox executes untrusted script code in a bounded environment,
// routing its tool-call host function through caller (spec §4.H).
// Implemented by internal/sandbox; declared here so internal/strategy
// never imports internal/sandbox.
type CodeSandbox interface {
	Run(ctx context.Context, code string, caller ToolCaller) (*CodeResult, error)
}

// CodeExecution extends SmartSelection's meta-tools with
// CODE_EXECUTION_RUN_CODE, letting a client script call multiple
// aggregated tools in one round trip (spec §4.G).
type CodeExecution struct {
	*SmartSelection
	sandbox CodeSandbox
}

// NewCodeExecution builds a CodeExecution strategy over agg, running
// scripts in sandbox.
func NewCodeExecution(agg Aggregator, sandbox CodeSandbox) *CodeExecution {
	return &CodeExecution{SmartSelection: NewSmartSelection(agg), sandbox: sandbox}
}

// Name identifies this strategy.
func (*CodeExecution) Name() string { return "code_execution" }

// ListTools returns SmartSelection's meta-tools plus CODE_EXECUTION_RUN_CODE.
func (c *CodeExecution) ListTools(ctx context.Context) ([]aggregator.Tool, error) {
	tools, err := c.SmartSelection.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return append(tools, aggregator.Tool{ToolSchema: mesh.ToolSchema{
		Name:        toolRunCode,
		Description: "Run a script that can call aggregated tools and return a result.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code":      map[string]any{"type": "string"},
				"timeoutMs": map[string]any{"type": "integer", "default": int(defaultRunTimeout / time.Millisecond)},
			},
			"required": []string{"code"},
		},
	}}), nil
}

// CallTool dispatches CODE_EXECUTION_RUN_CODE to the sandbox and
// otherwise defers to SmartSelection's meta-tools.
func (c *CodeExecution) CallTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error) {
	if name != toolRunCode {
		return c.SmartSelection.CallTool(ctx, name, arguments)
	}
	return c.runCode(ctx, arguments)
}

func (c *CodeExecution) runCode(ctx context.Context, arguments map[string]any) (*outbound.ToolCallResult, error) {
	code, _ := arguments["code"].(string)
	if code == "" {
		return jsonErrorResult("code is required"), nil
	}

	timeout := defaultRunTimeout
	if v, ok := arguments["timeoutMs"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Millisecond
		if timeout > maxRunTimeout {
			timeout = maxRunTimeout
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caller := func(ctx context.Context, name string, args map[string]any) (*outbound.ToolCallResult, error) {
		return c.agg.CallTool(ctx, name, args)
	}

	result, err := c.sandbox.Run(runCtx, code, caller)
	if err != nil {
		if runCtx.Err() != nil {
			return jsonTextResult(&CodeResult{Error: "timeout"})
		}
		return jsonErrorResult(err.Error()), nil
	}
	return jsonTextResult(result)
}
