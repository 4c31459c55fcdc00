package sandbox

import (
	"context"
	"encoding/json"

	extism "github.com/extism/go-sdk"

	"github.com/vmcpmesh/gateway/pkg/logger"
)

// hostNamespace matches the import module name a compiled script
// expects its host capabilities under.
const hostNamespace = "vmcp:sandbox/host"

// callToolRequest/Response are the JSON shapes exchanged across the
// callTool host boundary; the guest marshals a request into its own
// memory and the host writes a response back (spec §4.H: "the tool
// table is the only capability").
type callToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// hostFunctions wires the four host imports a sandboxed script may
// use: callTool for calling an aggregated tool, and consoleLog,
// consoleWarn and consoleError for writing to the console. No
// other import is registered, so the guest cannot reach the network,
// the filesystem, environment variables, or timers (spec §4.H).
func hostFunctions(bridge *toolBridge, console *consoleBuffer) []extism.HostFunction {
	callTool := extism.NewHostFunctionWithStack(
		"callTool",
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			stack[0] = handleCallTool(p, bridge, stack[0])
		},
		[]extism.ValueType{extism.ValueTypePTR},
		[]extism.ValueType{extism.ValueTypePTR},
	)
	callTool.SetNamespace(hostNamespace)

	consoleLog := consoleHostFunction("consoleLog", "log", console)
	consoleWarn := consoleHostFunction("consoleWarn", "warn", console)
	consoleError := consoleHostFunction("consoleError", "error", console)

	return []extism.HostFunction{callTool, consoleLog, consoleWarn, consoleError}
}

func handleCallTool(p *extism.CurrentPlugin, bridge *toolBridge, inputOffset uint64) uint64 {
	raw, err := p.ReadBytes(inputOffset)
	if err != nil {
		return writeResponse(p, callToolResponse{Error: err.Error()})
	}

	var req callToolRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return writeResponse(p, callToolResponse{Error: "invalid call request: " + err.Error()})
	}

	result, err := bridge.caller(bridge.ctx, req.Name, req.Arguments)
	if err != nil {
		return writeResponse(p, callToolResponse{Error: err.Error()})
	}
	if result != nil && result.IsError {
		message := ""
		if len(result.Content) > 0 {
			message = result.Content[0].Text
		}
		return writeResponse(p, callToolResponse{Error: message})
	}

	return writeResponse(p, callToolResponse{Result: unwrapToolResult(result)})
}

func writeResponse(p *extism.CurrentPlugin, resp callToolResponse) uint64 {
	encoded, err := json.Marshal(resp)
	if err != nil {
		logger.Get().Error("sandbox: failed encoding host response", "error", err)
		return 0
	}
	offset, err := p.WriteBytes(encoded)
	if err != nil {
		logger.Get().Error("sandbox: failed writing host response", "error", err)
		return 0
	}
	return offset
}

func consoleHostFunction(name, level string, console *consoleBuffer) extism.HostFunction {
	fn := extism.NewHostFunctionWithStack(
		name,
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			message, err := p.ReadString(stack[0])
			if err != nil {
				return
			}
			console.add(level, message)
		},
		[]extism.ValueType{extism.ValueTypePTR},
		nil,
	)
	fn.SetNamespace(hostNamespace)
	return fn
}
