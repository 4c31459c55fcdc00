// Package sandbox runs untrusted scripts in a bounded WASM environment,
// exposing one capability back to the host, calling an aggregated tool,
// plus console output captured into the run's result (spec §4.H).
package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/vmcpmesh/gateway/internal/strategy"
	"github.com/vmcpmesh/gateway/pkg/logger"
)

// entryFunction is the exported WASM function every compiled script is
// expected to provide.
const entryFunction = "run"

// Sandbox runs a script (a base64-encoded WASM module, compiled
// offline from the caller's ES-module-shaped source) against a tool
// table, bounded by the caller's context deadline. It implements
// strategy.CodeSandbox.
type Sandbox struct{}

// New builds a Sandbox. There is no shared state between runs: every
// call to Run spins up its own extism plugin instance so one script
// can never see another's console buffer or host-call state.
func New() *Sandbox {
	return &Sandbox{}
}

// Run decodes code as a base64-encoded WASM module and executes its
// run export, bridging tool calls through caller and capturing console
// output. Exceeding ctx's deadline yields {error: "timeout"} (spec §4.H).
func (s *Sandbox) Run(ctx context.Context, code string, caller strategy.ToolCaller) (*strategy.CodeResult, error) {
	wasmBytes, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("decoding wasm module: %w", err)
	}

	console := &consoleBuffer{}
	bridge := &toolBridge{ctx: ctx, caller: caller}

	manifest := extism.Manifest{
		Wasm: []extism.Wasm{extism.WasmData{Data: wasmBytes}},
	}
	config := extism.PluginConfig{
		EnableWasi: false,
	}

	plugin, err := extism.NewPlugin(ctx, manifest, config, hostFunctions(bridge, console))
	if err != nil {
		return nil, fmt.Errorf("instantiating sandbox: %w", err)
	}
	defer func() {
		if cerr := plugin.Close(ctx); cerr != nil {
			logger.Get().Warn("sandbox plugin close failed", "error", cerr)
		}
	}()

	_, output, err := plugin.Call(entryFunction, nil)
	if err != nil {
		if ctx.Err() != nil {
			return &strategy.CodeResult{Error: "timeout", ConsoleLogs: console.entries()}, nil
		}
		return &strategy.CodeResult{Error: err.Error(), ConsoleLogs: console.entries()}, nil
	}

	var returnValue any
	if len(output) > 0 {
		if err := json.Unmarshal(output, &returnValue); err != nil {
			returnValue = string(output)
		}
	}
	return &strategy.CodeResult{ReturnValue: returnValue, ConsoleLogs: console.entries()}, nil
}

// consoleBuffer accumulates console.log/warn/error entries emitted by
// the running script's host calls. Scripts run single-threaded inside
// one plugin instance, but the mutex keeps this safe against any
// future concurrent host-function dispatch.
type consoleBuffer struct {
	mu   sync.Mutex
	logs []strategy.ConsoleEntry
}

func (c *consoleBuffer) add(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, strategy.ConsoleEntry{Type: level, Content: message})
}

func (c *consoleBuffer) entries() []strategy.ConsoleEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logs == nil {
		return []strategy.ConsoleEntry{}
	}
	return c.logs
}

// toolBridge carries the context and callback a running script's
// callTool host function dispatches through.
type toolBridge struct {
	ctx    context.Context
	caller strategy.ToolCaller
}
