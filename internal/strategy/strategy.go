// Package strategy implements the three tool-selection strategies of
// spec §4.G, each rewriting the aggregator's exposed tool surface while
// sharing its resource/prompt passthrough.
package strategy

import (
	"context"
	"encoding/json"

	"github.com/vmcpmesh/gateway/internal/aggregator"
	"github.com/vmcpmesh/gateway/internal/outbound"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// Aggregator is the subset of internal/aggregator.DefaultAggregator a
// strategy drives.
type Aggregator interface {
	ListTools(ctx context.Context) ([]aggregator.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error)
	// Health returns the aggregator's current runtime health view of
	// connID (SPEC_FULL.md SUPPLEMENTED FEATURES #1).
	Health(connID string) mesh.BackendHealth
	// EffectiveStatus combines connID's persisted Connection.Status with
	// its observed runtime health.
	EffectiveStatus(connID string) mesh.ConnectionStatus
}

// Strategy rewrites the tool surface an MCP client sees. Resources and
// prompts always pass straight through the aggregator regardless of
// strategy (spec §4.G).
type Strategy interface {
	Name() string
	ListTools(ctx context.Context) ([]aggregator.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error)
}

// metaToolPrefixes are reserved for synthesized meta-tools and never
// matched by GATEWAY_SEARCH_TOOLS (spec §4.G).
var metaToolPrefixes = []string{"GATEWAY_", "CODE_EXECUTION_"}

func isMetaToolName(name string) bool {
	for _, p := range metaToolPrefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

// jsonTextResult wraps v as the single text/JSON content block every
// meta-tool returns on success (spec §4.G).
func jsonTextResult(v any) (*outbound.ToolCallResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	result := outbound.TextResult(string(raw))
	return &result, nil
}

// jsonErrorResult wraps message as the isError:true JSON content block a
// meta-tool returns on a validation failure (spec §4.G).
func jsonErrorResult(message string) *outbound.ToolCallResult {
	raw, _ := json.Marshal(map[string]string{"error": message})
	return &outbound.ToolCallResult{
		IsError: true,
		Content: []outbound.ContentBlock{{Type: "text", Text: string(raw)}},
	}
}
