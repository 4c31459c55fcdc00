// Package aggregator implements the passthrough aggregation of
// §4.F: one virtual MCP presented as a single client over many
// children, with lazy per-surface caching, first-wins dedup, and
// selection-list filtering.
package aggregator

import (
	"context"

	"github.com/vmcpmesh/gateway/internal/outbound"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// ChildClient is the subset of outbound.Client the aggregator drives.
// Kept as an interface so tests can substitute a fake without standing
// up a real transport.
type ChildClient interface {
	ListTools(ctx context.Context) ([]mesh.ToolSchema, error)
	ListResources(ctx context.Context) ([]outbound.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]outbound.ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]outbound.Prompt, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error)
	ReadResource(ctx context.Context, uri string) (*outbound.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]any) (*outbound.GetPromptResult, error)
	Close() error
}

// Child is one connection composed into the aggregator, carrying its
// own selection lists (spec §3 VirtualMCPChild).
type Child struct {
	Client            ChildClient
	Connection        *mesh.Connection
	SelectedTools     []string
	SelectedResources []string
	SelectedPrompts   []string
}

// Tool is a deduplicated tool entry with its winning origin connection.
type Tool struct {
	mesh.ToolSchema
	ConnectionID    string
	ConnectionTitle string
}

// ResourceEntry is a deduplicated resource entry with its origin.
type ResourceEntry struct {
	outbound.Resource
	ConnectionID string
}

// ResourceTemplateEntry is a resource template entry (never
// deduplicated, spec §4.F).
type ResourceTemplateEntry struct {
	outbound.ResourceTemplate
	ConnectionID string
}

// PromptEntry is a deduplicated prompt entry with its origin.
type PromptEntry struct {
	outbound.Prompt
	ConnectionID string
}
