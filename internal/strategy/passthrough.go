package strategy

import (
	"context"

	"github.com/vmcpmesh/gateway/internal/aggregator"
	"github.com/vmcpmesh/gateway/internal/outbound"
)

// Passthrough is the identity strategy: it exposes exactly the
// aggregator's deduplicated tool set and forwards calls unchanged
// (spec §4.G).
type Passthrough struct {
	agg Aggregator
}

// NewPassthrough builds a Passthrough strategy over agg.
func NewPassthrough(agg Aggregator) *Passthrough {
	return &Passthrough{agg: agg}
}

// Name identifies this strategy.
func (*Passthrough) Name() string { return "passthrough" }

// ListTools returns the aggregator's tools unchanged.
func (p *Passthrough) ListTools(ctx context.Context) ([]aggregator.Tool, error) {
	return p.agg.ListTools(ctx)
}

// CallTool forwards to the aggregator unchanged.
func (p *Passthrough) CallTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error) {
	return p.agg.CallTool(ctx, name, arguments)
}
