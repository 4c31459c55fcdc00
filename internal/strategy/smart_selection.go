package strategy

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/vmcpmesh/gateway/internal/aggregator"
	"github.com/vmcpmesh/gateway/internal/outbound"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

const (
	toolSearchTools      = "GATEWAY_SEARCH_TOOLS"
	toolDescribeTools    = "GATEWAY_DESCRIBE_TOOLS"
	toolCallTool         = "GATEWAY_CALL_TOOL"
	toolListConnections  = "GATEWAY_LIST_CONNECTIONS"
	defaultSearchLimit   = 10
	defaultSearchTermLen = 2
)

var searchTokenPattern = regexp.MustCompile(`[\s_\-./]+`)

// SmartSelection replaces the aggregator's raw tool surface with four
// meta-tools: search, describe, call, and (supplemented) list-
// connections (spec §4.G; GATEWAY_LIST_CONNECTIONS per SPEC_FULL.md
// SUPPLEMENTED FEATURES #2).
type SmartSelection struct {
	agg Aggregator

	schemas schemaCache
}

// NewSmartSelection builds a SmartSelection strategy over agg.
func NewSmartSelection(agg Aggregator) *SmartSelection {
	return &SmartSelection{agg: agg}
}

// Name identifies this strategy.
func (*SmartSelection) Name() string { return "smart_selection" }

// ListTools returns the four meta-tool schemas, never the raw
// aggregated tools.
func (s *SmartSelection) ListTools(ctx context.Context) ([]aggregator.Tool, error) {
	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return s.metaTools(tools), nil
}

func (s *SmartSelection) metaTools(tools []aggregator.Tool) []aggregator.Tool {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}

	return []aggregator.Tool{
		{ToolSchema: toolSchema(toolSearchTools,
			"Search the aggregated tool set by keyword.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer", "default": defaultSearchLimit},
				},
			})},
		{ToolSchema: toolSchema(toolDescribeTools,
			"Describe one or more tools by name.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"names": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"names"},
			})},
		{ToolSchema: toolSchema(toolCallTool,
			"Call a tool from the aggregated set by name.",
			s.schemas.enumSchemaFor(names))},
		{ToolSchema: toolSchema(toolListConnections,
			"List the connections contributing to the aggregated tool set.",
			map[string]any{"type": "object", "properties": map[string]any{}})},
	}
}

// CallTool dispatches to one of the four meta-tools; any other name is
// unknown under this strategy.
func (s *SmartSelection) CallTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error) {
	switch name {
	case toolSearchTools:
		return s.searchTools(ctx, arguments)
	case toolDescribeTools:
		return s.describeTools(ctx, arguments)
	case toolCallTool:
		return s.callTool(ctx, arguments)
	case toolListConnections:
		return s.listConnections(ctx)
	default:
		result := outbound.TextError("Tool not found: " + name)
		return &result, nil
	}
}

func (s *SmartSelection) searchTools(ctx context.Context, arguments map[string]any) (*outbound.ToolCallResult, error) {
	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	query, _ := arguments["query"].(string)
	limit := defaultSearchLimit
	if v, ok := arguments["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	candidates := make([]aggregator.Tool, 0, len(tools))
	for _, t := range tools {
		if !isMetaToolName(t.Name) {
			candidates = append(candidates, t)
		}
	}

	matched := rankTools(candidates, query, limit)
	return jsonTextResult(map[string]any{"tools": matched})
}

func rankTools(candidates []aggregator.Tool, query string, limit int) []aggregator.Tool {
	if strings.TrimSpace(query) == "" {
		if len(candidates) > limit {
			return candidates[:limit]
		}
		return candidates
	}

	terms := tokenizeQuery(query)
	type scoredTool struct {
		tool  aggregator.Tool
		score int
	}
	scored := make([]scoredTool, 0, len(candidates))
	for _, t := range candidates {
		nameLower := strings.ToLower(t.Name)
		descLower := strings.ToLower(t.Description)
		titleLower := strings.ToLower(t.ConnectionTitle)

		score := 0
		for _, term := range terms {
			if nameLower == term {
				score += 10
			}
			if strings.Contains(nameLower, term) {
				score += 3
			}
			if strings.Contains(descLower, term) {
				score += 2
			}
			if strings.Contains(titleLower, term) {
				score += 1
			}
		}
		if score > 0 {
			scored = append(scored, scoredTool{tool: t, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]aggregator.Tool, len(scored))
	for i, st := range scored {
		out[i] = st.tool
	}
	return out
}

func tokenizeQuery(query string) []string {
	parts := searchTokenPattern.Split(strings.ToLower(query), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) >= defaultSearchTermLen {
			out = append(out, p)
		}
	}
	return out
}

type describedTool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Connection   string         `json:"connection,omitempty"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

func (s *SmartSelection) describeTools(ctx context.Context, arguments map[string]any) (*outbound.ToolCallResult, error) {
	rawNames, _ := arguments["names"].([]any)
	wanted := make([]string, 0, len(rawNames))
	for _, n := range rawNames {
		if s, ok := n.(string); ok {
			wanted = append(wanted, s)
		}
	}

	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]aggregator.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	described := make([]describedTool, 0, len(wanted))
	var notFound []string
	for _, name := range wanted {
		t, ok := byName[name]
		if !ok {
			notFound = append(notFound, name)
			continue
		}
		described = append(described, describedTool{
			Name:         t.Name,
			Description:  t.Description,
			Connection:   t.ConnectionTitle,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
		})
	}

	return jsonTextResult(map[string]any{"tools": described, "notFound": notFound})
}

func (s *SmartSelection) callTool(ctx context.Context, arguments map[string]any) (*outbound.ToolCallResult, error) {
	name, _ := arguments["name"].(string)
	callArgs, _ := arguments["arguments"].(map[string]any)

	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	known := false
	for _, t := range tools {
		if t.Name == name {
			known = true
			break
		}
	}
	if !known {
		return jsonErrorResult("unknown tool: " + name), nil
	}
	return s.agg.CallTool(ctx, name, callArgs)
}

func (s *SmartSelection) listConnections(ctx context.Context) (*outbound.ToolCallResult, error) {
	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	type connectionSummary struct {
		ID        string                `json:"id"`
		Title     string                `json:"title"`
		ToolCount int                   `json:"toolCount"`
		Health    mesh.BackendHealth    `json:"health"`
		Status    mesh.ConnectionStatus `json:"status"`
	}

	summaries := map[string]*connectionSummary{}
	var order []string
	for _, t := range tools {
		cs, ok := summaries[t.ConnectionID]
		if !ok {
			cs = &connectionSummary{
				ID:        t.ConnectionID,
				Title:     t.ConnectionTitle,
				Health:    s.agg.Health(t.ConnectionID),
				Status:    s.agg.EffectiveStatus(t.ConnectionID),
			}
			summaries[t.ConnectionID] = cs
			order = append(order, t.ConnectionID)
		}
		cs.ToolCount++
	}

	out := make([]connectionSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *summaries[id])
	}
	return jsonTextResult(map[string]any{"connections": out})
}

// schemaCache memoizes GATEWAY_CALL_TOOL's name-enum input schema,
// keyed by the sorted tool-name signature, so it is rebuilt only when
// the known tool set actually changes (spec §4.G).
type schemaCache struct {
	mu    sync.Mutex
	key   string
	value map[string]any
}

func (c *schemaCache) enumSchemaFor(names []string) map[string]any {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	key := strings.Join(sorted, "\x00")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value != nil && c.key == key {
		return c.value
	}

	enum := make([]any, len(sorted))
	for i, n := range sorted {
		enum[i] = n
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":      map[string]any{"type": "string", "enum": enum},
			"arguments": map[string]any{"type": "object"},
		},
		"required": []string{"name"},
	}
	c.key = key
	c.value = schema
	return schema
}

func toolSchema(name, description string, inputSchema map[string]any) mesh.ToolSchema {
	return mesh.ToolSchema{Name: name, Description: description, InputSchema: inputSchema}
}
