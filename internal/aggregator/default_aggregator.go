package aggregator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vmcpmesh/gateway/internal/outbound"
	"github.com/vmcpmesh/gateway/pkg/errors"
	"github.com/vmcpmesh/gateway/pkg/logger"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

type toolsResult struct {
	items []Tool
	route map[string]string
}

type resourcesResult struct {
	items []ResourceEntry
	route map[string]string
}

type promptsResult struct {
	items []PromptEntry
	route map[string]string
}

// DefaultAggregator presents a list of children as one MCP client:
// lazy per-surface caches, first-wins dedup in child order, and
// selection-list filtering (spec §4.F).
type DefaultAggregator struct {
	children []Child
	mode     mesh.ToolSelectionMode

	tools     surfaceCache[toolsResult]
	resources surfaceCache[resourcesResult]
	templates surfaceCache[[]ResourceTemplateEntry]
	prompts   surfaceCache[promptsResult]

	resourcePatterns *mesh.ResourcePatternCache

	healthMu sync.Mutex
	health   map[string]mesh.BackendHealth
}

// NewDefaultAggregator builds an aggregator over children, using mode to
// interpret every child's selection lists (spec §3: one
// ToolSelectionMode governs the whole composition).
func NewDefaultAggregator(children []Child, mode mesh.ToolSelectionMode) *DefaultAggregator {
	return &DefaultAggregator{
		children:         children,
		mode:             mode,
		resourcePatterns: mesh.NewResourcePatternCache(),
		health:           make(map[string]mesh.BackendHealth, len(children)),
	}
}

// Health returns the aggregator's current runtime view of connID, the
// health classification observed on its most recent call — distinct
// from the persisted Connection.Status (SPEC_FULL.md SUPPLEMENTED
// FEATURES #1). BackendUnknown is returned for a connection no call has
// touched yet.
func (a *DefaultAggregator) Health(connID string) mesh.BackendHealth {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()
	if h, ok := a.health[connID]; ok {
		return h
	}
	return mesh.BackendUnknown
}

// EffectiveStatus reports connID's persisted Connection.Status combined
// with the aggregator's observed runtime health (spec §3's
// active|inactive|error model, narrowed by SPEC_FULL.md SUPPLEMENTED
// FEATURES #1's richer health view). Returns "" if connID isn't one of
// this aggregator's children.
func (a *DefaultAggregator) EffectiveStatus(connID string) mesh.ConnectionStatus {
	for _, child := range a.children {
		if child.Connection.ID == connID {
			return mesh.DeriveConnectionStatus(child.Connection.Status, a.Health(connID))
		}
	}
	return ""
}

// recordHealth classifies err (nil on success) and stores it as connID's
// current health. A method-not-found error means the child answered but
// doesn't implement that surface, which isn't a health signal either way
// and leaves any previously observed health untouched.
func (a *DefaultAggregator) recordHealth(connID string, err error) {
	if errors.Is(err, errors.ErrMethodNotFound) {
		return
	}
	a.healthMu.Lock()
	a.health[connID] = classifyHealth(err)
	a.healthMu.Unlock()
}

func classifyHealth(err error) mesh.BackendHealth {
	switch {
	case err == nil:
		return mesh.BackendHealthy
	case errors.Is(err, errors.ErrUnauthorized):
		return mesh.BackendUnauthenticated
	case errors.Is(err, errors.ErrStaleConnection), errors.Is(err, errors.ErrTransportClosed), errors.Is(err, errors.ErrTimeout):
		return mesh.BackendUnhealthy
	default:
		return mesh.BackendDegraded
	}
}

// ListTools returns the deduplicated, selection-filtered tool set.
func (a *DefaultAggregator) ListTools(ctx context.Context) ([]Tool, error) {
	r, err := a.tools.get(ctx, a.loadTools)
	if err != nil {
		return nil, err
	}
	return r.items, nil
}

// ListResources returns the deduplicated, selection-filtered resource set.
func (a *DefaultAggregator) ListResources(ctx context.Context) ([]ResourceEntry, error) {
	r, err := a.resources.get(ctx, a.loadResources)
	if err != nil {
		return nil, err
	}
	return r.items, nil
}

// ListResourceTemplates returns every child's resource templates,
// concatenated without deduplication (spec §4.F).
func (a *DefaultAggregator) ListResourceTemplates(ctx context.Context) ([]ResourceTemplateEntry, error) {
	return a.templates.get(ctx, a.loadTemplates)
}

// ListPrompts returns the deduplicated, selection-filtered prompt set.
func (a *DefaultAggregator) ListPrompts(ctx context.Context) ([]PromptEntry, error) {
	r, err := a.prompts.get(ctx, a.loadPrompts)
	if err != nil {
		return nil, err
	}
	return r.items, nil
}

// CallTool routes name to the child that won dedup for it. An unmapped
// name is not an error: it returns the isError:true content result the
// caller forwards verbatim (spec §4.F).
func (a *DefaultAggregator) CallTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error) {
	r, err := a.tools.get(ctx, a.loadTools)
	if err != nil {
		return nil, err
	}
	child, ok := a.routeChild(r.route, name)
	if !ok {
		result := outbound.TextError("Tool not found: " + name)
		return &result, nil
	}
	ctx = mesh.WithBackendHealth(ctx, a.Health(child.Connection.ID))
	result, err := child.Client.CallTool(ctx, name, arguments)
	a.recordHealth(child.Connection.ID, err)
	return result, err
}

// CallStreamableTool forwards to the child's stream if it supports one;
// otherwise falls back to a one-shot CallTool (spec §4.F). No transport
// in this build models incremental streaming
// (internal/outbound.Client.SupportsStreaming is always false), so this
// always takes the fallback branch today.
func (a *DefaultAggregator) CallStreamableTool(ctx context.Context, name string, arguments map[string]any) (*outbound.ToolCallResult, error) {
	return a.CallTool(ctx, name, arguments)
}

// ReadResource routes uri to its winning child, or returns a typed
// NotFound error when unmapped (spec §4.F — unlike callTool, this is a
// thrown error, not a content error).
func (a *DefaultAggregator) ReadResource(ctx context.Context, uri string) (*outbound.ReadResourceResult, error) {
	r, err := a.resources.get(ctx, a.loadResources)
	if err != nil {
		return nil, err
	}
	child, ok := a.routeChild(r.route, uri)
	if !ok {
		return nil, errors.NewError(errors.ErrNotFound, "resource not found: "+uri, nil)
	}
	ctx = mesh.WithBackendHealth(ctx, a.Health(child.Connection.ID))
	result, err := child.Client.ReadResource(ctx, uri)
	a.recordHealth(child.Connection.ID, err)
	return result, err
}

// GetPrompt routes name to its winning child, or returns a typed
// NotFound error when unmapped.
func (a *DefaultAggregator) GetPrompt(ctx context.Context, name string, arguments map[string]any) (*outbound.GetPromptResult, error) {
	r, err := a.prompts.get(ctx, a.loadPrompts)
	if err != nil {
		return nil, err
	}
	child, ok := a.routeChild(r.route, name)
	if !ok {
		return nil, errors.NewError(errors.ErrNotFound, "prompt not found: "+name, nil)
	}
	ctx = mesh.WithBackendHealth(ctx, a.Health(child.Connection.ID))
	result, err := child.Client.GetPrompt(ctx, name, arguments)
	a.recordHealth(child.Connection.ID, err)
	return result, err
}

// Close closes every child in parallel, ignoring individual errors
// (spec §4.F).
func (a *DefaultAggregator) Close() error {
	var wg sync.WaitGroup
	wg.Add(len(a.children))
	for _, child := range a.children {
		child := child
		go func() {
			defer wg.Done()
			_ = child.Client.Close()
		}()
	}
	wg.Wait()
	return nil
}

func (a *DefaultAggregator) routeChild(route map[string]string, key string) (Child, bool) {
	connID, ok := route[key]
	if !ok {
		return Child{}, false
	}
	for _, child := range a.children {
		if child.Connection.ID == connID {
			return child, true
		}
	}
	return Child{}, false
}

func (a *DefaultAggregator) loadTools(ctx context.Context) (toolsResult, error) {
	perChild := make([][]mesh.ToolSchema, len(a.children))
	var g errgroup.Group
	for i, child := range a.children {
		i, child := i, child
		g.Go(func() error {
			items, err := child.Client.ListTools(ctx)
			a.recordHealth(child.Connection.ID, err)
			if err != nil {
				logMissingSurface(err, child.Connection, "tools")
				return nil
			}
			perChild[i] = filterByKey(items, child.SelectedTools, a.mode, func(t mesh.ToolSchema) string { return t.Name })
			return nil
		})
	}
	_ = g.Wait()

	result := toolsResult{route: map[string]string{}}
	seen := map[string]bool{}
	for i, child := range a.children {
		for _, t := range perChild[i] {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			result.items = append(result.items, Tool{
				ToolSchema:      t,
				ConnectionID:    child.Connection.ID,
				ConnectionTitle: child.Connection.Title,
			})
			result.route[t.Name] = child.Connection.ID
		}
	}
	return result, nil
}

func (a *DefaultAggregator) loadResources(ctx context.Context) (resourcesResult, error) {
	perChild := make([][]outbound.Resource, len(a.children))
	var g errgroup.Group
	for i, child := range a.children {
		i, child := i, child
		g.Go(func() error {
			items, err := child.Client.ListResources(ctx)
			a.recordHealth(child.Connection.ID, err)
			if err != nil {
				logMissingSurface(err, child.Connection, "resources")
				return nil
			}
			filtered := make([]outbound.Resource, 0, len(items))
			for _, r := range items {
				if mesh.MatchesResourceListCached(r.URI, child.SelectedResources, a.mode, a.resourcePatterns) {
					filtered = append(filtered, r)
				}
			}
			perChild[i] = filtered
			return nil
		})
	}
	_ = g.Wait()

	result := resourcesResult{route: map[string]string{}}
	seen := map[string]bool{}
	for i, child := range a.children {
		for _, r := range perChild[i] {
			if seen[r.URI] {
				continue
			}
			seen[r.URI] = true
			result.items = append(result.items, ResourceEntry{Resource: r, ConnectionID: child.Connection.ID})
			result.route[r.URI] = child.Connection.ID
		}
	}
	return result, nil
}

// loadTemplates concatenates every child's resource templates without
// deduplication or selection filtering: spec §4.F's selection algorithm
// names only tools, prompts, and resources.
func (a *DefaultAggregator) loadTemplates(ctx context.Context) ([]ResourceTemplateEntry, error) {
	perChild := make([][]outbound.ResourceTemplate, len(a.children))
	var g errgroup.Group
	for i, child := range a.children {
		i, child := i, child
		g.Go(func() error {
			items, err := child.Client.ListResourceTemplates(ctx)
			a.recordHealth(child.Connection.ID, err)
			if err != nil {
				logMissingSurface(err, child.Connection, "resource templates")
				return nil
			}
			perChild[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var out []ResourceTemplateEntry
	for i, child := range a.children {
		for _, t := range perChild[i] {
			out = append(out, ResourceTemplateEntry{ResourceTemplate: t, ConnectionID: child.Connection.ID})
		}
	}
	return out, nil
}

func (a *DefaultAggregator) loadPrompts(ctx context.Context) (promptsResult, error) {
	perChild := make([][]outbound.Prompt, len(a.children))
	var g errgroup.Group
	for i, child := range a.children {
		i, child := i, child
		g.Go(func() error {
			items, err := child.Client.ListPrompts(ctx)
			a.recordHealth(child.Connection.ID, err)
			if err != nil {
				logMissingSurface(err, child.Connection, "prompts")
				return nil
			}
			perChild[i] = filterByKey(items, child.SelectedPrompts, a.mode, func(p outbound.Prompt) string { return p.Name })
			return nil
		})
	}
	_ = g.Wait()

	result := promptsResult{route: map[string]string{}}
	seen := map[string]bool{}
	for i, child := range a.children {
		for _, p := range perChild[i] {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			result.items = append(result.items, PromptEntry{Prompt: p, ConnectionID: child.Connection.ID})
			result.route[p.Name] = child.Connection.ID
		}
	}
	return result, nil
}

// filterByKey applies mesh.MatchesNameList to each item under mode,
// keeping only those the selection list admits.
func filterByKey[T any](items []T, selected []string, mode mesh.ToolSelectionMode, key func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if mesh.MatchesNameList(key(it), selected, mode) {
			out = append(out, it)
		}
	}
	return out
}

// logMissingSurface logs a non-MethodNotFound surface-load failure.
// MethodNotFound is expected (not every child implements every surface)
// and treated as silently empty (spec §4.F).
func logMissingSurface(err error, conn *mesh.Connection, surface string) {
	if errors.Is(err, errors.ErrMethodNotFound) {
		return
	}
	logger.Get().Warn("aggregator surface load failed",
		"surface", surface, "connection_id", conn.ID, "error", err)
}
