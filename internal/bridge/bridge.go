// Package bridge resolves a VirtualMCP id into a live, in-process MCP
// server and wires it back in as a dialable connection, so a VIRTUAL
// connection composes exactly like any downstream backend (spec §4.I).
package bridge

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vmcpmesh/gateway/internal/aggregator"
	"github.com/vmcpmesh/gateway/internal/clientpool"
	"github.com/vmcpmesh/gateway/internal/middleware"
	"github.com/vmcpmesh/gateway/internal/monitoring"
	"github.com/vmcpmesh/gateway/internal/outbound"
	"github.com/vmcpmesh/gateway/internal/strategy"
	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/errors"
	"github.com/vmcpmesh/gateway/pkg/logger"
	"github.com/vmcpmesh/gateway/pkg/mesh"
	"github.com/vmcpmesh/gateway/pkg/meshconfig"
)

// StrategyBuilder selects and constructs the tool-selection strategy a
// resolved VirtualMCP exposes (spec §4.G). Kept as an injected function
// so this package never has to choose — or import — a concrete
// strategy/sandbox pairing itself.
type StrategyBuilder func(agg strategy.Aggregator, vmcp *mesh.VirtualMCP) strategy.Strategy

type visitedKey struct{}

// Bridge implements outbound.VirtualDialer, turning a VIRTUAL
// connection's ConnectionURL (a VirtualMCP id) into a running
// in-memory MCP server paired with the client half handed back to the
// caller.
type Bridge struct {
	storage        mesh.Storage
	cfg            *meshconfig.Config
	headerBuilder  middleware.HeaderBuilder
	sink           monitoring.Sink
	perRequestPool *clientpool.Pool
	stdioPool      *clientpool.Pool
	buildStrategy  StrategyBuilder

	// dialFn defaults to b.dialChild; tests substitute a fake to avoid
	// exercising the real transport stack.
	dialFn func(ctx context.Context, conn *mesh.Connection, virtualMCPID string) (aggregator.ChildClient, error)
}

// New builds a Bridge. Two pools are expected at the call site (spec
// §4.C): stdioPool is a process-wide singleton shared across every
// dial, since a STDIO child process must outlive any one request;
// perRequestPool is scoped to one top-level Dial, since header
// freshness matters more than reuse for HTTP-family/virtual children.
func New(
	storage mesh.Storage,
	cfg *meshconfig.Config,
	headerBuilder middleware.HeaderBuilder,
	sink monitoring.Sink,
	perRequestPool *clientpool.Pool,
	stdioPool *clientpool.Pool,
	buildStrategy StrategyBuilder,
) *Bridge {
	b := &Bridge{
		storage:        storage,
		cfg:            cfg,
		headerBuilder:  headerBuilder,
		sink:           sink,
		perRequestPool: perRequestPool,
		stdioPool:      stdioPool,
		buildStrategy:  buildStrategy,
	}
	b.dialFn = b.dialChild
	return b
}

// Dial implements outbound.VirtualDialer.
func (b *Bridge) Dial(ctx context.Context, conn *mesh.Connection) (transport.Transport, error) {
	vmcpID := conn.VirtualMCPTargetID()

	visited, _ := ctx.Value(visitedKey{}).(map[string]bool)
	if visited[vmcpID] {
		return nil, errors.NewError(errors.ErrInvalidArgument, "self-referencing virtual mcp: "+vmcpID, nil)
	}
	ctx = context.WithValue(ctx, visitedKey{}, withVisited(visited, vmcpID))

	vmcp, err := b.storage.VirtualMCPs().FindByID(ctx, vmcpID, conn.OrganizationID)
	if err != nil {
		return nil, err
	}

	children, err := b.resolveChildren(ctx, vmcp)
	if err != nil {
		return nil, err
	}

	agg := aggregator.NewDefaultAggregator(children, vmcp.ToolSelectionMode)
	strat := b.buildStrategy(agg, vmcp)

	clientSide, serverSide := newMemoryPair()
	srv := newServer(strat, agg, vmcp.Instructions())
	if err := srv.serve(ctx, serverSide); err != nil {
		return nil, err
	}
	if err := clientSide.Start(ctx); err != nil {
		_ = serverSide.Close()
		return nil, err
	}
	return clientSide, nil
}

func withVisited(visited map[string]bool, id string) map[string]bool {
	out := make(map[string]bool, len(visited)+1)
	for k, v := range visited {
		out[k] = v
	}
	out[id] = true
	return out
}

func (b *Bridge) resolveChildren(ctx context.Context, vmcp *mesh.VirtualMCP) ([]aggregator.Child, error) {
	if vmcp.ToolSelectionMode == mesh.SelectionExclusion {
		return b.resolveExclusionChildren(ctx, vmcp)
	}
	return b.resolveInclusionChildren(ctx, vmcp)
}

// resolveInclusionChildren builds exactly the named children, each
// carrying its own selected_* inclusion lists for the aggregator to
// filter by (spec §3, §4.F).
func (b *Bridge) resolveInclusionChildren(ctx context.Context, vmcp *mesh.VirtualMCP) ([]aggregator.Child, error) {
	slots := make([]aggregator.Child, len(vmcp.Connections))
	g, gctx := errgroup.WithContext(ctx)
	for i, vc := range vmcp.Connections {
		i, vc := i, vc
		g.Go(func() error {
			conn, err := b.storage.Connections().FindByID(gctx, vc.ConnectionID)
			if err != nil {
				logger.Get().Warn("bridge: child connection lookup failed", "connection_id", vc.ConnectionID, "error", err)
				return nil
			}
			if conn.Status != mesh.StatusActive || isSelfReference(gctx, conn, vmcp.ID) {
				return nil
			}
			client, err := b.dialFn(gctx, conn, vmcp.ID)
			if err != nil {
				logger.Get().Warn("bridge: dialing child failed", "connection_id", conn.ID, "error", err)
				return nil
			}
			slots[i] = aggregator.Child{
				Client:            client,
				Connection:        conn,
				SelectedTools:     vc.SelectedTools,
				SelectedResources: vc.SelectedResources,
				SelectedPrompts:   vc.SelectedPrompts,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compactChildren(slots), nil
}

// resolveExclusionChildren implements spec §4.I's exclusion-mode child
// list: every active org connection is included unless the VirtualMCP
// names it with every selected_* list empty, in which case it is
// dropped outright; a named connection otherwise carries its exclusion
// lists through to the aggregator's exclusion-mode filter.
func (b *Bridge) resolveExclusionChildren(ctx context.Context, vmcp *mesh.VirtualMCP) ([]aggregator.Child, error) {
	all, err := b.storage.Connections().List(ctx, vmcp.OrganizationID)
	if err != nil {
		return nil, err
	}

	named := make(map[string]mesh.VirtualMCPChild, len(vmcp.Connections))
	for _, vc := range vmcp.Connections {
		named[vc.ConnectionID] = vc
	}

	slots := make([]aggregator.Child, len(all))
	g, gctx := errgroup.WithContext(ctx)
	for i := range all {
		i := i
		conn := all[i]
		g.Go(func() error {
			if conn.Status != mesh.StatusActive || isSelfReference(gctx, &conn, vmcp.ID) {
				return nil
			}

			vc, isNamed := named[conn.ID]
			if isNamed && allSelectedEmpty(vc) {
				return nil
			}

			client, err := b.dialFn(gctx, &conn, vmcp.ID)
			if err != nil {
				logger.Get().Warn("bridge: dialing child failed", "connection_id", conn.ID, "error", err)
				return nil
			}

			child := aggregator.Child{Client: client, Connection: &conn}
			if isNamed {
				child.SelectedTools = vc.SelectedTools
				child.SelectedResources = vc.SelectedResources
				child.SelectedPrompts = vc.SelectedPrompts
			}
			slots[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compactChildren(slots), nil
}

func allSelectedEmpty(vc mesh.VirtualMCPChild) bool {
	return len(vc.SelectedTools) == 0 && len(vc.SelectedResources) == 0 && len(vc.SelectedPrompts) == 0
}

// isSelfReference reports whether conn would reintroduce a VirtualMCP
// already being resolved in this Dial chain — either the one currently
// resolving or an ancestor further up a nested-virtual chain.
func isSelfReference(ctx context.Context, conn *mesh.Connection, currentVMCPID string) bool {
	if conn.ConnectionType != mesh.ConnectionVirtual {
		return false
	}
	target := conn.VirtualMCPTargetID()
	if target == currentVMCPID {
		return true
	}
	visited, _ := ctx.Value(visitedKey{}).(map[string]bool)
	return visited[target]
}

func compactChildren(slots []aggregator.Child) []aggregator.Child {
	out := make([]aggregator.Child, 0, len(slots))
	for _, c := range slots {
		if c.Client != nil {
			out = append(out, c)
		}
	}
	return out
}

func (b *Bridge) dialChild(ctx context.Context, conn *mesh.Connection, virtualMCPID string) (aggregator.ChildClient, error) {
	factory := outbound.NewFactory(conn, b.cfg, b.headerBuilder, b.sink, virtualMCPID, b)
	key := string(conn.ConnectionType) + ":" + conn.ID

	pool := b.perRequestPool
	if outbound.PoolKindFor(conn.ConnectionType) == outbound.PoolStdioSingleton {
		pool = b.stdioPool
	}

	c, err := pool.GetOrCreate(ctx, key, factory)
	if err != nil {
		return nil, err
	}
	client, ok := c.(aggregator.ChildClient)
	if !ok {
		return nil, errors.NewError(errors.ErrInternal, "dialed child missing aggregator client surface", nil)
	}

	// A send error doesn't always close its own transport (HTTP/SSE/WS
	// report it straight to the caller), so the client tells the pool
	// directly; NotifyError only evicts when the error matches spec
	// §4.C's stale-connection substrings.
	if observer, ok := c.(errorObserver); ok {
		observer.SetErrorObserver(func(sendErr error) { pool.NotifyError(key, sendErr) })
	}
	return client, nil
}

// errorObserver is implemented by internal/outbound.Client, kept as a
// narrow interface here so internal/bridge never needs its concrete
// type to wire the stale-connection eviction path.
type errorObserver interface {
	SetErrorObserver(fn func(error))
}
