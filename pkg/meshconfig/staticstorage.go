package meshconfig

import (
	"context"
	"sync"

	"github.com/vmcpmesh/gateway/pkg/errors"
	"github.com/vmcpmesh/gateway/pkg/logger"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// StaticStorage implements mesh.Storage over a FileConfig loaded once at
// startup — the CLI's analog of the teacher's immutable backend registry
// (backends fixed at process start, no live reconciliation).
type StaticStorage struct {
	connections *staticConnectionStore
	virtualMCPs *staticVirtualMCPStore
	monitoring  *logMonitoringStore
	tokens      *memoryTokenStore
}

// NewStaticStorage builds a StaticStorage from a parsed FileConfig.
func NewStaticStorage(cfg *FileConfig) *StaticStorage {
	connections := make(map[string]mesh.Connection, len(cfg.Connections))
	byOrg := make(map[string][]mesh.Connection)
	for _, c := range cfg.Connections {
		conn := mesh.Connection{
			ID:                c.ID,
			OrganizationID:    c.OrganizationID,
			Title:             c.Title,
			Description:       c.Description,
			ConnectionType:    mesh.ConnectionType(c.ConnectionType),
			ConnectionURL:     c.ConnectionURL,
			ConnectionToken:   c.Token,
			ConnectionHeaders: c.Headers,
			Status:            statusOrDefault(c.Status),
		}
		connections[c.ID] = conn
		byOrg[c.OrganizationID] = append(byOrg[c.OrganizationID], conn)
	}

	virtualMCPs := make(map[string]mesh.VirtualMCP, len(cfg.VirtualMCPs))
	for _, v := range cfg.VirtualMCPs {
		children := make([]mesh.VirtualMCPChild, len(v.Connections))
		for i, c := range v.Connections {
			children[i] = mesh.VirtualMCPChild{
				ConnectionID:      c.ConnectionID,
				SelectedTools:     c.Tools,
				SelectedResources: c.Resources,
				SelectedPrompts:   c.Prompts,
			}
		}
		metadata := map[string]any{"strategy": v.Strategy}
		if v.Instructions != "" {
			metadata["instructions"] = v.Instructions
		}
		virtualMCPs[v.ID] = mesh.VirtualMCP{
			ID:                v.ID,
			OrganizationID:    v.OrganizationID,
			Title:             v.Title,
			Metadata:          metadata,
			Connections:       children,
			ToolSelectionMode: selectionModeOrDefault(v.ToolSelectionMode),
		}
	}

	return &StaticStorage{
		connections: &staticConnectionStore{byID: connections, byOrg: byOrg},
		virtualMCPs: &staticVirtualMCPStore{byID: virtualMCPs},
		monitoring:  &logMonitoringStore{},
		tokens:      &memoryTokenStore{tokens: make(map[string]*mesh.DownstreamToken)},
	}
}

func statusOrDefault(s string) mesh.ConnectionStatus {
	if s == "" {
		return mesh.StatusActive
	}
	return mesh.ConnectionStatus(s)
}

func selectionModeOrDefault(m string) mesh.ToolSelectionMode {
	if m == "" {
		return mesh.SelectionInclusion
	}
	return mesh.ToolSelectionMode(m)
}

// Connections implements mesh.Storage.
func (s *StaticStorage) Connections() mesh.ConnectionStore { return s.connections }

// VirtualMCPs implements mesh.Storage.
func (s *StaticStorage) VirtualMCPs() mesh.VirtualMCPStore { return s.virtualMCPs }

// Monitoring implements mesh.Storage.
func (s *StaticStorage) Monitoring() mesh.MonitoringStore { return s.monitoring }

// DownstreamTokens implements mesh.Storage.
func (s *StaticStorage) DownstreamTokens() mesh.DownstreamTokenStore { return s.tokens }

type staticConnectionStore struct {
	byID  map[string]mesh.Connection
	byOrg map[string][]mesh.Connection
}

func (s *staticConnectionStore) List(_ context.Context, organizationID string) ([]mesh.Connection, error) {
	return s.byOrg[organizationID], nil
}

func (s *staticConnectionStore) FindByID(_ context.Context, id string) (*mesh.Connection, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, errors.NewError(errors.ErrNotFound, "connection not found: "+id, nil)
	}
	return &c, nil
}

type staticVirtualMCPStore struct {
	byID map[string]mesh.VirtualMCP
}

func (s *staticVirtualMCPStore) FindByID(_ context.Context, id string, organizationID string) (*mesh.VirtualMCP, error) {
	v, ok := s.byID[id]
	if !ok || v.OrganizationID != organizationID {
		return nil, errors.NewError(errors.ErrNotFound, "virtual mcp not found: "+id, nil)
	}
	return &v, nil
}

func (s *staticVirtualMCPStore) ListByConnectionID(_ context.Context, organizationID, connectionID string) ([]mesh.VirtualMCP, error) {
	var out []mesh.VirtualMCP
	for _, v := range s.byID {
		if v.OrganizationID != organizationID {
			continue
		}
		for _, c := range v.Connections {
			if c.ConnectionID == connectionID {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}

// logMonitoringStore logs each record rather than persisting it — the
// credential-vault-adjacent persistence layer is out of scope (spec §1);
// this keeps Monitoring() non-nil so the sink's storage write path is
// still exercised end-to-end in local/CLI use.
type logMonitoringStore struct{}

func (*logMonitoringStore) Log(_ context.Context, record mesh.MonitoringRecord) error {
	logger.Get().Info("tool call observed",
		"connection_id", record.ConnectionID,
		"tool", record.ToolName,
		"is_error", record.IsError,
		"duration_ms", record.DurationMS,
	)
	return nil
}

// memoryTokenStore is a process-local DownstreamTokenStore. The real
// credential vault is out of scope (spec §1); this is enough to let
// internal/meshauth's refresh path run against something in local/CLI
// use, not a persistence guarantee.
type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*mesh.DownstreamToken
}

func (m *memoryTokenStore) Get(_ context.Context, connectionID, userID string) (*mesh.DownstreamToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenKey(connectionID, userID)]
	if !ok {
		return nil, errors.NewError(errors.ErrNotFound, "no downstream token cached", nil)
	}
	return tok, nil
}

func (m *memoryTokenStore) Upsert(_ context.Context, token *mesh.DownstreamToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenKey(token.ConnectionID, token.UserID)] = token
	return nil
}

func (m *memoryTokenStore) Delete(_ context.Context, connectionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenKey(connectionID, userID))
	return nil
}

func tokenKey(connectionID, userID string) string {
	return connectionID + "::" + userID
}
