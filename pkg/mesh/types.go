// Package mesh holds the core data model shared by every gateway
// component: connections, virtual MCPs, downstream OAuth tokens, and the
// Storage interface the core consumes but never implements (spec §3, §6.3).
package mesh

import (
	"context"
	"time"
)

// ConnectionType identifies how a Connection is reached.
type ConnectionType string

// Recognized connection types (spec §3).
const (
	ConnectionSTDIO     ConnectionType = "STDIO"
	ConnectionHTTP      ConnectionType = "HTTP"
	ConnectionSSE       ConnectionType = "SSE"
	ConnectionWebsocket ConnectionType = "Websocket"
	ConnectionVirtual   ConnectionType = "VIRTUAL"
)

// ConnectionStatus is the persisted lifecycle status of a Connection.
type ConnectionStatus string

// Recognized connection statuses (spec §3).
const (
	StatusActive   ConnectionStatus = "active"
	StatusInactive ConnectionStatus = "inactive"
	StatusError    ConnectionStatus = "error"
)

// BackendHealth is the aggregator's runtime view of a child connection,
// distinct from the persisted ConnectionStatus above (SPEC_FULL.md
// SUPPLEMENTED FEATURES #1).
type BackendHealth string

// Recognized backend health values.
const (
	BackendHealthy         BackendHealth = "healthy"
	BackendDegraded        BackendHealth = "degraded"
	BackendUnhealthy       BackendHealth = "unhealthy"
	BackendUnknown         BackendHealth = "unknown"
	BackendUnauthenticated BackendHealth = "unauthenticated"
)

type backendHealthKey struct{}

// WithBackendHealth attaches the aggregator's current health view of the
// child a call is about to be routed to, so internal/monitoring can tag
// the resulting record with it (SPEC_FULL.md SUPPLEMENTED FEATURES #1).
func WithBackendHealth(ctx context.Context, health BackendHealth) context.Context {
	return context.WithValue(ctx, backendHealthKey{}, health)
}

// BackendHealthFromContext retrieves the health previously attached with
// WithBackendHealth.
func BackendHealthFromContext(ctx context.Context) (BackendHealth, bool) {
	h, ok := ctx.Value(backendHealthKey{}).(BackendHealth)
	return h, ok
}

// DeriveConnectionStatus combines persisted with an aggregator's observed
// runtime health to produce the status a caller should treat a
// connection as having right now. persisted remains authoritative for
// inactive/error: an operator-disabled or already-failed connection
// never gets promoted back to active just because one call succeeded.
// An active connection observed unhealthy or unauthenticated is reported
// as errored; degraded/unknown/healthy leave it active.
func DeriveConnectionStatus(persisted ConnectionStatus, health BackendHealth) ConnectionStatus {
	if persisted != StatusActive {
		return persisted
	}
	switch health {
	case BackendUnhealthy, BackendUnauthenticated:
		return StatusError
	default:
		return StatusActive
	}
}

// ToolSchema is a snapshot of one downstream tool's shape, recorded on a
// Connection at create/update time.
type ToolSchema struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// Connection is a persistent configuration for reaching one downstream
// MCP server (spec §3).
type Connection struct {
	ID             string
	OrganizationID string
	Title          string
	Description    string
	Icon           string

	ConnectionType ConnectionType

	// ConnectionURL is required for HTTP/SSE/Websocket/VIRTUAL. For a
	// VIRTUAL connection it encodes the id of a VirtualMCP in the same
	// organization (spec §3 invariant).
	ConnectionURL string

	// ConnectionToken is a static bearer token, used when no
	// DownstreamToken is cached for this connection.
	ConnectionToken string

	// ConnectionHeaders is an arbitrary header map for HTTP-family
	// transports, or holds stdio command/args/env/cwd when
	// ConnectionType == STDIO (see StdioConfig).
	ConnectionHeaders map[string]string

	Status ConnectionStatus

	Tools []ToolSchema

	ConfigurationState  map[string]any
	ConfigurationScopes []string
}

// StdioConfig extracts the stdio launch parameters carried in
// Connection.ConnectionHeaders when ConnectionType == STDIO.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

// ToolSelectionMode controls how a VirtualMCPConnection's selected_*
// lists are interpreted (spec §3).
type ToolSelectionMode string

// Recognized selection modes.
const (
	SelectionInclusion ToolSelectionMode = "inclusion"
	SelectionExclusion ToolSelectionMode = "exclusion"
)

// VirtualMCPChild describes one child connection's per-child selection
// inside a VirtualMCP composition.
type VirtualMCPChild struct {
	ConnectionID      string
	SelectedTools     []string
	SelectedResources []string
	SelectedPrompts   []string
}

// VirtualMCP is a composition of child connections with per-child
// selection (spec §3).
type VirtualMCP struct {
	ID             string
	OrganizationID string
	Title          string
	Metadata       map[string]any

	Connections []VirtualMCPChild

	ToolSelectionMode ToolSelectionMode
}

// Instructions returns the MCP server instructions surfaced on the
// handshake, from Metadata["instructions"] if present.
func (v *VirtualMCP) Instructions() string {
	if v.Metadata == nil {
		return ""
	}
	if s, ok := v.Metadata["instructions"].(string); ok {
		return s
	}
	return ""
}

// DownstreamToken is a per-connection OAuth tuple (spec §3).
type DownstreamToken struct {
	ConnectionID  string
	UserID        string
	AccessToken   string
	RefreshToken  string
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scope         string
	ExpiresAt     *time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the token is expired at t, applying a
// 5-minute refresh leeway only when the token is actually refreshable
// (spec §4.D token refresh algorithm).
func (d *DownstreamToken) Expired(t time.Time) bool {
	if d.ExpiresAt == nil {
		return false
	}
	if d.Refreshable() {
		return !t.Before(d.ExpiresAt.Add(-5 * time.Minute))
	}
	return !t.Before(*d.ExpiresAt)
}

// Refreshable reports whether this token has enough material to attempt
// an OAuth refresh.
func (d *DownstreamToken) Refreshable() bool {
	return d.RefreshToken != "" && d.TokenEndpoint != ""
}
