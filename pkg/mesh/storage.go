package mesh

import "context"

// Storage is the persistence surface the gateway core consumes but never
// implements (spec §6.3). Concrete implementations (SQL tables, caches,
// ...) live outside this module's scope.
type Storage interface {
	Connections() ConnectionStore
	VirtualMCPs() VirtualMCPStore
	Monitoring() MonitoringStore
	DownstreamTokens() DownstreamTokenStore
}

// ConnectionStore reads Connection records.
type ConnectionStore interface {
	List(ctx context.Context, organizationID string) ([]Connection, error)
	FindByID(ctx context.Context, id string) (*Connection, error)
}

// VirtualMCPStore reads VirtualMCP records.
type VirtualMCPStore interface {
	FindByID(ctx context.Context, id string, organizationID string) (*VirtualMCP, error)
	ListByConnectionID(ctx context.Context, organizationID, connectionID string) ([]VirtualMCP, error)
}

// MonitoringRecord is one completed tool-call observation (spec §4.J).
type MonitoringRecord struct {
	OrganizationID  string
	ConnectionID    string
	ConnectionTitle string
	ToolName        string
	Input           map[string]any
	Output          any
	IsError         bool
	ErrorMessage    string
	DurationMS      int64
	Timestamp       int64
	UserID          string
	RequestID       string
	UserAgent       string
	VirtualMCPID    string
	Properties      map[string]any
}

// MonitoringStore is the persistence surface behind a monitoring Sink.
// A Log failure is returned to the sink, which logs and swallows it
// rather than surfacing it to the tool-call caller (spec §6.3, §4.B).
type MonitoringStore interface {
	Log(ctx context.Context, record MonitoringRecord) error
}

// DownstreamTokenStore manages per-connection OAuth tuples.
type DownstreamTokenStore interface {
	Get(ctx context.Context, connectionID, userID string) (*DownstreamToken, error)
	Upsert(ctx context.Context, token *DownstreamToken) error
	Delete(ctx context.Context, connectionID, userID string) error
}
