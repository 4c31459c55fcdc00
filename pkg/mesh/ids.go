package mesh

import "github.com/google/uuid"

// Typed id prefixes (spec §3). All identifiers are opaque strings; these
// helpers exist so callers never hand-roll a prefix.
const (
	ConnectionIDPrefix      = "conn_"
	GatewayIDPrefix         = "gw_"
	VirtualMCPIDPrefix      = "vmcp_"
	DownstreamTokenIDPrefix = "dtok_"
	AuditIDPrefix           = "audit_"
)

// NewID generates a new opaque id with the given typed prefix.
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}
