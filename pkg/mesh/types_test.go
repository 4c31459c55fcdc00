package mesh

import (
	"testing"
	"time"
)

func TestDownstreamToken_Expired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("refreshable token within 5 minute leeway counts as expired", func(t *testing.T) {
		t.Parallel()
		expiresAt := now.Add(2 * time.Minute)
		tok := &DownstreamToken{
			RefreshToken:  "rt",
			TokenEndpoint: "https://idp.example/token",
			ExpiresAt:     &expiresAt,
		}
		if !tok.Expired(now) {
			t.Error("expected token expiring in 2 minutes (< 5 minute leeway) to be treated as expired")
		}
	})

	t.Run("non-refreshable token expires exactly at expiry", func(t *testing.T) {
		t.Parallel()
		expiresAt := now.Add(2 * time.Minute)
		tok := &DownstreamToken{ExpiresAt: &expiresAt}
		if tok.Expired(now) {
			t.Error("non-refreshable token 2 minutes from expiry should not yet be expired")
		}
		if !tok.Expired(expiresAt) {
			t.Error("non-refreshable token should be expired at the exact expiry instant")
		}
	})

	t.Run("nil expiry never expires", func(t *testing.T) {
		t.Parallel()
		tok := &DownstreamToken{}
		if tok.Expired(now) {
			t.Error("token with no ExpiresAt should never be expired")
		}
	})
}

func TestConnection_ExtractPermissions(t *testing.T) {
	t.Parallel()

	c := &Connection{
		ConfigurationState: map[string]any{
			"github": "conn_abc123",
		},
		ConfigurationScopes: []string{"github::read", "github::write", "*"},
	}

	perms := c.ExtractPermissions()
	if len(perms["conn_abc123"]) != 2 {
		t.Fatalf("expected 2 scopes for conn_abc123, got %v", perms["conn_abc123"])
	}
	if len(perms["*"]) != 1 {
		t.Fatalf("expected wildcard scope recorded, got %v", perms["*"])
	}
}

func TestConnection_VirtualMCPTargetID(t *testing.T) {
	t.Parallel()

	c := &Connection{ConnectionType: ConnectionVirtual, ConnectionURL: "virtual://vmcp_123"}
	if got := c.VirtualMCPTargetID(); got != "vmcp_123" {
		t.Errorf("VirtualMCPTargetID() = %q, want vmcp_123", got)
	}

	nonVirtual := &Connection{ConnectionType: ConnectionHTTP, ConnectionURL: "https://example.com"}
	if got := nonVirtual.VirtualMCPTargetID(); got != "" {
		t.Errorf("VirtualMCPTargetID() on non-virtual connection = %q, want empty", got)
	}
}
