// Package meshauth builds the outbound header set described in spec
// §4.D: request/caller/forwardable headers, the chosen downstream bearer
// token, and a short-lived mesh-issued JWT.
package meshauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// Issuer mints the mesh JWT attached to every outbound request as
// x-mesh-token. The signing secret is tracked as a jwk.Key under a kid
// rather than a bare byte slice, so a key rotation can add a new key to
// the set without invalidating tokens signed moments earlier under the
// retiring one.
type Issuer struct {
	keySet    jwk.Set
	activeKID string
	ttl       time.Duration
	meshURL   string
}

// NewIssuer builds an Issuer from a shared signing secret.
func NewIssuer(signingKey []byte, kid string, ttl time.Duration, meshURL string) (*Issuer, error) {
	key, err := jwk.FromRaw(signingKey)
	if err != nil {
		return nil, fmt.Errorf("meshauth: build signing key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("meshauth: set kid: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("meshauth: add signing key to set: %w", err)
	}

	return &Issuer{keySet: set, activeKID: kid, ttl: ttl, meshURL: meshURL}, nil
}

// IssueMeshToken signs the mesh JWT for an outbound request to conn,
// carrying the claims spec §4.D names: sub, user, configurationState,
// meshUrl, connectionId, organizationId, and the extracted connection
// permissions.
func (i *Issuer) IssueMeshToken(conn *mesh.Connection, ac mesh.AuthContext) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":                   subjectFor(ac, conn),
		"user":                  userFor(ac),
		"configurationState":    conn.ConfigurationState,
		"meshUrl":               i.meshURL,
		"connectionId":          conn.ID,
		"organizationId":        organizationFor(ac, conn),
		"connectionPermissions": conn.ExtractPermissions(),
		"iat":                   now.Unix(),
		"exp":                   now.Add(i.ttl).Unix(),
	}

	key, err := i.signingKey()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = i.activeKID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("meshauth: sign mesh token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) signingKey() ([]byte, error) {
	key, ok := i.keySet.LookupKeyID(i.activeKID)
	if !ok {
		return nil, fmt.Errorf("meshauth: signing key %q not found", i.activeKID)
	}
	var raw []byte
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("meshauth: export signing key: %w", err)
	}
	return raw, nil
}

func subjectFor(ac mesh.AuthContext, conn *mesh.Connection) string {
	if ac != nil {
		if userID := ac.UserID(); userID != "" {
			return userID
		}
		if callerID := ac.CallerConnectionID(); callerID != "" {
			return callerID
		}
	}
	return conn.ID
}

func userFor(ac mesh.AuthContext) string {
	if ac == nil {
		return ""
	}
	return ac.UserID()
}

func organizationFor(ac mesh.AuthContext, conn *mesh.Connection) string {
	if ac != nil && ac.OrganizationID() != "" {
		return ac.OrganizationID()
	}
	return conn.OrganizationID
}
