package meshauth

import (
	"context"

	"github.com/vmcpmesh/gateway/internal/transport"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// HeaderBuilder assembles the outbound header snapshot of spec §4.D. It
// satisfies internal/middleware.HeaderBuilder.
type HeaderBuilder struct {
	tokens *TokenResolver
	issuer *Issuer
}

// NewHeaderBuilder builds a HeaderBuilder over a token resolver and
// mesh-JWT issuer.
func NewHeaderBuilder(tokens *TokenResolver, issuer *Issuer) *HeaderBuilder {
	return &HeaderBuilder{tokens: tokens, issuer: issuer}
}

// BuildHeaders produces the full header set for one outbound request to
// conn: request/caller/forwardable headers, the chosen Authorization
// bearer, and the mesh-issued x-mesh-token.
func (b *HeaderBuilder) BuildHeaders(ctx context.Context, conn *mesh.Connection) (transport.HeaderSnapshot, error) {
	headers := transport.HeaderSnapshot{}

	ac, hasAuthContext := mesh.AuthContextFromContext(ctx)
	if hasAuthContext {
		if reqID := ac.RequestID(); reqID != "" {
			headers["x-request-id"] = reqID
		}
		if callerID := ac.CallerConnectionID(); callerID != "" {
			headers["x-caller-id"] = callerID
		}
		for k, v := range ac.ForwardableHeaders() {
			headers[k] = v
		}
	}

	var userID string
	if hasAuthContext {
		userID = ac.UserID()
	}
	if token, ok := b.tokens.Resolve(ctx, conn.ID, userID); ok {
		headers["Authorization"] = "Bearer " + token
	} else if conn.ConnectionToken != "" {
		headers["Authorization"] = "Bearer " + conn.ConnectionToken
	}

	if b.issuer != nil {
		var acForClaims mesh.AuthContext
		if hasAuthContext {
			acForClaims = ac
		}
		meshToken, err := b.issuer.IssueMeshToken(conn, acForClaims)
		if err != nil {
			return nil, err
		}
		headers["x-mesh-token"] = meshToken
	}

	return headers, nil
}
