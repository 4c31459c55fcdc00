package mesh

import "context"

// AuthContext is the per-request identity and routing surface the core
// consumes but never implements (spec §1, §4.D). Route handlers populate
// one from the inbound request/session and attach it to the context
// before calling into the aggregator or header builder.
type AuthContext interface {
	// RequestID is the current request's correlation id (x-request-id).
	RequestID() string
	// CallerConnectionID is non-empty when the caller is itself a
	// connection (x-caller-id); empty for a human/session caller.
	CallerConnectionID() string
	// ForwardableHeaders returns the well-known headers from request
	// metadata that should be propagated downstream verbatim.
	ForwardableHeaders() map[string]string
	// OrganizationID is the organization the request is scoped to.
	OrganizationID() string
	// UserID is the authenticated user id, empty for service callers.
	UserID() string
	// UserAgent is the caller's user agent, if any.
	UserAgent() string
	// Properties are request-metadata properties merged into monitoring
	// records (spec §4.J).
	Properties() map[string]any
}

type authContextKey struct{}

// WithAuthContext attaches ac to ctx. A nil ac leaves ctx unchanged.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	if ac == nil {
		return ctx
	}
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthContextFromContext retrieves the AuthContext previously attached
// with WithAuthContext.
func AuthContextFromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(AuthContext)
	return ac, ok
}
