package meshauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/vmcpmesh/gateway/pkg/errors"
	"github.com/vmcpmesh/gateway/pkg/logger"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// TokenResolver implements the downstream-token refresh algorithm of
// spec §4.D: look up the cached tuple, refresh it if expired and
// refreshable, delete it if expired and not, and always fall through to
// "no usable token" on any failure rather than surfacing an error to the
// header builder's caller.
type TokenResolver struct {
	tokens mesh.DownstreamTokenStore
}

// NewTokenResolver builds a TokenResolver over store.
func NewTokenResolver(store mesh.DownstreamTokenStore) *TokenResolver {
	return &TokenResolver{tokens: store}
}

// Resolve returns the access token to present for connID/userID, or
// ("", false) when none is usable — the header builder then falls back
// to the connection's static bearer, or omits the header entirely.
func (r *TokenResolver) Resolve(ctx context.Context, connID, userID string) (string, bool) {
	tok, err := r.tokens.Get(ctx, connID, userID)
	if err != nil || tok == nil {
		return "", false
	}

	if !tok.Expired(time.Now()) {
		return tok.AccessToken, true
	}

	if !tok.Refreshable() {
		if delErr := r.tokens.Delete(ctx, connID, userID); delErr != nil {
			logger.Warnw("failed to delete expired downstream token", "error", delErr, "connection_id", connID)
		}
		return "", false
	}

	refreshed, err := r.refresh(ctx, tok)
	if err != nil {
		logger.Warnw("downstream token refresh failed", "error", err, "connection_id", connID)
		if delErr := r.tokens.Delete(ctx, connID, userID); delErr != nil {
			logger.Warnw("failed to delete stale downstream token", "error", delErr, "connection_id", connID)
		}
		return "", false
	}

	if upsertErr := r.tokens.Upsert(ctx, refreshed); upsertErr != nil {
		logger.Warnw("failed to persist refreshed downstream token", "error", upsertErr, "connection_id", connID)
	}
	return refreshed.AccessToken, true
}

// refresh calls the token endpoint via the refresh grant and returns the
// updated tuple. It never mutates tok.
func (r *TokenResolver) refresh(ctx context.Context, tok *mesh.DownstreamToken) (*mesh.DownstreamToken, error) {
	cfg := &oauth2.Config{
		ClientID:     tok.ClientID,
		ClientSecret: tok.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tok.TokenEndpoint},
	}
	stale := &oauth2.Token{
		RefreshToken: tok.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute), // forces the token source to refresh
	}

	fresh, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, errors.NewError(errors.ErrUnauthorized, "refresh downstream token", err)
	}

	updated := *tok
	updated.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		updated.RefreshToken = fresh.RefreshToken
	}
	if !fresh.Expiry.IsZero() {
		expiry := fresh.Expiry
		updated.ExpiresAt = &expiry
	}
	updated.UpdatedAt = time.Now()
	return &updated, nil
}
