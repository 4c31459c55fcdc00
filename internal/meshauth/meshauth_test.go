package meshauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmcpmesh/gateway/pkg/mesh"
)

type fakeAuthContext struct {
	requestID  string
	callerID   string
	orgID      string
	userID     string
	userAgent  string
	headers    map[string]string
	properties map[string]any
}

func (f fakeAuthContext) RequestID() string                     { return f.requestID }
func (f fakeAuthContext) CallerConnectionID() string            { return f.callerID }
func (f fakeAuthContext) ForwardableHeaders() map[string]string { return f.headers }
func (f fakeAuthContext) OrganizationID() string                { return f.orgID }
func (f fakeAuthContext) UserID() string                        { return f.userID }
func (f fakeAuthContext) UserAgent() string                     { return f.userAgent }
func (f fakeAuthContext) Properties() map[string]any            { return f.properties }

type fakeTokenStore struct {
	tokens map[string]*mesh.DownstreamToken
	puts   []*mesh.DownstreamToken
	dels   []string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]*mesh.DownstreamToken{}}
}

func key(connID, userID string) string { return connID + "|" + userID }

func (f *fakeTokenStore) Get(_ context.Context, connID, userID string) (*mesh.DownstreamToken, error) {
	return f.tokens[key(connID, userID)], nil
}

func (f *fakeTokenStore) Upsert(_ context.Context, tok *mesh.DownstreamToken) error {
	f.tokens[key(tok.ConnectionID, tok.UserID)] = tok
	f.puts = append(f.puts, tok)
	return nil
}

func (f *fakeTokenStore) Delete(_ context.Context, connID, userID string) error {
	delete(f.tokens, key(connID, userID))
	f.dels = append(f.dels, key(connID, userID))
	return nil
}

func TestIssuer_IssueMeshTokenCarriesSpecClaims(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer([]byte("test-secret-key-material"), "mesh-1", 5*time.Minute, "https://mesh.example.com")
	require.NoError(t, err)

	conn := &mesh.Connection{
		ID:             "conn_1",
		OrganizationID: "org_1",
		ConfigurationState: map[string]any{
			"upstream": "conn_2",
		},
	}
	ac := fakeAuthContext{requestID: "req_1", orgID: "org_1", userID: "user_1"}

	signed, err := issuer.IssueMeshToken(conn, ac)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	parsed, err := jwt.Parse(signed, func(*jwt.Token) (any, error) {
		return []byte("test-secret-key-material"), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)

	assert.Equal(t, "user_1", claims["sub"])
	assert.Equal(t, "user_1", claims["user"])
	assert.Equal(t, "https://mesh.example.com", claims["meshUrl"])
	assert.Equal(t, "conn_1", claims["connectionId"])
	assert.Equal(t, "org_1", claims["organizationId"])
	assert.Equal(t, "mesh-1", parsed.Header["kid"])
}

func TestIssuer_IssueMeshTokenWithNilAuthContext(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer([]byte("secret"), "mesh-1", time.Minute, "https://mesh.example.com")
	require.NoError(t, err)

	conn := &mesh.Connection{ID: "conn_1", OrganizationID: "org_1"}
	signed, err := issuer.IssueMeshToken(conn, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
}

func TestTokenResolver_ReturnsUnexpiredCachedToken(t *testing.T) {
	t.Parallel()

	store := newFakeTokenStore()
	future := time.Now().Add(time.Hour)
	store.tokens[key("conn_1", "")] = &mesh.DownstreamToken{
		ConnectionID: "conn_1",
		AccessToken:  "cached-token",
		ExpiresAt:    &future,
	}

	resolver := NewTokenResolver(store)
	token, ok := resolver.Resolve(context.Background(), "conn_1", "")
	require.True(t, ok)
	assert.Equal(t, "cached-token", token)
}

func TestTokenResolver_NoTokenReturnsNotOK(t *testing.T) {
	t.Parallel()

	store := newFakeTokenStore()
	resolver := NewTokenResolver(store)
	_, ok := resolver.Resolve(context.Background(), "conn_1", "")
	assert.False(t, ok)
}

func TestTokenResolver_DeletesExpiredNonRefreshableToken(t *testing.T) {
	t.Parallel()

	store := newFakeTokenStore()
	past := time.Now().Add(-time.Hour)
	store.tokens[key("conn_1", "")] = &mesh.DownstreamToken{
		ConnectionID: "conn_1",
		AccessToken:  "expired-token",
		ExpiresAt:    &past,
	}

	resolver := NewTokenResolver(store)
	_, ok := resolver.Resolve(context.Background(), "conn_1", "")
	assert.False(t, ok)
	assert.Contains(t, store.dels, key("conn_1", ""))
}

func TestTokenResolver_RefreshesExpiredRefreshableToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access-token",
			"refresh_token": "new-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	store := newFakeTokenStore()
	past := time.Now().Add(-time.Hour)
	store.tokens[key("conn_1", "")] = &mesh.DownstreamToken{
		ConnectionID:  "conn_1",
		AccessToken:   "old-access-token",
		RefreshToken:  "old-refresh-token",
		TokenEndpoint: srv.URL,
		ClientID:      "client-id",
		ExpiresAt:     &past,
	}

	resolver := NewTokenResolver(store)
	token, ok := resolver.Resolve(context.Background(), "conn_1", "")
	require.True(t, ok)
	assert.Equal(t, "new-access-token", token)
	require.Len(t, store.puts, 1)
	assert.Equal(t, "new-refresh-token", store.puts[0].RefreshToken)
}

func TestTokenResolver_RefreshFailureDeletesCachedToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newFakeTokenStore()
	past := time.Now().Add(-time.Hour)
	store.tokens[key("conn_1", "")] = &mesh.DownstreamToken{
		ConnectionID:  "conn_1",
		AccessToken:   "old-access-token",
		RefreshToken:  "old-refresh-token",
		TokenEndpoint: srv.URL,
		ExpiresAt:     &past,
	}

	resolver := NewTokenResolver(store)
	_, ok := resolver.Resolve(context.Background(), "conn_1", "")
	assert.False(t, ok)
	assert.Contains(t, store.dels, key("conn_1", ""))
}

func TestHeaderBuilder_PrefersCachedTokenOverStaticBearer(t *testing.T) {
	t.Parallel()

	store := newFakeTokenStore()
	future := time.Now().Add(time.Hour)
	store.tokens[key("conn_1", "user_1")] = &mesh.DownstreamToken{
		ConnectionID: "conn_1",
		UserID:       "user_1",
		AccessToken:  "cached-token",
		ExpiresAt:    &future,
	}

	issuer, err := NewIssuer([]byte("secret"), "mesh-1", time.Minute, "https://mesh.example.com")
	require.NoError(t, err)
	builder := NewHeaderBuilder(NewTokenResolver(store), issuer)

	conn := &mesh.Connection{ID: "conn_1", OrganizationID: "org_1", ConnectionToken: "static-bearer"}
	ctx := mesh.WithAuthContext(context.Background(), fakeAuthContext{userID: "user_1", requestID: "req_1"})

	headers, err := builder.BuildHeaders(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "Bearer cached-token", headers["Authorization"])
	assert.Equal(t, "req_1", headers["x-request-id"])
	assert.NotEmpty(t, headers["x-mesh-token"])
}

func TestHeaderBuilder_FallsBackToStaticBearer(t *testing.T) {
	t.Parallel()

	store := newFakeTokenStore()
	issuer, err := NewIssuer([]byte("secret"), "mesh-1", time.Minute, "https://mesh.example.com")
	require.NoError(t, err)
	builder := NewHeaderBuilder(NewTokenResolver(store), issuer)

	conn := &mesh.Connection{ID: "conn_1", ConnectionToken: "static-bearer"}
	headers, err := builder.BuildHeaders(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "Bearer static-bearer", headers["Authorization"])
}

func TestHeaderBuilder_OmitsAuthorizationWhenNoTokenAvailable(t *testing.T) {
	t.Parallel()

	store := newFakeTokenStore()
	issuer, err := NewIssuer([]byte("secret"), "mesh-1", time.Minute, "https://mesh.example.com")
	require.NoError(t, err)
	builder := NewHeaderBuilder(NewTokenResolver(store), issuer)

	conn := &mesh.Connection{ID: "conn_1"}
	headers, err := builder.BuildHeaders(context.Background(), conn)
	require.NoError(t, err)
	_, ok := headers["Authorization"]
	assert.False(t, ok)
}

func TestHeaderBuilder_IncludesCallerIDAndForwardableHeaders(t *testing.T) {
	t.Parallel()

	store := newFakeTokenStore()
	issuer, err := NewIssuer([]byte("secret"), "mesh-1", time.Minute, "https://mesh.example.com")
	require.NoError(t, err)
	builder := NewHeaderBuilder(NewTokenResolver(store), issuer)

	conn := &mesh.Connection{ID: "conn_1"}
	ctx := mesh.WithAuthContext(context.Background(), fakeAuthContext{
		callerID: "conn_upstream",
		headers:  map[string]string{"x-forwarded-for": "1.2.3.4"},
	})

	headers, err := builder.BuildHeaders(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "conn_upstream", headers["x-caller-id"])
	assert.Equal(t, "1.2.3.4", headers["x-forwarded-for"])
}
