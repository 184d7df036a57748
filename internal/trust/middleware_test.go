package trust

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMiddleware(t *testing.T) (*Middleware, *TokenManager, *Scorer) {
	t.Helper()
	tokens, err := NewTokenManager(TokenManagerConfig{Secret: "test-secret"})
	require.NoError(t, err)
	scorer, _ := newTestScorer(t)
	mw := NewMiddleware(&MiddlewareConfig{
		Tokens:    tokens,
		Scorer:    scorer,
		Enabled:   true,
		SkipPaths: []string{"/healthz"},
	})
	return mw, tokens, scorer
}

func okHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestTokenRoundTrip(t *testing.T) {
	tokens, err := NewTokenManager(TokenManagerConfig{Secret: "s"})
	require.NoError(t, err)

	signed, issued, err := tokens.Issue("agent-1", []string{RoleGeneric}, 0.5, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)

	claims, err := tokens.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "agent-1", claims.Subject)
	require.Equal(t, []string{RoleGeneric}, claims.Roles)
	require.Equal(t, issued.ID, claims.ID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	tokens, err := NewTokenManager(TokenManagerConfig{Secret: "s"})
	require.NoError(t, err)

	signed, _, err := tokens.Issue("agent-1", []string{RoleGeneric}, 0.5, -time.Minute)
	require.NoError(t, err)

	_, err = tokens.Verify(signed)
	require.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := NewTokenManager(TokenManagerConfig{Secret: "one"})
	require.NoError(t, err)
	verifier, err := NewTokenManager(TokenManagerConfig{Secret: "two"})
	require.NoError(t, err)

	signed, _, err := issuer.Issue("agent-1", nil, 0.1, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	require.Error(t, err)
}

func TestRequireAuthMissingToken(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)
	var hit bool
	h := mw.RequireAuth(0)(okHandler(&hit))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/actions", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, hit)
}

func TestRequireAuthPassesValidToken(t *testing.T) {
	mw, tokens, _ := newTestMiddleware(t)

	signed, _, err := tokens.Issue("agent-1", []string{RoleGeneric}, 0.5, time.Hour)
	require.NoError(t, err)

	var got *AuthContext
	h := mw.RequireAuth(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, "agent-1", got.Identity)
	require.InDelta(t, 0.1, got.TrustScore, 1e-9, "identity with no profile scores as guest")
}

func TestRequireAuthEnforcesMinTrust(t *testing.T) {
	mw, tokens, scorer := newTestMiddleware(t)
	ctx := context.Background()

	require.NoError(t, scorer.EnsureProfile(ctx, "low-trust", []string{RoleGuest}))
	signed, _, err := tokens.Issue("low-trust", []string{RoleGeneric}, 0.1, time.Hour)
	require.NoError(t, err)

	var hit bool
	h := mw.RequireAuth(0.5)(okHandler(&hit))

	req := httptest.NewRequest(http.MethodPost, "/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, hit)
}

func TestRequireAuthEnforcesRoles(t *testing.T) {
	mw, tokens, scorer := newTestMiddleware(t)
	ctx := context.Background()

	require.NoError(t, scorer.EnsureProfile(ctx, "agent-1", []string{RoleTrusted}))
	signed, _, err := tokens.Issue("agent-1", []string{RoleGeneric}, 0.5, time.Hour)
	require.NoError(t, err)

	var hit bool
	h := mw.RequireAuth(0, RoleTrusted)(okHandler(&hit))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, hit)
}

func TestRequireAuthSkipsConfiguredPaths(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)
	var hit bool
	h := mw.RequireAuth(0.9, RoleTrusted)(okHandler(&hit))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, hit)
}

func TestRequireAuthDisabled(t *testing.T) {
	mw := NewMiddleware(&MiddlewareConfig{Enabled: false})
	var hit bool
	h := mw.RequireAuth(1.0, RoleTrusted)(okHandler(&hit))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/actions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, hit)
}
