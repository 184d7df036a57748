// Package trust implements token-based authentication with behavioral trust
// scoring. Identities earn or lose trust through recorded interactions; the
// computed score gates access alongside role checks.
package trust

import "context"

// Role names an identity class with a fixed starting trust level.
const (
	RoleTrusted = "trusted"
	RoleGeneric = "generic"
	RoleGuest   = "guest"
)

// Interaction outcomes accepted by RecordInteraction.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeViolation = "violation"
)

// BaseScoreFor returns the starting trust score for a set of roles. The
// highest-privileged role wins; unknown roles score as guests.
func BaseScoreFor(roles []string) float64 {
	score := 0.1
	for _, r := range roles {
		switch r {
		case RoleTrusted:
			return 1.0
		case RoleGeneric:
			if score < 0.5 {
				score = 0.5
			}
		}
	}
	return score
}

// AuthContext carries the verified identity through a request.
type AuthContext struct {
	Identity   string   `json:"identity"`
	Roles      []string `json:"roles"`
	TrustScore float64  `json:"trust_score"`
	TokenID    string   `json:"token_id"`
}

// HasRole reports whether the identity holds the given role.
func (a *AuthContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// AuthContextKey is the context key for AuthContext.
const AuthContextKey contextKey = "trust_auth"

// WithAuthContext stores an AuthContext on the provided context.
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, AuthContextKey, authCtx)
}

// GetAuthContext retrieves the AuthContext from the request context.
func GetAuthContext(ctx context.Context) *AuthContext {
	if auth, ok := ctx.Value(AuthContextKey).(*AuthContext); ok {
		return auth
	}
	return nil
}
