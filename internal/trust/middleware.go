package trust

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/blueberrycongee/memoryhub/internal/metrics"
)

// Middleware provides HTTP middleware for token authentication with trust
// score gating.
type Middleware struct {
	tokens    *TokenManager
	scorer    *Scorer
	logger    *slog.Logger
	skipPaths map[string]bool
	enabled   bool
}

// MiddlewareConfig contains configuration for the auth middleware.
type MiddlewareConfig struct {
	Tokens    *TokenManager
	Scorer    *Scorer
	Logger    *slog.Logger
	SkipPaths []string // Paths to skip authentication (e.g. /healthz, /metrics)
	Enabled   bool
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(cfg *MiddlewareConfig) *Middleware {
	skipPaths := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skipPaths[path] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		tokens:    cfg.Tokens,
		scorer:    cfg.Scorer,
		logger:    logger,
		skipPaths: skipPaths,
		enabled:   cfg.Enabled,
	}
}

// RequireAuth returns an HTTP middleware that validates the bearer token and
// enforces a minimum trust score plus an optional role allowlist. Failure
// responses are deliberately terse; scoring internals are never leaked.
func (m *Middleware) RequireAuth(minTrust float64, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.enabled || m.skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				metrics.AuthFailures.WithLabelValues("missing_token").Inc()
				m.writeUnauthorized(w, "missing or invalid authorization header")
				return
			}

			claims, err := m.tokens.Verify(token)
			if err != nil {
				metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
				m.writeUnauthorized(w, "invalid or expired token")
				return
			}
			identity := claims.Subject

			score, err := m.scorer.GetScore(r.Context(), identity)
			if err != nil {
				m.logger.Error("trust score lookup failed", "identity", identity, "error", err)
				m.writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			if score < minTrust {
				metrics.AuthFailures.WithLabelValues("low_trust").Inc()
				m.recordViolation(identity)
				m.writeForbidden(w, "insufficient trust")
				return
			}

			if len(allowed) > 0 && !hasAllowedRole(claims.Roles, allowed) {
				metrics.AuthFailures.WithLabelValues("missing_role").Inc()
				m.recordViolation(identity)
				m.writeForbidden(w, "insufficient privileges")
				return
			}

			authCtx := &AuthContext{
				Identity:   identity,
				Roles:      claims.Roles,
				TrustScore: score,
				TokenID:    claims.ID,
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), authCtx)))
		})
	}
}

// recordViolation updates counters async so a slow durable store cannot
// block the rejection response.
func (m *Middleware) recordViolation(identity string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.scorer.RecordInteraction(ctx, identity, OutcomeViolation); err != nil {
			m.logger.Warn("failed to record violation", "identity", identity, "error", err)
		}
	}()
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func hasAllowedRole(roles []string, allowed map[string]bool) bool {
	for _, r := range roles {
		if allowed[r] {
			return true
		}
	}
	return false
}

func (m *Middleware) writeUnauthorized(w http.ResponseWriter, message string) {
	m.writeError(w, http.StatusUnauthorized, message)
}

func (m *Middleware) writeForbidden(w http.ResponseWriter, message string) {
	m.writeError(w, http.StatusForbidden, message)
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"` + message + `","type":"authentication_error"}}`))
}
