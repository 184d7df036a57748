package api

import (
	"net/http"
	"time"

	"github.com/blueberrycongee/memoryhub/internal/trust"
	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

type createTokenRequest struct {
	Identity   string   `json:"identity"`
	Roles      []string `json:"roles,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

type createTokenResponse struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	Roles     []string  `json:"roles"`
	Trust     float64   `json:"trust"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateToken issues a signed token. Identities on the configured trusted
// list get the trusted role regardless of what was requested.
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Identity == "" {
		h.writeError(w, huberrors.NewValidationError("identity is required"))
		return
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{trust.RoleGeneric}
	}
	if h.trusted[req.Identity] {
		roles = append([]string{trust.RoleTrusted}, roles...)
	}

	if err := h.scorer.EnsureProfile(r.Context(), req.Identity, roles); err != nil {
		h.writeError(w, err)
		return
	}
	score, err := h.scorer.GetScore(r.Context(), req.Identity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	signed, claims, err := h.tokens.Issue(req.Identity, roles, score, ttl)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, createTokenResponse{
		Token:     signed,
		Identity:  req.Identity,
		Roles:     claims.Roles,
		Trust:     claims.Trust,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyToken validates a token and returns its claims plus the live trust
// score.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Token == "" {
		h.writeError(w, huberrors.NewValidationError("token is required"))
		return
	}

	claims, err := h.tokens.Verify(req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	score, err := h.scorer.GetScore(r.Context(), claims.Subject)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"identity":    claims.Subject,
		"roles":       claims.Roles,
		"trust_score": score,
		"expires_at":  claims.ExpiresAt.Time,
	})
}

// GetTrustScore returns the live trust score for an identity.
func (h *Handler) GetTrustScore(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		h.writeError(w, huberrors.NewValidationError("identity is required"))
		return
	}
	score, err := h.scorer.GetScore(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"identity":    identity,
		"trust_score": score,
	})
}

type recordInteractionRequest struct {
	Identity string `json:"identity"`
	Outcome  string `json:"outcome"`
}

// RecordInteraction updates an identity's trust counters.
func (h *Handler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req recordInteractionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.scorer.RecordInteraction(r.Context(), req.Identity, req.Outcome); err != nil {
		h.writeError(w, err)
		return
	}
	score, err := h.scorer.GetScore(r.Context(), req.Identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"identity":    req.Identity,
		"trust_score": score,
	})
}
