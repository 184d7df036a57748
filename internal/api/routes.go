package api

import (
	"net/http"
	"time"

	"github.com/blueberrycongee/memoryhub/internal/trust"
)

// Trust levels required per route class. Reads need a foothold above zero so
// revoked identities fall out; destructive index operations need a trusted
// caller.
const (
	minTrustRead  = 0.1
	minTrustWrite = 0.3
	minTrustAdmin = 0.7
)

// RegisterRoutes registers every API route on the mux, wrapping each class of
// route with the appropriate auth requirement.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, mw *trust.Middleware) {
	read := func(action string, fn http.HandlerFunc) http.Handler {
		return mw.RequireAuth(minTrustRead)(instrument(action, fn))
	}
	write := func(action string, fn http.HandlerFunc) http.Handler {
		return mw.RequireAuth(minTrustWrite)(instrument(action, fn))
	}
	admin := func(action string, fn http.HandlerFunc) http.Handler {
		return mw.RequireAuth(minTrustAdmin, trust.RoleTrusted)(instrument(action, fn))
	}

	// Fast store
	mux.Handle("POST /memory/set", write("set", h.SetValue))
	mux.Handle("GET /memory/get", read("get", h.GetValue))
	mux.Handle("POST /memory/delete", write("delete", h.DeleteValue))
	mux.Handle("GET /memory/keys", read("list_keys", h.ListValues))

	// Documents
	mux.Handle("POST /document/add", write("add_document", h.AddDocument))
	mux.Handle("GET /document/get", read("get_document", h.GetDocument))
	mux.Handle("POST /document/delete", write("delete_document", h.DeleteDocument))

	// Sessions
	mux.Handle("POST /session/create", write("create_session", h.CreateSession))
	mux.Handle("GET /session/get", read("get_session", h.GetSession))
	mux.Handle("POST /session/delete", write("delete_session", h.DeleteSession))
	mux.Handle("GET /session/list", read("list_sessions", h.ListSessions))

	// Experiences
	mux.Handle("POST /experience/add", write("add_experience", h.AddExperience))
	mux.Handle("GET /experience/list", read("list_experiences", h.ListExperiences))

	// Embeddings
	mux.Handle("POST /embedding/add", write("add_embedding", h.AddEmbedding))
	mux.Handle("POST /embedding/search", read("search_similar", h.SearchSimilar))
	mux.Handle("POST /embedding/delete", write("delete_embedding", h.DeleteEmbedding))
	mux.Handle("POST /embedding/rebuild", admin("rebuild_index", h.RebuildIndex))
	mux.Handle("GET /embedding/stats", read("embedding_stats", h.EmbeddingStats))

	// Auth. Token issuance and verification bootstrap authentication, so they
	// are not themselves behind the middleware.
	mux.Handle("POST /auth/token", instrument("create_token", h.CreateToken))
	mux.Handle("POST /auth/verify", instrument("verify_token", h.VerifyToken))
	mux.Handle("GET /auth/score", read("get_trust_score", h.GetTrustScore))
	mux.Handle("POST /auth/interaction", write("record_interaction", h.RecordInteraction))

	// Health
	mux.Handle("GET /healthz", instrument("health_check", http.HandlerFunc(h.HealthCheck)))
}

// HealthCheck serves the monitor's latest snapshot, falling back to live
// pings when no snapshot is current.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.monitor != nil {
		snapshot, err := h.monitor.LatestHealth(r.Context())
		if err == nil && snapshot != nil {
			status := http.StatusOK
			if snapshot.FastStore != "healthy" || snapshot.DurableStore != "healthy" {
				status = http.StatusServiceUnavailable
			}
			h.writeJSON(w, status, snapshot)
			return
		}
	}

	fast := h.store.PingFast(r.Context())
	durable := h.store.PingDurable(r.Context())
	status := http.StatusOK
	if fast != nil || durable != nil {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]any{
		"timestamp":     time.Now(),
		"fast_store":    pingStatus(fast),
		"durable_store": pingStatus(durable),
	})
}

func pingStatus(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}
