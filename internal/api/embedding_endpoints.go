package api

import (
	"net/http"

	"github.com/blueberrycongee/memoryhub/internal/embedding"
	"github.com/blueberrycongee/memoryhub/internal/monitor"
	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

func (h *Handler) requireEmbeddings(w http.ResponseWriter) bool {
	if h.embeddings == nil {
		h.writeError(w, huberrors.NewIndexUnavailableError("index", "embedding service is not configured"))
		return false
	}
	return true
}

type addEmbeddingRequest struct {
	Namespace string         `json:"namespace,omitempty"`
	Content   string         `json:"content"`
	DocID     string         `json:"doc_id,omitempty"`
	Category  string         `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AddEmbedding encodes content and inserts it into the similarity index.
func (h *Handler) AddEmbedding(w http.ResponseWriter, r *http.Request) {
	if !h.requireEmbeddings(w) {
		return
	}
	var req addEmbeddingRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	ns := namespaceOr(req.Namespace)

	id, err := h.embeddings.Add(r.Context(), embedding.AddRequest{
		Namespace: ns,
		Content:   req.Content,
		DocID:     req.DocID,
		Category:  req.Category,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordSuccess(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"embedding_id": id})
}

type searchRequest struct {
	Namespace     string   `json:"namespace,omitempty"`
	Query         string   `json:"query"`
	Limit         int      `json:"limit,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

// SearchSimilar runs a semantic search over the index.
func (h *Handler) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	if !h.requireEmbeddings(w) {
		return
	}
	var req searchRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	// An omitted namespace searches across all namespaces.
	results, err := h.embeddings.Search(r.Context(), embedding.SearchRequest{
		Query:         req.Query,
		Namespace:     req.Namespace,
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.emit(monitor.EventEmbeddingSearch, req.Namespace, map[string]any{
		"query":   req.Query,
		"results": len(results),
	})
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type deleteEmbeddingRequest struct {
	EmbeddingID string `json:"embedding_id"`
}

// DeleteEmbedding soft-deletes an index entry.
func (h *Handler) DeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	if !h.requireEmbeddings(w) {
		return
	}
	var req deleteEmbeddingRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.EmbeddingID == "" {
		h.writeError(w, huberrors.NewValidationError("embedding_id is required"))
		return
	}

	deleted := h.embeddings.Delete(r.Context(), req.EmbeddingID)
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// RebuildIndex forces a full index rebuild.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if !h.requireEmbeddings(w) {
		return
	}
	stats, err := h.embeddings.Rebuild(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// EmbeddingStats returns the current index shape.
func (h *Handler) EmbeddingStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireEmbeddings(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.embeddings.Stats())
}
