package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/blueberrycongee/memoryhub/internal/monitor"
	"github.com/blueberrycongee/memoryhub/internal/storage"
	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

// defaultNamespace is applied when a request omits the namespace.
const defaultNamespace = "default"

func namespaceOr(ns string) string {
	if ns == "" {
		return defaultNamespace
	}
	return ns
}

func logicalDB(raw string) (storage.LogicalDB, error) {
	if raw == "" {
		return storage.DBCache, nil
	}
	db := storage.LogicalDB(raw)
	if !storage.ValidDB(db) {
		return "", huberrors.NewValidationError("unknown logical database: " + raw)
	}
	return db, nil
}

// =============================================================================
// Fast store
// =============================================================================

type setRequest struct {
	DB         string `json:"db,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// SetValue stores a value in the fast store.
func (h *Handler) SetValue(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Key == "" {
		h.writeError(w, huberrors.NewValidationError("key is required"))
		return
	}
	db, err := logicalDB(req.DB)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ns := namespaceOr(req.Namespace)

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.store.Set(r.Context(), db, ns, req.Key, []byte(req.Value), ttl); err != nil {
		h.writeError(w, err)
		return
	}

	h.emit(monitor.EventMemoryAccess, ns, map[string]any{"op": "set", "key": req.Key})
	h.recordSuccess(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"stored": true})
}

// GetValue reads a value from the fast store. Absent keys return found=false
// rather than 404; absence is a normal cache outcome.
func (h *Handler) GetValue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		h.writeError(w, huberrors.NewValidationError("key is required"))
		return
	}
	db, err := logicalDB(q.Get("db"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	ns := namespaceOr(q.Get("namespace"))

	val, err := h.store.Get(r.Context(), db, ns, key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.emit(monitor.EventMemoryAccess, ns, map[string]any{"op": "get", "key": key})
	if val == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"found": true, "value": string(val)})
}

type deleteRequest struct {
	DB        string `json:"db,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Key       string `json:"key"`
}

// DeleteValue removes a key from the fast store.
func (h *Handler) DeleteValue(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Key == "" {
		h.writeError(w, huberrors.NewValidationError("key is required"))
		return
	}
	db, err := logicalDB(req.DB)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ns := namespaceOr(req.Namespace)

	n, err := h.store.Delete(r.Context(), db, ns, req.Key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.emit(monitor.EventMemoryAccess, ns, map[string]any{"op": "delete", "key": req.Key})
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// ListValues lists the caller's keys matching an optional pattern.
func (h *Handler) ListValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	db, err := logicalDB(q.Get("db"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	ns := namespaceOr(q.Get("namespace"))

	keys, err := h.store.ListKeys(r.Context(), db, ns, q.Get("pattern"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// =============================================================================
// Documents
// =============================================================================

type addDocumentRequest struct {
	Namespace string         `json:"namespace,omitempty"`
	DocID     string         `json:"doc_id"`
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AddDocument upserts a durable document and queues it for auto-embedding.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.DocID == "" || req.Content == "" {
		h.writeError(w, huberrors.NewValidationError("doc_id and content are required"))
		return
	}
	ns := namespaceOr(req.Namespace)

	doc := &storage.Document{
		Namespace: ns,
		DocID:     req.DocID,
		Title:     req.Title,
		Content:   req.Content,
		Metadata:  req.Metadata,
	}
	if err := h.store.UpsertDocument(r.Context(), doc); err != nil {
		h.writeError(w, err)
		return
	}

	h.emit(monitor.EventKnowledgeUpdate, ns, map[string]any{
		"doc_id":  req.DocID,
		"content": req.Content,
	})
	h.recordSuccess(r.Context())
	h.writeJSON(w, http.StatusOK, doc)
}

// GetDocument reads a durable document.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docID := q.Get("doc_id")
	if docID == "" {
		h.writeError(w, huberrors.NewValidationError("doc_id is required"))
		return
	}
	ns := namespaceOr(q.Get("namespace"))

	doc, err := h.store.GetDocument(r.Context(), ns, docID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.emit(monitor.EventMemoryAccess, ns, map[string]any{"op": "get_document", "doc_id": docID})
	h.writeJSON(w, http.StatusOK, doc)
}

type deleteDocumentRequest struct {
	Namespace string `json:"namespace,omitempty"`
	DocID     string `json:"doc_id"`
}

// DeleteDocument removes a durable document.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	var req deleteDocumentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.DocID == "" {
		h.writeError(w, huberrors.NewValidationError("doc_id is required"))
		return
	}
	ns := namespaceOr(req.Namespace)

	if err := h.store.DeleteDocument(r.Context(), ns, req.DocID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// =============================================================================
// Sessions
// =============================================================================

type createSessionRequest struct {
	Namespace  string         `json:"namespace,omitempty"`
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	TTLSeconds int            `json:"ttl_seconds,omitempty"`
}

// CreateSession creates or refreshes a session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.SessionID == "" {
		h.writeError(w, huberrors.NewValidationError("session_id is required"))
		return
	}
	ns := namespaceOr(req.Namespace)

	session := &storage.Session{
		Namespace: ns,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Data:      req.Data,
	}
	if req.TTLSeconds > 0 {
		expires := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
		session.ExpiresAt = &expires
	}
	if err := h.store.UpsertSession(r.Context(), session); err != nil {
		h.writeError(w, err)
		return
	}

	h.emit(monitor.EventSessionChange, ns, map[string]any{"session_id": req.SessionID})
	h.recordSuccess(r.Context())
	h.writeJSON(w, http.StatusOK, session)
}

// GetSession reads a session; expired sessions read as not found.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		h.writeError(w, huberrors.NewValidationError("session_id is required"))
		return
	}
	ns := namespaceOr(q.Get("namespace"))

	session, err := h.store.GetSession(r.Context(), ns, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.emit(monitor.EventSessionChange, ns, map[string]any{"session_id": sessionID})
	h.writeJSON(w, http.StatusOK, session)
}

type deleteSessionRequest struct {
	Namespace string `json:"namespace,omitempty"`
	SessionID string `json:"session_id"`
}

// DeleteSession removes a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	var req deleteSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.SessionID == "" {
		h.writeError(w, huberrors.NewValidationError("session_id is required"))
		return
	}
	ns := namespaceOr(req.Namespace)

	if err := h.store.DeleteSession(r.Context(), ns, req.SessionID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// ListSessions lists live sessions in a namespace.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ns := namespaceOr(r.URL.Query().Get("namespace"))
	sessions, err := h.store.ListSessions(r.Context(), ns)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// =============================================================================
// Experiences
// =============================================================================

type addExperienceRequest struct {
	Namespace    string         `json:"namespace,omitempty"`
	ExperienceID string         `json:"experience_id"`
	Category     string         `json:"category"`
	Context      string         `json:"context,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	Learning     string         `json:"learning,omitempty"`
	Confidence   float64        `json:"confidence_score,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AddExperience appends an analytics record.
func (h *Handler) AddExperience(w http.ResponseWriter, r *http.Request) {
	var req addExperienceRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ExperienceID == "" || req.Category == "" {
		h.writeError(w, huberrors.NewValidationError("experience_id and category are required"))
		return
	}
	ns := namespaceOr(req.Namespace)

	exp := &storage.Experience{
		Namespace:    ns,
		ExperienceID: req.ExperienceID,
		Category:     req.Category,
		Context:      req.Context,
		Outcome:      req.Outcome,
		Learning:     req.Learning,
		Confidence:   req.Confidence,
		Metadata:     req.Metadata,
	}
	if err := h.store.AppendExperience(r.Context(), exp); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordSuccess(r.Context())
	h.writeJSON(w, http.StatusOK, exp)
}

// ListExperiences lists recent analytics records for a namespace.
func (h *Handler) ListExperiences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ns := namespaceOr(q.Get("namespace"))
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	exps, err := h.store.ListExperiences(r.Context(), ns, q.Get("category"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"experiences": exps})
}
