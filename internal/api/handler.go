// Package api provides the HTTP façade over the hub's components. Handlers
// stay thin: validate, call the owning component, translate errors, emit a
// context event.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/memoryhub/internal/embedding"
	"github.com/blueberrycongee/memoryhub/internal/metrics"
	"github.com/blueberrycongee/memoryhub/internal/monitor"
	"github.com/blueberrycongee/memoryhub/internal/storage"
	"github.com/blueberrycongee/memoryhub/internal/trust"
	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

// Handler serves the hub's HTTP API.
type Handler struct {
	store      *storage.Manager
	embeddings *embedding.Service
	tokens     *trust.TokenManager
	scorer     *trust.Scorer
	monitor    *monitor.Monitor
	trusted    map[string]bool
	logger     *slog.Logger
}

// HandlerConfig contains dependencies for the API handler. Monitor and
// embeddings may be nil; the matching endpoints degrade or 503.
type HandlerConfig struct {
	Store             *storage.Manager
	Embeddings        *embedding.Service
	Tokens            *trust.TokenManager
	Scorer            *trust.Scorer
	Monitor           *monitor.Monitor
	TrustedIdentities []string
	Logger            *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	trusted := make(map[string]bool, len(cfg.TrustedIdentities))
	for _, id := range cfg.TrustedIdentities {
		trusted[id] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:      cfg.Store,
		embeddings: cfg.Embeddings,
		tokens:     cfg.Tokens,
		scorer:     cfg.Scorer,
		monitor:    cfg.Monitor,
		trusted:    trusted,
		logger:     logger,
	}
}

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError translates a component error into the HTTP envelope. Unknown
// errors are masked as internal.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var he *huberrors.HubError
	if !errors.As(err, &he) {
		h.logger.Error("unclassified error", "error", err)
		he = huberrors.NewInternalError("api", "internal error")
	}
	h.writeJSON(w, he.HTTPStatusCode(), ErrorResponse{Error: ErrorDetail{
		Message: he.Message,
		Type:    he.Type,
	}})
}

// decode parses the JSON request body into v.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return huberrors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

// emit forwards an event to the monitor queue when a monitor is attached.
func (h *Handler) emit(eventType, namespace string, payload map[string]any) {
	if h.monitor == nil {
		return
	}
	h.monitor.Emit(monitor.NewEvent(eventType, namespace, payload))
}

// recordSuccess updates the caller's trust counters without blocking the
// response.
func (h *Handler) recordSuccess(ctx context.Context) {
	authCtx := trust.GetAuthContext(ctx)
	if authCtx == nil || h.scorer == nil {
		return
	}
	identity := authCtx.Identity
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.scorer.RecordInteraction(rctx, identity, trust.OutcomeSuccess); err != nil {
			h.logger.Warn("failed to record success", "identity", identity, "error", err)
		}
	}()
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with request counting and latency observation.
func instrument(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RequestsTotal.WithLabelValues(action, strconv.Itoa(rec.status)).Inc()
		metrics.RequestLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
}
