package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/memoryhub/internal/metrics"
	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

const defaultCallTimeout = 5 * time.Second

// Manager unifies the fast store and the durable store behind namespaced
// operations. Callers never see raw keys; every key is prefixed per the
// namespace registry before touching the backing store, and reads against the
// durable store are filtered by namespace.
//
// Failure semantics: a fast-store failure surfaces as StorageUnavailable with
// component "fast_store"; a durable failure as component "durable". Trust
// caching depends on the fast store while counters depend on the durable
// store, so callers must be able to tell which half failed.
type Manager struct {
	kv      KV
	durable Durable
	logger  *slog.Logger
	timeout time.Duration

	fastOps     atomic.Int64
	fastErrs    atomic.Int64
	durableOps  atomic.Int64
	durableErrs atomic.Int64
}

// ManagerConfig contains dependencies for the storage manager.
type ManagerConfig struct {
	KV          KV
	Durable     Durable
	Logger      *slog.Logger
	CallTimeout time.Duration // Per-call bound on store operations
}

// NewManager creates a storage manager over the two backing stores.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Manager{
		kv:      cfg.KV,
		durable: cfg.Durable,
		logger:  cfg.Logger,
		timeout: cfg.CallTimeout,
	}
}

// ManagerStats is a point-in-time snapshot of the operation counters, reported
// in the monitor's health snapshot.
type ManagerStats struct {
	FastOps       int64 `json:"fast_ops"`
	FastErrors    int64 `json:"fast_errors"`
	DurableOps    int64 `json:"durable_ops"`
	DurableErrors int64 `json:"durable_errors"`
}

// Stats returns the counters accumulated since construction.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		FastOps:       m.fastOps.Load(),
		FastErrors:    m.fastErrs.Load(),
		DurableOps:    m.durableOps.Load(),
		DurableErrors: m.durableErrs.Load(),
	}
}

func (m *Manager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// fastErr classifies a fast-store failure.
func (m *Manager) fastErr(err error) error {
	m.fastErrs.Add(1)
	return huberrors.NewStorageUnavailableError("fast_store", err.Error())
}

// durableErr classifies a durable-store failure. Typed errors such as NotFound
// pass through unchanged and are not counted as store failures.
func (m *Manager) durableErr(err error) error {
	var he *huberrors.HubError
	if errors.As(err, &he) {
		return he
	}
	m.durableErrs.Add(1)
	return huberrors.NewStorageUnavailableError("durable", err.Error())
}

// =============================================================================
// Fast store operations
// =============================================================================

// Get retrieves a namespaced value from the fast store.
// Returns nil, nil when the key is absent.
func (m *Manager) Get(ctx context.Context, db LogicalDB, namespace, key string) ([]byte, error) {
	if !ValidDB(db) {
		return nil, huberrors.NewValidationError("unknown logical database: " + string(db))
	}
	m.fastOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	val, err := m.kv.Get(ctx, db, BuildKey(namespace, key))
	if err != nil {
		metrics.CacheOps.WithLabelValues(string(db), "get", "error").Inc()
		return nil, m.fastErr(err)
	}
	if val == nil {
		metrics.CacheOps.WithLabelValues(string(db), "get", "miss").Inc()
	} else {
		metrics.CacheOps.WithLabelValues(string(db), "get", "hit").Inc()
	}
	return val, nil
}

// Set stores a namespaced value in the fast store. A ttl of zero means no expiry.
func (m *Manager) Set(ctx context.Context, db LogicalDB, namespace, key string, value []byte, ttl time.Duration) error {
	if !ValidDB(db) {
		return huberrors.NewValidationError("unknown logical database: " + string(db))
	}
	m.fastOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.kv.Set(ctx, db, BuildKey(namespace, key), value, ttl); err != nil {
		metrics.CacheOps.WithLabelValues(string(db), "set", "error").Inc()
		return m.fastErr(err)
	}
	metrics.CacheOps.WithLabelValues(string(db), "set", "ok").Inc()
	return nil
}

// Delete removes a namespaced key and returns the number of keys deleted.
func (m *Manager) Delete(ctx context.Context, db LogicalDB, namespace, key string) (int64, error) {
	if !ValidDB(db) {
		return 0, huberrors.NewValidationError("unknown logical database: " + string(db))
	}
	m.fastOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	n, err := m.kv.Delete(ctx, db, BuildKey(namespace, key))
	if err != nil {
		metrics.CacheOps.WithLabelValues(string(db), "delete", "error").Inc()
		return 0, m.fastErr(err)
	}
	metrics.CacheOps.WithLabelValues(string(db), "delete", "ok").Inc()
	return n, nil
}

// ListKeys returns the caller's keys matching pattern with the namespace
// prefix stripped, so callers reason only in their own key space.
func (m *Manager) ListKeys(ctx context.Context, db LogicalDB, namespace, pattern string) ([]string, error) {
	if !ValidDB(db) {
		return nil, huberrors.NewValidationError("unknown logical database: " + string(db))
	}
	if pattern == "" {
		pattern = "*"
	}
	m.fastOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	keys, err := m.kv.Keys(ctx, db, PrefixFor(namespace)+":"+pattern)
	if err != nil {
		return nil, m.fastErr(err)
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if raw, ok := StripKey(namespace, k); ok {
			out = append(out, raw)
		}
	}
	return out, nil
}

// PurgeNamespace deletes every fast-store key under a namespace prefix.
func (m *Manager) PurgeNamespace(ctx context.Context, db LogicalDB, namespace string) (int64, error) {
	if !ValidDB(db) {
		return 0, huberrors.NewValidationError("unknown logical database: " + string(db))
	}
	m.fastOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	keys, err := m.kv.Keys(ctx, db, PrefixFor(namespace)+":*")
	if err != nil {
		return 0, m.fastErr(err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := m.kv.Delete(ctx, db, keys...)
	if err != nil {
		return 0, m.fastErr(err)
	}
	return n, nil
}

// =============================================================================
// Durable store operations
// =============================================================================

// UpsertDocument creates or updates a document.
func (m *Manager) UpsertDocument(ctx context.Context, doc *Document) error {
	if doc.Namespace == "" || doc.DocID == "" {
		return huberrors.NewValidationError("document namespace and doc_id are required")
	}
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.durable.UpsertDocument(ctx, doc); err != nil {
		metrics.DurableOps.WithLabelValues("document", "upsert", "error").Inc()
		return m.durableErr(err)
	}
	metrics.DurableOps.WithLabelValues("document", "upsert", "ok").Inc()
	return nil
}

// GetDocument retrieves a document within a namespace.
func (m *Manager) GetDocument(ctx context.Context, namespace, docID string) (*Document, error) {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	doc, err := m.durable.GetDocument(ctx, namespace, docID)
	if err != nil {
		return nil, m.durableErr(err)
	}
	metrics.DurableOps.WithLabelValues("document", "get", "ok").Inc()
	return doc, nil
}

// DeleteDocument removes a document within a namespace.
func (m *Manager) DeleteDocument(ctx context.Context, namespace, docID string) error {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.durable.DeleteDocument(ctx, namespace, docID); err != nil {
		return m.durableErr(err)
	}
	return nil
}

// UpsertSession creates a session on first write and refreshes it on update.
func (m *Manager) UpsertSession(ctx context.Context, session *Session) error {
	if session.Namespace == "" || session.SessionID == "" {
		return huberrors.NewValidationError("session namespace and session_id are required")
	}
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.durable.UpsertSession(ctx, session); err != nil {
		metrics.DurableOps.WithLabelValues("session", "upsert", "error").Inc()
		return m.durableErr(err)
	}
	metrics.DurableOps.WithLabelValues("session", "upsert", "ok").Inc()
	return nil
}

// GetSession retrieves a session; already-expired sessions read as absent.
func (m *Manager) GetSession(ctx context.Context, namespace, sessionID string) (*Session, error) {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	session, err := m.durable.GetSession(ctx, namespace, sessionID)
	if err != nil {
		return nil, m.durableErr(err)
	}
	return session, nil
}

// DeleteSession removes a session.
func (m *Manager) DeleteSession(ctx context.Context, namespace, sessionID string) error {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.durable.DeleteSession(ctx, namespace, sessionID); err != nil {
		return m.durableErr(err)
	}
	return nil
}

// ListSessions returns all live sessions in a namespace.
func (m *Manager) ListSessions(ctx context.Context, namespace string) ([]*Session, error) {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	sessions, err := m.durable.ListSessions(ctx, namespace)
	if err != nil {
		return nil, m.durableErr(err)
	}
	return sessions, nil
}

// DeleteExpiredSessions removes every expired session across all namespaces.
// Used by the monitor's sweep loop.
func (m *Manager) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	n, err := m.durable.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, m.durableErr(err)
	}
	return n, nil
}

// AppendExperience appends an analytics record.
func (m *Manager) AppendExperience(ctx context.Context, exp *Experience) error {
	if exp.Namespace == "" || exp.ExperienceID == "" {
		return huberrors.NewValidationError("experience namespace and experience_id are required")
	}
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.durable.AppendExperience(ctx, exp); err != nil {
		metrics.DurableOps.WithLabelValues("experience", "append", "error").Inc()
		return m.durableErr(err)
	}
	metrics.DurableOps.WithLabelValues("experience", "append", "ok").Inc()
	return nil
}

// ListExperiences returns recent experiences for a namespace.
func (m *Manager) ListExperiences(ctx context.Context, namespace, category string, limit int) ([]*Experience, error) {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	out, err := m.durable.ListExperiences(ctx, namespace, category, limit)
	if err != nil {
		return nil, m.durableErr(err)
	}
	return out, nil
}

// GetTrustProfile retrieves the trust counters for an identity.
func (m *Manager) GetTrustProfile(ctx context.Context, identity string) (*TrustProfile, error) {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	profile, err := m.durable.GetTrustProfile(ctx, identity)
	if err != nil {
		return nil, m.durableErr(err)
	}
	return profile, nil
}

// UpsertTrustProfile stores the trust counters for an identity.
func (m *Manager) UpsertTrustProfile(ctx context.Context, profile *TrustProfile) error {
	m.durableOps.Add(1)
	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.durable.UpsertTrustProfile(ctx, profile); err != nil {
		return m.durableErr(err)
	}
	return nil
}

// =============================================================================
// Health
// =============================================================================

// PingFast checks connectivity to the fast store.
func (m *Manager) PingFast(ctx context.Context) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	if err := m.kv.Ping(ctx); err != nil {
		return m.fastErr(err)
	}
	return nil
}

// PingDurable checks connectivity to the durable store.
func (m *Manager) PingDurable(ctx context.Context) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	if err := m.durable.Ping(ctx); err != nil {
		return m.durableErr(err)
	}
	return nil
}

// Close releases both stores.
func (m *Manager) Close() error {
	kvErr := m.kv.Close()
	dbErr := m.durable.Close()
	if kvErr != nil {
		return kvErr
	}
	return dbErr
}
