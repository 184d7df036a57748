// Package storage unifies the fast key-value store and the durable structured
// store behind one namespaced manager. Many legacy callers share the same
// physical stores; the namespacing scheme here is what keeps them from
// colliding.
package storage

import (
	"context"
	"time"
)

// LogicalDB identifies one of the fast store's logical partitions.
type LogicalDB string

const (
	DBCache     LogicalDB = "cache"     // Ephemeral values, health snapshots, events
	DBSessions  LogicalDB = "sessions"  // Session activity markers
	DBKnowledge LogicalDB = "knowledge" // Knowledge-base scratch data
	DBAuth      LogicalDB = "auth"      // Trust score cache
)

// ValidDB reports whether db names a known logical partition.
func ValidDB(db LogicalDB) bool {
	switch db {
	case DBCache, DBSessions, DBKnowledge, DBAuth:
		return true
	}
	return false
}

// Document is a durable knowledge record, unique on (namespace, doc_id).
type Document struct {
	Namespace   string         `json:"namespace"`
	DocID       string         `json:"doc_id"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	EmbeddingID string         `json:"embedding_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Session is a durable session record, unique on (namespace, session_id).
// A nil ExpiresAt means the session never expires.
type Session struct {
	Namespace string         `json:"namespace"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Data      map[string]any `json:"data,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Expired reports whether the session's expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Experience is an append-mostly analytics record.
type Experience struct {
	Namespace    string         `json:"namespace"`
	ExperienceID string         `json:"experience_id"`
	Category     string         `json:"category"`
	Context      string         `json:"context,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	Learning     string         `json:"learning,omitempty"`
	Confidence   float64        `json:"confidence_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TrustProfile holds per-identity interaction counters for trust scoring.
// The cached score itself lives in the fast store, not here.
type TrustProfile struct {
	Identity       string    `json:"identity"`
	BaseScore      float64   `json:"base_score"`
	Successful     int64     `json:"successful_count"`
	Failed         int64     `json:"failed_count"`
	Violations     int64     `json:"violation_count"`
	RecentActivity []string  `json:"recent_activity,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TotalRequests returns the total recorded interaction count.
func (p *TrustProfile) TotalRequests() int64 {
	return p.Successful + p.Failed
}

// KV is the fast key-value store. Keys passed here are already namespaced by
// the Manager; implementations only add the logical database prefix.
// Get returns nil, nil when the key is absent.
type KV interface {
	Get(ctx context.Context, db LogicalDB, key string) ([]byte, error)
	Set(ctx context.Context, db LogicalDB, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, db LogicalDB, keys ...string) (int64, error)
	Keys(ctx context.Context, db LogicalDB, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Durable is the structured store holding documents, sessions, experiences,
// and trust profiles. Reads are always filtered by namespace.
type Durable interface {
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, namespace, docID string) (*Document, error)
	DeleteDocument(ctx context.Context, namespace, docID string) error

	UpsertSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, namespace, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, namespace, sessionID string) error
	ListSessions(ctx context.Context, namespace string) ([]*Session, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	AppendExperience(ctx context.Context, exp *Experience) error
	ListExperiences(ctx context.Context, namespace, category string, limit int) ([]*Experience, error)

	GetTrustProfile(ctx context.Context, identity string) (*TrustProfile, error)
	UpsertTrustProfile(ctx context.Context, profile *TrustProfile) error

	Ping(ctx context.Context) error
	Close() error
}
