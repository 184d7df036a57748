package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

// MemoryStore implements Durable entirely in memory. It backs tests and
// single-binary deployments that have no Postgres available.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   map[string]*Document // key: namespace + "\x00" + doc_id
	sessions    map[string]*Session
	experiences []*Experience
	profiles    map[string]*TrustProfile
}

// NewMemoryStore creates a new in-memory durable store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*Document),
		sessions:  make(map[string]*Session),
		profiles:  make(map[string]*TrustProfile),
	}
}

func compositeKey(namespace, id string) string {
	return namespace + "\x00" + id
}

// UpsertDocument inserts or updates a document.
func (s *MemoryStore) UpsertDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(doc.Namespace, doc.DocID)
	now := time.Now()
	if existing, ok := s.documents[key]; ok {
		doc.CreatedAt = existing.CreatedAt
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	cp := *doc
	s.documents[key] = &cp
	return nil
}

// GetDocument retrieves a document or a NotFound error.
func (s *MemoryStore) GetDocument(ctx context.Context, namespace, docID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[compositeKey(namespace, docID)]
	if !ok {
		return nil, huberrors.NewNotFoundError("durable", "document not found")
	}
	cp := *doc
	return &cp, nil
}

// DeleteDocument removes a document.
func (s *MemoryStore) DeleteDocument(ctx context.Context, namespace, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(namespace, docID)
	if _, ok := s.documents[key]; !ok {
		return huberrors.NewNotFoundError("durable", "document not found")
	}
	delete(s.documents, key)
	return nil
}

// UpsertSession inserts or refreshes a session.
func (s *MemoryStore) UpsertSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(session.Namespace, session.SessionID)
	now := time.Now()
	if existing, ok := s.sessions[key]; ok {
		session.CreatedAt = existing.CreatedAt
	} else if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	cp := *session
	s.sessions[key] = &cp
	return nil
}

// GetSession retrieves a session. Already-expired sessions are treated as
// absent even before the sweep loop removes them.
func (s *MemoryStore) GetSession(ctx context.Context, namespace, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[compositeKey(namespace, sessionID)]
	if !ok || session.Expired(time.Now()) {
		return nil, huberrors.NewNotFoundError("durable", "session not found")
	}
	cp := *session
	return &cp, nil
}

// DeleteSession removes a session.
func (s *MemoryStore) DeleteSession(ctx context.Context, namespace, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(namespace, sessionID)
	if _, ok := s.sessions[key]; !ok {
		return huberrors.NewNotFoundError("durable", "session not found")
	}
	delete(s.sessions, key)
	return nil
}

// ListSessions returns all non-expired sessions in a namespace.
func (s *MemoryStore) ListSessions(ctx context.Context, namespace string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*Session
	for _, session := range s.sessions {
		if session.Namespace != namespace || session.Expired(now) {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// DeleteExpiredSessions removes every session whose expiry is before now.
func (s *MemoryStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// AppendExperience appends an analytics record.
func (s *MemoryStore) AppendExperience(ctx context.Context, exp *Experience) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now()
	}
	cp := *exp
	s.experiences = append(s.experiences, &cp)
	return nil
}

// ListExperiences returns the most recent experiences for a namespace,
// optionally filtered by category.
func (s *MemoryStore) ListExperiences(ctx context.Context, namespace, category string, limit int) ([]*Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Experience
	for i := len(s.experiences) - 1; i >= 0; i-- {
		exp := s.experiences[i]
		if exp.Namespace != namespace {
			continue
		}
		if category != "" && exp.Category != category {
			continue
		}
		cp := *exp
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetTrustProfile retrieves the counters for an identity.
func (s *MemoryStore) GetTrustProfile(ctx context.Context, identity string) (*TrustProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[identity]
	if !ok {
		return nil, huberrors.NewNotFoundError("durable", "trust profile not found")
	}
	cp := *profile
	cp.RecentActivity = append([]string(nil), profile.RecentActivity...)
	return &cp, nil
}

// UpsertTrustProfile stores the counters for an identity.
func (s *MemoryStore) UpsertTrustProfile(ctx context.Context, profile *TrustProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile.UpdatedAt = time.Now()
	cp := *profile
	cp.RecentActivity = append([]string(nil), profile.RecentActivity...)
	s.profiles[profile.Identity] = &cp
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
