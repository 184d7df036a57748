package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // PostgreSQL driver

	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

// PostgresStore implements Durable using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "memoryhub",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store and ensures the schema.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			namespace    TEXT NOT NULL,
			doc_id       TEXT NOT NULL,
			title        TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL DEFAULT '',
			metadata     JSONB,
			embedding_id TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, doc_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			namespace  TEXT NOT NULL,
			session_id TEXT NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			data       JSONB,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at) WHERE expires_at IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS experiences (
			namespace        TEXT NOT NULL,
			experience_id    TEXT NOT NULL,
			category         TEXT NOT NULL DEFAULT '',
			context          TEXT NOT NULL DEFAULT '',
			outcome          TEXT NOT NULL DEFAULT '',
			learning         TEXT NOT NULL DEFAULT '',
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			metadata         JSONB,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, experience_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trust_profiles (
			identity         TEXT PRIMARY KEY,
			base_score       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			successful_count BIGINT NOT NULL DEFAULT 0,
			failed_count     BIGINT NOT NULL DEFAULT 0,
			violation_count  BIGINT NOT NULL DEFAULT 0,
			recent_activity  JSONB,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertDocument inserts or updates a document.
func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *Document) error {
	metadataJSON, _ := json.Marshal(doc.Metadata)

	query := `
		INSERT INTO documents (namespace, doc_id, title, content, metadata, embedding_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now(), now())
		ON CONFLICT (namespace, doc_id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding_id = COALESCE(EXCLUDED.embedding_id, documents.embedding_id),
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		doc.Namespace, doc.DocID, doc.Title, doc.Content, metadataJSON, doc.EmbeddingID)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document or a NotFound error.
func (s *PostgresStore) GetDocument(ctx context.Context, namespace, docID string) (*Document, error) {
	query := `
		SELECT namespace, doc_id, title, content, metadata, embedding_id, created_at, updated_at
		FROM documents
		WHERE namespace = $1 AND doc_id = $2`

	var doc Document
	var metadataJSON []byte
	var embeddingID sql.NullString

	err := s.db.QueryRowContext(ctx, query, namespace, docID).Scan(
		&doc.Namespace, &doc.DocID, &doc.Title, &doc.Content,
		&metadataJSON, &embeddingID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, huberrors.NewNotFoundError("durable", "document not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}

	if embeddingID.Valid {
		doc.EmbeddingID = embeddingID.String
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("parse document metadata: %w", err)
		}
	}
	return &doc, nil
}

// DeleteDocument removes a document.
func (s *PostgresStore) DeleteDocument(ctx context.Context, namespace, docID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE namespace = $1 AND doc_id = $2`, namespace, docID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return huberrors.NewNotFoundError("durable", "document not found")
	}
	return nil
}

// UpsertSession inserts or refreshes a session.
func (s *PostgresStore) UpsertSession(ctx context.Context, session *Session) error {
	dataJSON, _ := json.Marshal(session.Data)

	query := `
		INSERT INTO sessions (namespace, session_id, user_id, data, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (namespace, session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		session.Namespace, session.SessionID, session.UserID, dataJSON, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session, excluding already-expired rows.
func (s *PostgresStore) GetSession(ctx context.Context, namespace, sessionID string) (*Session, error) {
	query := `
		SELECT namespace, session_id, user_id, data, expires_at, created_at, updated_at
		FROM sessions
		WHERE namespace = $1 AND session_id = $2
		  AND (expires_at IS NULL OR expires_at >= now())`

	session, err := s.scanSession(s.db.QueryRowContext(ctx, query, namespace, sessionID))
	if err == sql.ErrNoRows {
		return nil, huberrors.NewNotFoundError("durable", "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanSession(row rowScanner) (*Session, error) {
	var session Session
	var dataJSON []byte
	var expiresAt sql.NullTime

	err := row.Scan(
		&session.Namespace, &session.SessionID, &session.UserID,
		&dataJSON, &expiresAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		session.ExpiresAt = &expiresAt.Time
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &session.Data); err != nil {
			return nil, fmt.Errorf("parse session data: %w", err)
		}
	}
	return &session, nil
}

// DeleteSession removes a session.
func (s *PostgresStore) DeleteSession(ctx context.Context, namespace, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE namespace = $1 AND session_id = $2`, namespace, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return huberrors.NewNotFoundError("durable", "session not found")
	}
	return nil
}

// ListSessions returns all non-expired sessions in a namespace.
func (s *PostgresStore) ListSessions(ctx context.Context, namespace string) ([]*Session, error) {
	query := `
		SELECT namespace, session_id, user_id, data, expires_at, created_at, updated_at
		FROM sessions
		WHERE namespace = $1 AND (expires_at IS NULL OR expires_at >= now())
		ORDER BY session_id`

	rows, err := s.db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Session
	for rows.Next() {
		session, err := s.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// DeleteExpiredSessions removes every session whose expiry is before now.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AppendExperience appends an analytics record.
func (s *PostgresStore) AppendExperience(ctx context.Context, exp *Experience) error {
	metadataJSON, _ := json.Marshal(exp.Metadata)

	query := `
		INSERT INTO experiences (namespace, experience_id, category, context, outcome, learning, confidence_score, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (namespace, experience_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		exp.Namespace, exp.ExperienceID, exp.Category, exp.Context,
		exp.Outcome, exp.Learning, exp.Confidence, metadataJSON)
	if err != nil {
		return fmt.Errorf("append experience: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return huberrors.NewConflictError("durable", "experience id already exists")
	}
	return nil
}

// ListExperiences returns the most recent experiences for a namespace.
func (s *PostgresStore) ListExperiences(ctx context.Context, namespace, category string, limit int) ([]*Experience, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT namespace, experience_id, category, context, outcome, learning, confidence_score, metadata, created_at
		FROM experiences
		WHERE namespace = $1 AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, namespace, category, limit)
	if err != nil {
		return nil, fmt.Errorf("list experiences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Experience
	for rows.Next() {
		var exp Experience
		var metadataJSON []byte
		if err := rows.Scan(
			&exp.Namespace, &exp.ExperienceID, &exp.Category, &exp.Context,
			&exp.Outcome, &exp.Learning, &exp.Confidence, &metadataJSON, &exp.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan experience: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &exp.Metadata); err != nil {
				return nil, fmt.Errorf("parse experience metadata: %w", err)
			}
		}
		out = append(out, &exp)
	}
	return out, rows.Err()
}

// GetTrustProfile retrieves the counters for an identity.
func (s *PostgresStore) GetTrustProfile(ctx context.Context, identity string) (*TrustProfile, error) {
	query := `
		SELECT identity, base_score, successful_count, failed_count, violation_count, recent_activity, updated_at
		FROM trust_profiles
		WHERE identity = $1`

	var profile TrustProfile
	var activityJSON []byte

	err := s.db.QueryRowContext(ctx, query, identity).Scan(
		&profile.Identity, &profile.BaseScore, &profile.Successful,
		&profile.Failed, &profile.Violations, &activityJSON, &profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, huberrors.NewNotFoundError("durable", "trust profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query trust profile: %w", err)
	}

	if len(activityJSON) > 0 {
		if err := json.Unmarshal(activityJSON, &profile.RecentActivity); err != nil {
			return nil, fmt.Errorf("parse recent activity: %w", err)
		}
	}
	return &profile, nil
}

// UpsertTrustProfile stores the counters for an identity.
func (s *PostgresStore) UpsertTrustProfile(ctx context.Context, profile *TrustProfile) error {
	activityJSON, _ := json.Marshal(profile.RecentActivity)

	query := `
		INSERT INTO trust_profiles (identity, base_score, successful_count, failed_count, violation_count, recent_activity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (identity) DO UPDATE SET
			base_score = EXCLUDED.base_score,
			successful_count = EXCLUDED.successful_count,
			failed_count = EXCLUDED.failed_count,
			violation_count = EXCLUDED.violation_count,
			recent_activity = EXCLUDED.recent_activity,
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		profile.Identity, profile.BaseScore, profile.Successful,
		profile.Failed, profile.Violations, activityJSON)
	if err != nil {
		return fmt.Errorf("upsert trust profile: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
