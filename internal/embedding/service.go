package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/memoryhub/internal/metrics"
	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

const (
	// overFetchFactor compensates for post-filtering of soft-deleted and
	// out-of-namespace candidates.
	overFetchFactor = 4
	minOverFetch    = 50

	rebuildBatchSize = 32
)

// Service owns the similarity index and the parallel record list. Inserts
// append under a lock; rebuilds re-encode against a private index and only
// take the write lock for the final pointer swap, so searches are never
// blocked for the duration of a rebuild.
type Service struct {
	encoder Encoder
	logger  *slog.Logger

	indexPath    string
	metadataPath string
	threshold    float64
	rebuildRatio float64

	mu      sync.RWMutex
	index   *flatIndex
	records []*Record
	byID    map[string]int

	// rebuildMu serializes rebuilds without blocking reads or writes.
	rebuildMu sync.Mutex
}

// ServiceConfig contains dependencies and tuning for the embedding service.
type ServiceConfig struct {
	Encoder             Encoder
	Logger              *slog.Logger
	IndexPath           string
	MetadataPath        string
	SimilarityThreshold float64
	RebuildRatio        float64
}

// NewService creates the embedding service, loading any persisted index.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.3
	}
	if cfg.RebuildRatio <= 0 {
		cfg.RebuildRatio = 0.2
	}

	s := &Service{
		encoder:      cfg.Encoder,
		logger:       cfg.Logger,
		indexPath:    cfg.IndexPath,
		metadataPath: cfg.MetadataPath,
		threshold:    cfg.SimilarityThreshold,
		rebuildRatio: cfg.RebuildRatio,
		index:        newFlatIndex(cfg.Encoder.Dimensions()),
		byID:         make(map[string]int),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load persisted index: %w", err)
	}
	s.publishGauges()
	return s, nil
}

// AddRequest describes one embedding insert.
type AddRequest struct {
	Namespace string
	Content   string
	DocID     string
	Category  string
	Metadata  map[string]any
}

// Add computes a deterministic id for the content and inserts it into the
// index. Re-adding identical content in the same namespace is idempotent and
// returns the existing id without re-encoding. Re-adding soft-deleted content
// revives the existing entry; its vector is already in the index.
func (s *Service) Add(ctx context.Context, req AddRequest) (string, error) {
	if req.Content == "" {
		return "", huberrors.NewValidationError("embedding content is required")
	}
	if req.Namespace == "" {
		req.Namespace = "default"
	}
	id := DeterministicID(req.Namespace, req.Content)

	s.mu.RLock()
	if pos, ok := s.byID[id]; ok && !s.records[pos].Deleted {
		s.mu.RUnlock()
		return id, nil
	}
	s.mu.RUnlock()

	// Encode outside the lock; the encoder call is the slow part.
	vecs, err := s.encoder.Encode(ctx, []string{req.Content})
	if err != nil {
		return "", huberrors.NewIndexUnavailableError("encoder", err.Error())
	}
	vec := normalize(vecs[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check: another caller may have inserted the same content.
	if pos, ok := s.byID[id]; ok {
		rec := s.records[pos]
		if rec.Deleted {
			rec.Deleted = false
			rec.DocID = req.DocID
			rec.Category = req.Category
			rec.Metadata = req.Metadata
		}
		return id, nil
	}

	pos, err := s.index.Add(vec)
	if err != nil {
		return "", huberrors.NewIndexUnavailableError("index", err.Error())
	}
	s.records = append(s.records, &Record{
		ID:        id,
		Namespace: req.Namespace,
		Content:   req.Content,
		DocID:     req.DocID,
		Category:  req.Category,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	})
	s.byID[id] = pos

	s.publishGaugesLocked()
	return id, nil
}

// SearchRequest describes one similarity lookup.
type SearchRequest struct {
	Query     string
	Namespace string // empty matches all namespaces
	Limit     int
	// MinSimilarity overrides the configured threshold when non-nil.
	MinSimilarity *float64
}

// Search encodes the query and returns up to Limit results ordered by
// descending similarity, ties broken by insertion order. Soft-deleted records
// are never returned.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if req.Query == "" {
		return nil, huberrors.NewValidationError("search query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	threshold := s.threshold
	if req.MinSimilarity != nil {
		threshold = *req.MinSimilarity
	}

	vecs, err := s.encoder.Encode(ctx, []string{req.Query})
	if err != nil {
		return nil, huberrors.NewIndexUnavailableError("encoder", err.Error())
	}
	query := normalize(vecs[0])

	fetch := limit * overFetchFactor
	if fetch < minOverFetch {
		fetch = minOverFetch
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics.EmbeddingSearches.Inc()

	results := make([]SearchResult, 0, limit)
	for _, h := range s.index.Search(query, fetch) {
		if float64(h.Score) < threshold {
			// Candidates are ordered by score; nothing below passes either.
			break
		}
		rec := s.records[h.Position]
		if rec.Deleted {
			continue
		}
		if req.Namespace != "" && rec.Namespace != req.Namespace {
			continue
		}
		cp := *rec
		results = append(results, SearchResult{Record: &cp, Similarity: float64(h.Score)})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Delete marks the record as deleted. The index entry remains addressable
// internally but is filtered out of every search until a rebuild drops it.
// Returns false when the id is unknown or already deleted.
func (s *Service) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok || s.records[pos].Deleted {
		return false
	}
	s.records[pos].Deleted = true
	s.publishGaugesLocked()
	return true
}

// Stats returns the current index shape.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Service) statsLocked() Stats {
	st := Stats{
		Total:      len(s.records),
		Dimensions: s.index.dimensions,
	}
	for _, rec := range s.records {
		if rec.Deleted {
			st.Deleted++
		}
	}
	st.Active = st.Total - st.Deleted
	if st.Total > 0 {
		st.DeletedRatio = float64(st.Deleted) / float64(st.Total)
	}
	return st
}

// NeedsRebuild reports whether the soft-deleted ratio has crossed the
// configured rebuild threshold.
func (s *Service) NeedsRebuild() bool {
	st := s.Stats()
	return st.Total > 0 && st.DeletedRatio >= s.rebuildRatio
}

// Rebuild recomputes the index from scratch using only non-deleted records:
// active content is re-encoded in batches against a private index, which is
// then swapped in atomically. This is the only operation that reclaims space
// from soft-deleted entries.
func (s *Service) Rebuild(ctx context.Context) (RebuildStats, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := time.Now()

	// Snapshot active records. Appends past snapLen are carried over at swap
	// time by copying their vectors from the old index.
	s.mu.RLock()
	snapLen := len(s.records)
	before := snapLen
	active := make([]*Record, 0, snapLen)
	for i := 0; i < snapLen; i++ {
		if !s.records[i].Deleted {
			cp := *s.records[i]
			active = append(active, &cp)
		}
	}
	s.mu.RUnlock()

	newIndex := newFlatIndex(s.encoder.Dimensions())
	newRecords := make([]*Record, 0, len(active))
	newByID := make(map[string]int, len(active))

	for offset := 0; offset < len(active); offset += rebuildBatchSize {
		end := offset + rebuildBatchSize
		if end > len(active) {
			end = len(active)
		}
		batch := active[offset:end]

		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.Content
		}
		vecs, err := s.encoder.Encode(ctx, texts)
		if err != nil {
			return RebuildStats{}, huberrors.NewIndexUnavailableError("encoder", err.Error())
		}
		for i, rec := range batch {
			pos, err := newIndex.Add(normalize(vecs[i]))
			if err != nil {
				s.logger.Warn("skipping record during rebuild", "id", rec.ID, "error", err)
				continue
			}
			newRecords = append(newRecords, rec)
			newByID[rec.ID] = pos
		}
	}

	// Exclusive section: only the pointer swap, not the re-encoding above.
	s.mu.Lock()
	for pos := snapLen; pos < len(s.records); pos++ {
		rec := s.records[pos]
		if rec.Deleted {
			continue
		}
		np, err := newIndex.Add(s.index.At(pos))
		if err != nil {
			s.logger.Warn("skipping record during rebuild carry-over", "id", rec.ID, "error", err)
			continue
		}
		newRecords = append(newRecords, rec)
		newByID[rec.ID] = np
	}
	// Records deleted while the rebuild ran stay deleted in the new index.
	for i := 0; i < snapLen; i++ {
		rec := s.records[i]
		if rec.Deleted {
			if np, ok := newByID[rec.ID]; ok {
				newRecords[np].Deleted = true
			}
		}
	}
	s.index = newIndex
	s.records = newRecords
	s.byID = newByID
	after := len(newRecords)
	s.publishGaugesLocked()
	s.mu.Unlock()

	metrics.IndexRebuilds.Inc()

	stats := RebuildStats{
		Before:   before,
		After:    after,
		Dropped:  before - after,
		Duration: time.Since(start),
	}
	s.logger.Info("index rebuilt",
		"before", stats.Before,
		"after", stats.After,
		"dropped", stats.Dropped,
		"duration", stats.Duration,
	)
	return stats, nil
}

// Ping verifies the index and record list are in lockstep.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) != s.index.Len() {
		return huberrors.NewIndexUnavailableError("index",
			fmt.Sprintf("record list (%d) out of lockstep with index (%d)", len(s.records), s.index.Len()))
	}
	return nil
}

// =============================================================================
// Persistence
// =============================================================================

type indexFile struct {
	Dimensions int         `json:"dimensions"`
	Vectors    [][]float32 `json:"vectors"`
}

type metadataFile struct {
	Records []*Record `json:"records"`
}

// Save writes the index and metadata files atomically (temp file + rename).
// The two files are rewritten together so a crash never leaves them torn.
func (s *Service) Save() error {
	if s.indexPath == "" || s.metadataPath == "" {
		return nil
	}

	s.mu.RLock()
	idxData, err := json.Marshal(indexFile{
		Dimensions: s.index.dimensions,
		Vectors:    s.index.vectors,
	})
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("marshal index: %w", err)
	}
	metaData, err := json.Marshal(metadataFile{Records: s.records})
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if err := writeFileAtomic(s.indexPath, idxData); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	if err := writeFileAtomic(s.metadataPath, metaData); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}
	return nil
}

func (s *Service) load() error {
	if s.indexPath == "" || s.metadataPath == "" {
		return nil
	}
	idxData, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	metaData, err := os.ReadFile(s.metadataPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var idx indexFile
	if err := json.Unmarshal(idxData, &idx); err != nil {
		return fmt.Errorf("parse index file: %w", err)
	}
	var meta metadataFile
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return fmt.Errorf("parse metadata file: %w", err)
	}

	if len(idx.Vectors) > len(meta.Records) {
		// The metadata list is authoritative. Trailing vectors with no record
		// cannot be attributed to content, so they are dropped; a rebuild
		// re-encodes active content and restores lockstep.
		s.logger.Warn("dropping index vectors without metadata",
			"vectors", len(idx.Vectors), "records", len(meta.Records))
		idx.Vectors = idx.Vectors[:len(meta.Records)]
	}
	if len(idx.Vectors) < len(meta.Records) {
		return fmt.Errorf("metadata (%d records) exceeds index (%d vectors)",
			len(meta.Records), len(idx.Vectors))
	}
	if idx.Dimensions != s.encoder.Dimensions() {
		return fmt.Errorf("persisted index has %d dimensions, encoder produces %d",
			idx.Dimensions, s.encoder.Dimensions())
	}

	s.index = &flatIndex{dimensions: idx.Dimensions, vectors: idx.Vectors}
	s.records = meta.Records
	s.byID = make(map[string]int, len(meta.Records))
	for pos, rec := range meta.Records {
		s.byID[rec.ID] = pos
	}
	return nil
}

// Close persists the index before shutdown.
func (s *Service) Close() error {
	return s.Save()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Service) publishGauges() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.publishGaugesLocked()
}

func (s *Service) publishGaugesLocked() {
	st := s.statsLocked()
	metrics.IndexSize.Set(float64(st.Total))
	metrics.IndexDeletedRatio.Set(st.DeletedRatio)
}
