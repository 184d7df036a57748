package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is the metadata stored alongside each index position. The vector
// itself lives only inside the index, keyed by the same position; the record
// list and the index must stay in lockstep.
type Record struct {
	ID        string         `json:"id"`
	Namespace string         `json:"namespace"`
	Content   string         `json:"content"`
	DocID     string         `json:"doc_id,omitempty"`
	Category  string         `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Deleted   bool           `json:"deleted"`
}

// SearchResult pairs a record with its similarity to the query.
type SearchResult struct {
	Record     *Record `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Stats describes the current shape of the index.
type Stats struct {
	Total        int     `json:"total"`
	Active       int     `json:"active"`
	Deleted      int     `json:"deleted"`
	DeletedRatio float64 `json:"deleted_ratio"`
	Dimensions   int     `json:"dimensions"`
}

// RebuildStats summarizes one index rebuild.
type RebuildStats struct {
	Before   int           `json:"before"`
	After    int           `json:"after"`
	Dropped  int           `json:"dropped"`
	Duration time.Duration `json:"duration"`
}

// DeterministicID derives an embedding id from the namespace and a content
// hash, so re-adding identical content in the same namespace is a no-op.
func DeterministicID(namespace, content string) string {
	sum := sha256.Sum256([]byte(content))
	return namespace + ":" + hex.EncodeToString(sum[:8])
}
