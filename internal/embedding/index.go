package embedding

import (
	"fmt"
	"sort"
)

// flatIndex is a brute-force inner-product index over unit vectors. Vectors
// are keyed by array position; the index never removes entries, which is why
// the service layers soft delete and periodic rebuild on top of it.
// The index is not synchronized; the service guards it.
type flatIndex struct {
	dimensions int
	vectors    [][]float32
}

func newFlatIndex(dimensions int) *flatIndex {
	return &flatIndex{dimensions: dimensions}
}

// Len returns the number of stored vectors, including ones whose records are
// soft-deleted.
func (ix *flatIndex) Len() int {
	return len(ix.vectors)
}

// Add appends a vector and returns its position.
func (ix *flatIndex) Add(vec []float32) (int, error) {
	if len(vec) != ix.dimensions {
		return 0, fmt.Errorf("vector has %d dimensions, index expects %d", len(vec), ix.dimensions)
	}
	ix.vectors = append(ix.vectors, vec)
	return len(ix.vectors) - 1, nil
}

// At returns the vector stored at pos.
func (ix *flatIndex) At(pos int) []float32 {
	return ix.vectors[pos]
}

// hit is one search candidate.
type hit struct {
	Position int
	Score    float32
}

// Search returns the top k candidates by inner product (cosine similarity for
// unit vectors), ordered by descending score with ties broken by insertion
// order (earlier wins).
func (ix *flatIndex) Search(query []float32, k int) []hit {
	if len(query) != ix.dimensions || k <= 0 {
		return nil
	}

	hits := make([]hit, 0, len(ix.vectors))
	for pos, vec := range ix.vectors {
		var dot float32
		for i, q := range query {
			dot += q * vec[i]
		}
		hits = append(hits, hit{Position: pos, Score: dot})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}
