package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEncoder generates deterministic embeddings from a text hash. It stands
// in for a real model in tests and air-gapped deployments: identical text
// always maps to the identical vector, and texts sharing tokens land nearer
// each other than unrelated texts because each token contributes its own
// hash-seeded component.
type HashEncoder struct {
	dimensions int
}

// NewHashEncoder creates a deterministic encoder with the given vector length.
func NewHashEncoder(dimensions int) *HashEncoder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEncoder{dimensions: dimensions}
}

// Encode produces one deterministic unit vector per input text.
func (h *HashEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.encodeOne(text)
	}
	return out, nil
}

func (h *HashEncoder) encodeOne(text string) []float32 {
	vec := make([]float32, h.dimensions)

	// Sum a pseudo-random component per token so shared tokens pull
	// vectors together.
	for _, token := range tokenize(text) {
		hash := fnv.New64a()
		_, _ = hash.Write([]byte(token))
		seed := hash.Sum64()
		for i := 0; i < h.dimensions; i++ {
			// Linear congruential step per dimension.
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return normalize(vec)
}

// Dimensions returns the vector length.
func (h *HashEncoder) Dimensions() int {
	return h.dimensions
}

func tokenize(text string) []string {
	var tokens []string
	var current []rune
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			current = append(current, r)
		case r >= 'A' && r <= 'Z':
			current = append(current, r+('a'-'A'))
		default:
			if len(current) > 0 {
				tokens = append(tokens, string(current))
				current = current[:0]
			}
		}
	}
	if len(current) > 0 {
		tokens = append(tokens, string(current))
	}
	return tokens
}
