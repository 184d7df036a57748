// Package embedding provides content encoding and approximate-similarity
// search over a persistent flat vector index. The index supports incremental
// insert, soft delete, and full rebuild without blocking searches.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Encoder converts text into fixed-length vectors. Implementations must be
// safe for concurrent use.
type Encoder interface {
	// Encode returns one vector per input text, in order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length produced by this encoder.
	Dimensions() int
}

// HTTPEncoder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEncoder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// HTTPEncoderConfig configures the HTTP encoder.
type HTTPEncoderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewHTTPEncoder creates an encoder backed by a remote embeddings endpoint.
func NewHTTPEncoder(cfg HTTPEncoderConfig) (*HTTPEncoder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("encoder base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("encoder model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("encoder dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEncoder{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Encode sends the batch to the embeddings endpoint.
func (e *HTTPEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, raw)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings endpoint returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (e *HTTPEncoder) Dimensions() int {
	return e.dimensions
}

// normalize scales vec to unit length in place and returns it.
// A zero vector is returned unchanged.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
