// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// embedQueryTimeout is the per-call embedding timeout. Lookup is on the
// onboarding hot path; 3 seconds is ample for a local Ollama call.
const embedQueryTimeout = 3 * time.Second

// Embedder converts mapping text into a vector for similarity comparison.
//
// # Description
//
// The contract every implementation must satisfy:
//   - Identical text produces identical vectors (distance ~0).
//   - Related abbreviations ("cust_id" vs "customer_id") land comfortably
//     under the acceptance threshold.
//   - Unrelated text lands over the threshold.
//
// Vectors are unit-normalized so cosine similarity reduces to a dot product.
type Embedder interface {
	// Embed returns the unit-normalized embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Signature identifies the backend and model. Vectors from different
	// signatures are not comparable; the store re-embeds on a signature
	// change.
	Signature() string
}

// =============================================================================
// Ollama Embedder
// =============================================================================

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
//
// # Description
//
// Embedding-based matching is semantically robust: "cust_id maps to
// customer_id" and "customer_id maps to customer_id" produce nearly
// identical vectors regardless of exact word form. If Ollama is unreachable
// the caller should fall back to a HashEmbedder rather than failing the
// onboarding run.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewOllamaEmbedder creates an embedder from environment configuration.
//
// Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment,
// with the same defaults the rest of the platform uses.
func NewOllamaEmbedder(logger *slog.Logger) *OllamaEmbedder {
	if logger == nil {
		logger = slog.Default()
	}

	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		url = "http://host.containers.internal:11434/api/embed"
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}

	return &OllamaEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Embed calls the Ollama /api/embed endpoint and returns the unit-normalized
// embedding vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, embedQueryTimeout)
	defer cancel()

	reqBody, err := json.Marshal(ollamaEmbedReq{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(embedCtx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var ollamaResp ollamaEmbedResp
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(ollamaResp.Embeddings) == 0 || len(ollamaResp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}

	return unitNormalize(ollamaResp.Embeddings[0]), nil
}

// Signature implements Embedder.
func (e *OllamaEmbedder) Signature() string {
	return "ollama/" + e.model
}

// =============================================================================
// Hash Embedder (deterministic degraded mode)
// =============================================================================

// hashEmbedderDims is the vector dimensionality of the HashEmbedder.
// 512 buckets keeps trigram collisions rare for field-name-sized inputs.
const hashEmbedderDims = 512

// HashEmbedder produces deterministic vectors from character trigrams.
//
// # Description
//
// Degraded mode for deployments without an embedding service, and the
// default in tests. Each whitespace/underscore-tokenized word contributes
// its padded character trigrams, hashed into a fixed number of buckets.
// Identical text embeds to the identical vector; strings sharing most
// trigrams ("cust_id" vs "customer_id" share "cus"/"_id"/"id_") score a
// small cosine distance; disjoint strings score near 1.
//
// Not a substitute for a real embedding model on adversarial vocabulary,
// but it satisfies the similarity contract on the column-name corpus this
// service sees, and it is fully reproducible.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
type HashEmbedder struct{}

// NewHashEmbedder creates a deterministic trigram-hash embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

// Embed returns the unit-normalized trigram-bucket vector for text.
// It never fails; the error return exists to satisfy Embedder.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashEmbedderDims)
	for _, tok := range tokenizeForEmbedding(text) {
		padded := "_" + tok + "_"
		for i := 0; i+3 <= len(padded); i++ {
			h := fnv.New32a()
			_, _ = h.Write([]byte(padded[i : i+3]))
			vec[h.Sum32()%hashEmbedderDims]++
		}
	}
	return unitNormalize(vec), nil
}

// Signature implements Embedder.
func (e *HashEmbedder) Signature() string {
	return "hash/trigram/v1"
}

// tokenizeForEmbedding lowercases and splits on underscores, spaces, and
// punctuation so "Cust_ID" and "cust id" embed identically.
func tokenizeForEmbedding(text string) []string {
	f := func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}
	return strings.FieldsFunc(strings.ToLower(text), f)
}

// =============================================================================
// Vector Helpers
// =============================================================================

// unitNormalize returns v scaled to unit length. A zero vector is returned
// unchanged.
func unitNormalize(v []float32) []float32 {
	norm := l2Norm(v)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / float32(norm)
	}
	return out
}

// l2Norm computes the L2 (Euclidean) norm of a float32 vector.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// dotProduct computes the dot product of two float32 vectors.
// Mismatched lengths use the shorter.
func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// cosineDistance converts two unit vectors into a distance in [0, 2]:
// 0 = identical direction, 1 = orthogonal.
func cosineDistance(a, b []float32) float64 {
	return 1 - float64(dotProduct(a, b))
}
