// Package memory – embedder.go provides a deterministic local embedder
// used when no embedding API is configured (and in tests). It hashes
// token n-grams into a fixed-size vector: crude, but stable, offline
// and good enough for coarse fact recall.
package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// hashDimensions is the fixed vector size of the local embedder.
const hashDimensions = 256

// HashEmbedder is an offline, deterministic runtime.Embedder.
type HashEmbedder struct{}

// NewHashEmbedder creates the local fallback embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

// Embed maps text to a normalized bag-of-tokens hash vector. Identical
// input always yields an identical vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDimensions)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'()[]{}")
		if token == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%hashDimensions]++
	}

	// L2-normalize so cosine similarity behaves.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
