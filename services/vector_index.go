package services

import (
	"fmt"
	"math"
	"sort"

	"query-sphere/models"
)

// IndexEntry pairs a chunk with its unit-length embedding.
type IndexEntry struct {
	Chunk  models.Chunk
	Vector []float32
}

// VectorIndex is an immutable exhaustive cosine-similarity index. A rebuilt
// document gets a new VectorIndex; nothing is ever appended to an old one.
type VectorIndex struct {
	entries []IndexEntry
	dim     int
	model   string
}

// NewVectorIndex normalises the vectors and checks that every chunk has one
// of the same dimension.
func NewVectorIndex(chunks []models.Chunk, vectors [][]float32, model string) (*VectorIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", models.ErrEmbeddingUnavailable, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, models.ErrEmptyIndex
	}

	dim := len(vectors[0])
	entries := make([]IndexEntry, len(chunks))
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", models.ErrEmbeddingUnavailable, i, len(v), dim)
		}
		entries[i] = IndexEntry{Chunk: chunks[i], Vector: normalize(v)}
	}
	return &VectorIndex{entries: entries, dim: dim, model: model}, nil
}

func (ix *VectorIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

func (ix *VectorIndex) Dimension() int { return ix.dim }

func (ix *VectorIndex) Model() string { return ix.model }

// Entries returns a copy of the indexed entries in chunk order.
func (ix *VectorIndex) Entries() []IndexEntry {
	if ix == nil {
		return nil
	}
	out := make([]IndexEntry, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// Search returns the min(k, Len) most similar chunks by descending cosine
// similarity, earlier chunks first on equal scores.
func (ix *VectorIndex) Search(query []float32, k int) ([]models.ScoredChunk, error) {
	if ix.Len() == 0 {
		return nil, models.ErrEmptyIndex
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", models.ErrEmbeddingUnavailable, len(query), ix.dim)
	}
	if k <= 0 {
		k = 4
	}

	q := normalize(query)
	results := make([]models.ScoredChunk, len(ix.entries))
	for i, e := range ix.entries {
		results[i] = models.ScoredChunk{Chunk: e.Chunk, Score: dot(q, e.Vector)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Order < results[j].Chunk.Order
	})

	return results[:min(k, len(results))], nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns a unit-length copy; the zero vector stays zero.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
