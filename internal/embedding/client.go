// Package embedding wraps the remote embedding service behind a small client
// interface. Vectors are L2-normalized so inner product equals cosine
// similarity.
package embedding

import (
	"context"
	"math"
)

// Client converts text into fixed-dimension embedding vectors
type Client interface {
	// Embed returns the embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input, preserving input order.
	// Oversized batches are partitioned to the remote item limit.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName identifies the embedding model; persisted with the index
	// so a model change is detected at load time.
	ModelName() string
}

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// chunk splits items into slices of at most size elements, preserving order
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return [][]T{items}
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
