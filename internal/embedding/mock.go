package embedding

import (
	"context"
	"math"
)

// MockProvider generates deterministic hash-based unit vectors. Used in
// tests and the memory-backed development setup.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider with the given dimension.
func NewMockProvider(dimension int) *MockProvider {
	if dimension <= 0 {
		dimension = 64
	}
	return &MockProvider{dimension: dimension}
}

// Embed generates deterministic embeddings: identical texts get identical
// vectors, similar texts get nearby vectors.
func (m *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, m.dimension)
		for j, r := range text {
			v[(j+int(r))%m.dimension] += float32(r%97) / 97.0
		}
		vectors[i] = normalizeVector(v)
	}
	return vectors, nil
}

// Model returns the mock model name.
func (m *MockProvider) Model() string { return "mock-embedding-model" }

// Dimension returns the embedding dimension.
func (m *MockProvider) Dimension() int { return m.dimension }

var _ Provider = (*MockProvider)(nil)

func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
