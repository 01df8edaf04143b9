package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// ErrVectorDimensionMismatch is returned when a vector does not match the
// index dimension. Mismatched vectors are rejected outright, never truncated
// or padded.
var ErrVectorDimensionMismatch = errors.New("vector dimension mismatch")

// VectorHit is one scored neighbor from the index.
type VectorHit struct {
	ChunkID uuid.UUID
	Score   float64 // cosine similarity clamped to [0, 1]
}

type indexedVector struct {
	domainID uuid.UUID
	vector   []float32 // stored normalized
}

// VectorIndex is the in-memory cosine similarity index over chunk embeddings.
// Vectors are L2-normalized on insert so similarity reduces to a dot product.
// One index holds both embedding kinds, partitioned internally.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[storage.EmbeddingKind]map[uuid.UUID]indexedVector
	logger    *observability.Logger
}

// NewVectorIndex creates an index for vectors of the given dimension.
func NewVectorIndex(dimension int, logger *observability.Logger) *VectorIndex {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &VectorIndex{
		dimension: dimension,
		vectors: map[storage.EmbeddingKind]map[uuid.UUID]indexedVector{
			storage.EmbeddingKindContent:  make(map[uuid.UUID]indexedVector),
			storage.EmbeddingKindMetadata: make(map[uuid.UUID]indexedVector),
		},
		logger: logger,
	}
}

// Upsert inserts or replaces a chunk vector. Wrong-dimension vectors are
// rejected with ErrVectorDimensionMismatch.
func (idx *VectorIndex) Upsert(chunkID, domainID uuid.UUID, kind storage.EmbeddingKind, vector []float32) error {
	if len(vector) != idx.dimension {
		return fmt.Errorf("%w: got %d, index dimension %d", ErrVectorDimensionMismatch, len(vector), idx.dimension)
	}
	normalized := normalizeVector(vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket := idx.vectors[kind]
	if bucket == nil {
		bucket = make(map[uuid.UUID]indexedVector)
		idx.vectors[kind] = bucket
	}
	bucket[chunkID] = indexedVector{domainID: domainID, vector: normalized}
	return nil
}

// Remove drops chunk vectors of every kind. Unknown IDs are ignored.
func (idx *VectorIndex) Remove(chunkIDs []uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, bucket := range idx.vectors {
		for _, id := range chunkIDs {
			delete(bucket, id)
		}
	}
}

// Search returns the k nearest chunks of a kind within a domain, highest
// similarity first. When allowed is non-nil only those chunk IDs are
// considered.
func (idx *VectorIndex) Search(query []float32, domainID uuid.UUID, kind storage.EmbeddingKind, k int, allowed map[uuid.UUID]bool) ([]VectorHit, error) {
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: query has %d, index dimension %d", ErrVectorDimensionMismatch, len(query), idx.dimension)
	}
	if k <= 0 {
		return nil, nil
	}
	q := normalizeVector(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]VectorHit, 0, k)
	for id, iv := range idx.vectors[kind] {
		if iv.domainID != domainID {
			continue
		}
		if allowed != nil && !allowed[id] {
			continue
		}
		hits = append(hits, VectorHit{ChunkID: id, Score: cosineSimilarity(q, iv.vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID.String() < hits[j].ChunkID.String()
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of indexed vectors of a kind.
func (idx *VectorIndex) Count(kind storage.EmbeddingKind) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors[kind])
}

// Rebuild reloads a domain's vectors from storage, replacing whatever the
// index currently holds for that domain. Used at startup and after recovery.
func (idx *VectorIndex) Rebuild(ctx context.Context, store storage.EmbeddingStore, domainID uuid.UUID) error {
	loaded := 0
	for _, kind := range []storage.EmbeddingKind{storage.EmbeddingKindContent, storage.EmbeddingKindMetadata} {
		embeddings, err := store.EmbeddingsByDomain(ctx, domainID, kind)
		if err != nil {
			return fmt.Errorf("loading %s embeddings: %w", kind, err)
		}
		idx.dropDomain(domainID, kind)
		for _, e := range embeddings {
			if err := idx.Upsert(e.ChunkID, domainID, kind, e.Vector); err != nil {
				idx.logger.Warn().
					Str("chunk_id", e.ChunkID.String()).
					Err(err).
					Msg("skipping embedding during index rebuild")
				continue
			}
			loaded++
		}
	}
	idx.logger.Info().
		Str("domain_id", domainID.String()).
		Int("vectors", loaded).
		Msg("vector index rebuilt")
	return nil
}

func (idx *VectorIndex) dropDomain(domainID uuid.UUID, kind storage.EmbeddingKind) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, iv := range idx.vectors[kind] {
		if iv.domainID == domainID {
			delete(idx.vectors[kind], id)
		}
	}
}

// normalizeVector returns the unit-length copy of v. Zero vectors are
// returned as-is.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// cosineSimilarity computes the dot product of two normalized vectors,
// clamped to [0, 1].
func cosineSimilarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot < 0 {
		return 0
	}
	if dot > 1 {
		return 1
	}
	return dot
}
