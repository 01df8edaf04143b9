package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage-ai/retrieval-engine/internal/embedding"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

func TestExactMatchScoresVerbatimAboveNormalized(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := NewVectorIndex(32, nil)
	provider := embedding.NewMockProvider(32)
	domainID := uuid.New()

	ids := seedDomain(t, store, idx, provider, domainID, []seedItem{
		{text: "Pump model DC66-10P.", identifier: "DC66-10P"},
	})

	strategy := NewExactMatchStrategy(store)

	verbatim := &Query{
		DomainID: domainID,
		Text:     "DC66-10P",
		Intent:   QueryIntent{Entities: Entities{Identifiers: []string{"DC66-10P"}}},
		Limit:    5,
	}
	results, err := strategy.Run(ctx, verbatim)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)

	normalized := &Query{
		DomainID: domainID,
		Text:     "DC6610P",
		Intent:   QueryIntent{Entities: Entities{Identifiers: []string{"DC6610P"}}},
		Limit:    5,
	}
	results, err = strategy.Run(ctx, normalized)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.8, results[0].Score, 1e-9)
}

func TestExactMatchMissesUnknownIdentifier(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	strategy := NewExactMatchStrategy(store)
	results, err := strategy.Run(ctx, &Query{
		DomainID: uuid.New(),
		Text:     "ZZ99-0X",
		Intent:   QueryIntent{Entities: Entities{Identifiers: []string{"ZZ99-0X"}}},
		Limit:    5,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFilteredVectorAppliesConstraints(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := NewVectorIndex(32, nil)
	provider := embedding.NewMockProvider(32)
	domainID := uuid.New()

	ids := seedDomain(t, store, idx, provider, domainID, []seedItem{
		{text: "Entry pumps model at $49.99.", priceCents: centsPtr(4999), category: "pumps"},
		{text: "Pro pumps model at $99.99.", priceCents: centsPtr(9999), category: "pumps"},
	})

	vectors, err := provider.Embed(ctx, []string{"cheap pumps"})
	require.NoError(t, err)

	strategy := NewFilteredVectorStrategy(store, idx)
	maxPrice := int64(5000)
	results, err := strategy.Run(ctx, &Query{
		DomainID: domainID,
		Text:     "pumps under $50",
		Intent: QueryIntent{
			Entities:    Entities{Category: "pumps"},
			Constraints: Constraints{PriceMaxCents: &maxPrice},
		},
		Vector: vectors[0],
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].ChunkID)
	assert.Equal(t, MatchFiltered, results[0].MatchKind)
}

func TestFilteredVectorNoConstraintsYieldsNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := NewVectorIndex(32, nil)
	provider := embedding.NewMockProvider(32)
	domainID := uuid.New()

	seedDomain(t, store, idx, provider, domainID, []seedItem{
		{text: "Some page."},
	})

	vectors, err := provider.Embed(ctx, []string{"query"})
	require.NoError(t, err)

	strategy := NewFilteredVectorStrategy(store, idx)
	results, err := strategy.Run(ctx, &Query{DomainID: domainID, Vector: vectors[0], Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordScoreIsCoverageCapped(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := NewVectorIndex(32, nil)
	provider := embedding.NewMockProvider(32)
	domainID := uuid.New()

	seedDomain(t, store, idx, provider, domainID, []seedItem{
		{text: "The warranty covers pump repairs."},
	})

	strategy := NewKeywordStrategy(store)

	full, err := strategy.Run(ctx, &Query{
		DomainID: domainID,
		Keywords: []string{"warranty", "pump"},
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, full, 1)
	assert.InDelta(t, 0.75, full[0].Score, 1e-9)

	partial, err := strategy.Run(ctx, &Query{
		DomainID: domainID,
		Keywords: []string{"warranty", "shipping"},
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.InDelta(t, 0.375, partial[0].Score, 1e-9)
}

func TestMergeKeepsHighestScorePerChunk(t *testing.T) {
	id := uuid.New()
	other := uuid.New()

	exact := []RetrievalResult{{ChunkID: id, Score: 1.0, MatchKind: MatchExact, SourceStrategy: StrategyExact}}
	keyword := []RetrievalResult{
		{ChunkID: id, Score: 0.75, MatchKind: MatchKeyword, SourceStrategy: StrategyKeyword},
		{ChunkID: other, Score: 0.5, MatchKind: MatchKeyword, SourceStrategy: StrategyKeyword},
	}

	merged := MergeResults(keyword, exact)
	require.Len(t, merged, 2)
	assert.Equal(t, id, merged[0].ChunkID)
	assert.Equal(t, MatchExact, merged[0].MatchKind)
	assert.InDelta(t, 1.0, merged[0].Score, 1e-9)
	assert.Equal(t, other, merged[1].ChunkID)
}

func TestMergeTieBreaksByMatchKind(t *testing.T) {
	id := uuid.New()

	semantic := []RetrievalResult{{ChunkID: id, Score: 0.8, MatchKind: MatchSemantic, SourceStrategy: StrategySemantic}}
	filtered := []RetrievalResult{{ChunkID: id, Score: 0.8, MatchKind: MatchFiltered, SourceStrategy: StrategyFilteredVector}}

	merged := MergeResults(semantic, filtered)
	require.Len(t, merged, 1)
	assert.Equal(t, MatchFiltered, merged[0].MatchKind)

	merged = MergeResults(filtered, semantic)
	require.Len(t, merged, 1)
	assert.Equal(t, MatchFiltered, merged[0].MatchKind)
}
