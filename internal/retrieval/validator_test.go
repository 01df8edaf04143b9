package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

func TestValidateEmptySetIsPoor(t *testing.T) {
	v := NewValidator(storage.NewMemoryStore(), 5, 5)

	report := v.Validate(context.Background(), &Query{}, nil)
	assert.Equal(t, VerdictPoor, report.Verdict)
	assert.False(t, report.Passed())
}

func TestValidateFullCoverageScoresExcellent(t *testing.T) {
	v := NewValidator(storage.NewMemoryStore(), 2, 5)

	q := &Query{
		Intent: QueryIntent{
			Type:     IntentIdentifierLookup,
			Entities: Entities{Identifiers: []string{"DC66-10P"}},
		},
	}
	results := []RetrievalResult{
		{ChunkID: uuid.New(), Score: 1.0, MatchKind: MatchExact, Text: "Pump model DC66-10P."},
		{ChunkID: uuid.New(), Score: 0.9, MatchKind: MatchExact, Text: "The DC66-10P manual."},
	}

	report := v.Validate(context.Background(), q, results)
	assert.Equal(t, 1.0, report.CountRatio)
	assert.Equal(t, 1.0, report.EntityCoverage)
	assert.Equal(t, 1.0, report.ConstraintSatisfaction)
	assert.Equal(t, VerdictExcellent, report.Verdict)
	assert.True(t, report.Passed())
}

func TestValidateEntityCoverageHandlesNormalizedForms(t *testing.T) {
	v := NewValidator(storage.NewMemoryStore(), 1, 5)

	q := &Query{
		Intent: QueryIntent{Entities: Entities{Identifiers: []string{"DC66-10P"}}},
	}
	// The text uses a space where the query used a hyphen.
	results := []RetrievalResult{
		{ChunkID: uuid.New(), Score: 0.8, Text: "Pump model DC66 10P shown here."},
	}

	report := v.Validate(context.Background(), q, results)
	assert.Equal(t, 1.0, report.EntityCoverage)
}

func TestValidateConstraintSatisfactionIsFractional(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	domainID := uuid.New()

	page := &storage.Page{DomainID: domainID, URL: "https://acme.test/p1"}
	require.NoError(t, store.SavePage(ctx, page))

	cheap, pricey := uuid.New(), uuid.New()
	lo, hi := int64(4999), int64(9999)
	require.NoError(t, store.ReplacePageChunks(ctx, page.ID, []storage.ChunkRecord{
		{
			Chunk:    storage.Chunk{ID: cheap, DomainID: domainID, Text: "entry model"},
			Metadata: storage.EntityMetadata{ChunkID: cheap, DomainID: domainID, PriceCents: &lo},
		},
		{
			Chunk:    storage.Chunk{ID: pricey, DomainID: domainID, ChunkIndex: 1, Text: "pro model"},
			Metadata: storage.EntityMetadata{ChunkID: pricey, DomainID: domainID, PriceCents: &hi},
		},
	}))

	v := NewValidator(store, 2, 5)
	maxPrice := int64(5000)
	q := &Query{
		DomainID: domainID,
		Intent:   QueryIntent{Constraints: Constraints{PriceMaxCents: &maxPrice}},
	}
	results := []RetrievalResult{
		{ChunkID: cheap, Score: 0.9, Text: "entry model"},
		{ChunkID: pricey, Score: 0.9, Text: "pro model"},
	}

	report := v.Validate(context.Background(), q, results)
	assert.InDelta(t, 0.5, report.ConstraintSatisfaction, 1e-9)
}

func TestVerdictThresholds(t *testing.T) {
	assert.Equal(t, VerdictExcellent, verdictFor(0.9))
	assert.Equal(t, VerdictGood, verdictFor(0.7))
	assert.Equal(t, VerdictFair, verdictFor(0.5))
	assert.Equal(t, VerdictPoor, verdictFor(0.49))
}
