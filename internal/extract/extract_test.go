package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

func TestIdentifierExtractor(t *testing.T) {
	e := NewIdentifierExtractor()

	findings, err := e.Extract("Replacement drive belt DC66-10P fits most dryers.")
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	var compound *Finding
	for i := range findings {
		if findings[i].Value.Str == "DC66-10P" {
			compound = &findings[i]
		}
	}
	require.NotNil(t, compound)
	assert.Equal(t, FieldIdentifier, compound.Field)
	assert.InDelta(t, 0.9, compound.Confidence, 1e-9)
}

func TestIdentifierExtractorNormalizesCase(t *testing.T) {
	e := NewIdentifierExtractor()

	findings, err := e.Extract("part wp/8544771 in the parts bin")
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	assert.Equal(t, "WP/8544771", findings[0].Value.Str)
}

func TestPriceExtractor(t *testing.T) {
	e := NewPriceExtractor()

	tests := []struct {
		text  string
		cents int64
	}{
		{"On sale for $49.99 this week", 4999},
		{"Now $1,299.99 with free shipping", 129999},
		{"costs € 45", 4500},
		{"Price: 19.95", 1995},
	}
	for _, tt := range tests {
		findings, err := e.Extract(tt.text)
		require.NoError(t, err, tt.text)
		require.NotEmpty(t, findings, tt.text)
		assert.Equal(t, float64(tt.cents), findings[0].Value.Num, tt.text)
	}
}

func TestParseCents(t *testing.T) {
	cents, ok := ParseCents("1,299.99")
	require.True(t, ok)
	assert.Equal(t, int64(129999), cents)

	_, ok = ParseCents("not a number")
	assert.False(t, ok)
}

func TestAvailabilityExtractorNegativeWinsOverSubstring(t *testing.T) {
	e := NewAvailabilityExtractor()

	findings, err := e.Extract("This item is currently Out of Stock.")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Value.Bool)

	findings, err = e.Extract("In stock and ships today.")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Value.Bool)

	findings, err = e.Extract("No stock language here at all.")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestLookupExtractor(t *testing.T) {
	e := NewLookupExtractor(FieldBrand, []string{"Acme", "Grundfos"}, 0.85)

	findings, err := e.Extract("The grundfos circulation pump is quiet.")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Grundfos", findings[0].Value.Str)

	// No partial-word matches.
	findings, err = e.Extract("acmeville industrial park")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestContactExtractor(t *testing.T) {
	e := NewContactExtractor()

	findings, err := e.Extract("Reach us at support@example.com or sales@example.com.")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "contact_emails", findings[0].Field)
	assert.Equal(t, []string{"support@example.com", "sales@example.com"}, findings[0].Value.List)
}

func TestFAQExtractor(t *testing.T) {
	e := NewFAQExtractor()

	text := "What is the warranty period?\nTwo years from date of purchase.\n\nDo you ship internationally?\nYes, to most countries."
	findings, err := e.Extract(text)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Len(t, findings[0].Value.List, 2)
	assert.Contains(t, findings[0].Value.List[0], "warranty period?")
	assert.Contains(t, findings[0].Value.List[0], "Two years")
}

func TestMergeHigherConfidenceWins(t *testing.T) {
	low := Finding{Field: FieldBrand, Value: storage.StringValue("Generic"), Confidence: 0.5}
	high := Finding{Field: FieldBrand, Value: storage.StringValue("Acme"), Confidence: 0.9}

	a := Merge([]Finding{low, high})
	b := Merge([]Finding{high, low})

	assert.Equal(t, "Acme", a.Brand)
	assert.Equal(t, "Acme", b.Brand)
}

func TestMergeTieKeepsFirst(t *testing.T) {
	first := Finding{Field: FieldCategory, Value: storage.StringValue("pumps"), Confidence: 0.75}
	second := Finding{Field: FieldCategory, Value: storage.StringValue("valves"), Confidence: 0.75}

	meta := Merge([]Finding{first, second})
	assert.Equal(t, "pumps", meta.Category)
}

type failingExtractor struct{}

func (failingExtractor) Name() string                            { return "failing" }
func (failingExtractor) Extract(string) ([]Finding, error)       { return nil, errors.New("boom") }

func TestRunnerIsolatesExtractorFailure(t *testing.T) {
	r := NewRunner(observability.NopLogger(), failingExtractor{}, NewPriceExtractor())

	meta := r.Run("Only $25.00 while supplies last")
	require.NotNil(t, meta.PriceCents)
	assert.Equal(t, int64(2500), *meta.PriceCents)
}

func TestDefaultRunnerEndToEnd(t *testing.T) {
	r := NewDefaultRunner(observability.NopLogger(), []string{"Acme"}, []string{"pumps"})

	meta := r.Run("Acme pumps model DC66-10P, $49.99, in stock. Email support@example.com")
	assert.Equal(t, "DC66-10P", meta.Identifier)
	assert.Equal(t, "Acme", meta.Brand)
	assert.Equal(t, "pumps", meta.Category)
	require.NotNil(t, meta.PriceCents)
	assert.Equal(t, int64(4999), *meta.PriceCents)
	require.NotNil(t, meta.Availability)
	assert.True(t, *meta.Availability)
	assert.Contains(t, meta.Attrs, "contact_emails")
}

func TestFlattenForEmbeddingDeterministic(t *testing.T) {
	price := int64(4999)
	avail := true
	meta := storage.EntityMetadata{
		Identifier:   "DC66-10P",
		Brand:        "Acme",
		PriceCents:   &price,
		Availability: &avail,
		Attrs: map[string]storage.MetaValue{
			"color":  storage.StringValue("red"),
			"weight": storage.StringValue("2kg"),
		},
	}

	a := FlattenForEmbedding(meta)
	b := FlattenForEmbedding(meta)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "identifier: DC66-10P")
	assert.Contains(t, a, "price: $49.99")
}
