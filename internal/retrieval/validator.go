package retrieval

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// Verdict grades a result set's quality.
type Verdict string

const (
	VerdictExcellent Verdict = "excellent"
	VerdictGood      Verdict = "good"
	VerdictFair      Verdict = "fair"
	VerdictPoor      Verdict = "poor"
)

// verdictFor maps a composite score to a verdict.
func verdictFor(score float64) Verdict {
	switch {
	case score >= 0.9:
		return VerdictExcellent
	case score >= 0.7:
		return VerdictGood
	case score >= 0.5:
		return VerdictFair
	default:
		return VerdictPoor
	}
}

// ValidationReport breaks a verdict down into its four equally weighted
// signals, each in [0, 1].
type ValidationReport struct {
	CountRatio             float64 `json:"count_ratio"`
	MeanSimilarity         float64 `json:"mean_similarity"`
	EntityCoverage         float64 `json:"entity_coverage"`
	ConstraintSatisfaction float64 `json:"constraint_satisfaction"`
	Score                  float64 `json:"score"`
	Verdict                Verdict `json:"verdict"`
}

// Passed reports whether the result set is good enough to stop routing. Fair
// results pass but stay flagged in the report; only poor triggers fallback.
func (r ValidationReport) Passed() bool {
	return r.Verdict != VerdictPoor
}

// Validator scores result sets on four signals, 25% each: result count
// against expectation, mean top-K similarity, entity coverage and constraint
// satisfaction. Signals with nothing to measure count as satisfied rather
// than drag general queries down.
type Validator struct {
	store          storage.MetadataStore
	expectedCount  int
	similarityTopK int
}

// NewValidator creates a Validator. expectedCount is the result count at
// which the count signal saturates; similarityTopK bounds the mean-similarity
// window.
func NewValidator(store storage.MetadataStore, expectedCount, similarityTopK int) *Validator {
	if expectedCount <= 0 {
		expectedCount = 5
	}
	if similarityTopK <= 0 {
		similarityTopK = 5
	}
	return &Validator{store: store, expectedCount: expectedCount, similarityTopK: similarityTopK}
}

// Validate grades the merged result set for a query. An empty set is always
// poor.
func (v *Validator) Validate(ctx context.Context, q *Query, results []RetrievalResult) ValidationReport {
	if len(results) == 0 {
		return ValidationReport{Verdict: VerdictPoor}
	}

	report := ValidationReport{
		CountRatio:             v.countRatio(results),
		MeanSimilarity:         v.meanSimilarity(results),
		EntityCoverage:         v.entityCoverage(q.Intent, results),
		ConstraintSatisfaction: v.constraintSatisfaction(ctx, q, results),
	}
	report.Score = 0.25*report.CountRatio +
		0.25*report.MeanSimilarity +
		0.25*report.EntityCoverage +
		0.25*report.ConstraintSatisfaction
	report.Verdict = verdictFor(report.Score)
	return report
}

func (v *Validator) countRatio(results []RetrievalResult) float64 {
	ratio := float64(len(results)) / float64(v.expectedCount)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// meanSimilarity averages the top-K result scores.
func (v *Validator) meanSimilarity(results []RetrievalResult) float64 {
	k := v.similarityTopK
	if k > len(results) {
		k = len(results)
	}
	var sum float64
	for _, r := range results[:k] {
		sum += r.Score
	}
	return sum / float64(k)
}

// entityCoverage is the fraction of query entities (identifiers, brand,
// category) that appear somewhere in the result texts. No entities means
// full coverage.
func (v *Validator) entityCoverage(intent QueryIntent, results []RetrievalResult) float64 {
	var entities []string
	entities = append(entities, intent.Entities.Identifiers...)
	if intent.Entities.Brand != "" {
		entities = append(entities, intent.Entities.Brand)
	}
	if intent.Entities.Category != "" {
		entities = append(entities, intent.Entities.Category)
	}
	if len(entities) == 0 {
		return 1
	}

	var corpus strings.Builder
	for _, r := range results {
		corpus.WriteString(strings.ToLower(r.Text))
		corpus.WriteByte('\n')
	}
	text := corpus.String()
	normalized := storage.NormalizeIdentifier(text)

	covered := 0
	for _, e := range entities {
		if strings.Contains(text, strings.ToLower(e)) ||
			strings.Contains(normalized, storage.NormalizeIdentifier(e)) {
			covered++
		}
	}
	return float64(covered) / float64(len(entities))
}

// constraintSatisfaction is the fraction of results whose metadata satisfies
// the query constraints. No constraints means full satisfaction; results
// without metadata count as unsatisfied.
func (v *Validator) constraintSatisfaction(ctx context.Context, q *Query, results []RetrievalResult) float64 {
	filter := storage.MetadataFilter{
		PriceMinCents: q.Intent.Constraints.PriceMinCents,
		PriceMaxCents: q.Intent.Constraints.PriceMaxCents,
		Availability:  q.Intent.Constraints.Availability,
	}
	if filter == (storage.MetadataFilter{}) {
		return 1
	}

	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	metadata, err := v.store.MetadataForChunks(ctx, ids)
	if err != nil {
		return 0
	}
	satisfied := 0
	for _, r := range results {
		if filter.Matches(metadata[r.ChunkID]) {
			satisfied++
		}
	}
	return float64(satisfied) / float64(len(results))
}
