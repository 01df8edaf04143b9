package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// Query is the resolved retrieval request handed to strategies. The router
// embeds the query text once and shares the vector across strategies.
type Query struct {
	DomainID uuid.UUID
	Text     string
	Intent   QueryIntent
	Vector   []float32 // content-kind query embedding; nil when embedding failed
	Keywords []string
	Limit    int
}

// Strategy is one way of finding candidate chunks for a query.
type Strategy interface {
	Kind() StrategyKind
	Run(ctx context.Context, q *Query) ([]RetrievalResult, error)
}

// ExactMatchStrategy resolves identifier lookups against the metadata store.
// A verbatim identifier match scores 1.0; a separator-insensitive normalized
// match scores 0.8.
type ExactMatchStrategy struct {
	store storage.Store
}

// NewExactMatchStrategy creates an exact-match strategy.
func NewExactMatchStrategy(store storage.Store) *ExactMatchStrategy {
	return &ExactMatchStrategy{store: store}
}

// Kind returns the strategy kind.
func (s *ExactMatchStrategy) Kind() StrategyKind { return StrategyExact }

// Run looks up each query identifier, exact first, normalized as fallback.
func (s *ExactMatchStrategy) Run(ctx context.Context, q *Query) ([]RetrievalResult, error) {
	scores := make(map[uuid.UUID]float64)
	for _, id := range q.Intent.Entities.Identifiers {
		rows, err := s.store.FindByIdentifier(ctx, q.DomainID, id)
		if err != nil {
			return nil, err
		}
		for _, m := range rows {
			scores[m.ChunkID] = 1.0
		}
		if len(rows) > 0 {
			continue
		}
		rows, err = s.store.FindByNormalizedIdentifier(ctx, q.DomainID, storage.NormalizeIdentifier(id))
		if err != nil {
			return nil, err
		}
		for _, m := range rows {
			if scores[m.ChunkID] < 0.8 {
				scores[m.ChunkID] = 0.8
			}
		}
	}

	// Identifiers split by spaces ("dc66 10p") slip past per-token matching;
	// for short queries the whole text normalizes to the stored form.
	if len(scores) == 0 && len(strings.Fields(q.Text)) <= 4 {
		norm := storage.NormalizeIdentifier(q.Text)
		if len(norm) >= 4 {
			rows, err := s.store.FindByNormalizedIdentifier(ctx, q.DomainID, norm)
			if err != nil {
				return nil, err
			}
			for _, m := range rows {
				scores[m.ChunkID] = 0.8
			}
		}
	}
	return s.resolve(ctx, q, scores)
}

func (s *ExactMatchStrategy) resolve(ctx context.Context, q *Query, scores map[uuid.UUID]float64) ([]RetrievalResult, error) {
	if len(scores) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	chunks, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	results := make([]RetrievalResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, RetrievalResult{
			ChunkID:        c.ID,
			Score:          scores[c.ID],
			MatchKind:      MatchExact,
			SourceStrategy: StrategyExact,
			Text:           c.Text,
		})
	}
	sortResults(results)
	return capResults(results, q.Limit), nil
}

// FilteredVectorStrategy narrows candidates with metadata filters, then ranks
// the survivors by cosine similarity.
type FilteredVectorStrategy struct {
	store storage.Store
	index *VectorIndex
}

// NewFilteredVectorStrategy creates a filtered-vector strategy.
func NewFilteredVectorStrategy(store storage.Store, index *VectorIndex) *FilteredVectorStrategy {
	return &FilteredVectorStrategy{store: store, index: index}
}

// Kind returns the strategy kind.
func (s *FilteredVectorStrategy) Kind() StrategyKind { return StrategyFilteredVector }

// Run filters metadata rows by the query constraints and ranks the matching
// chunks against the query vector. Without any usable constraint, or without
// a query vector, the strategy yields nothing rather than degrade into an
// unfiltered scan.
func (s *FilteredVectorStrategy) Run(ctx context.Context, q *Query) ([]RetrievalResult, error) {
	filter := filterFromIntent(q.Intent)
	if filter == (storage.MetadataFilter{}) || q.Vector == nil {
		return nil, nil
	}
	rows, err := s.store.FilterMetadata(ctx, q.DomainID, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	allowed := make(map[uuid.UUID]bool, len(rows))
	for _, m := range rows {
		allowed[m.ChunkID] = true
	}
	hits, err := s.index.Search(q.Vector, q.DomainID, storage.EmbeddingKindContent, q.Limit, allowed)
	if err != nil {
		return nil, err
	}
	// Metadata vectors embed the flattened entity bag; a candidate whose
	// attributes match the query better than its prose keeps the higher score.
	metaHits, err := s.index.Search(q.Vector, q.DomainID, storage.EmbeddingKindMetadata, q.Limit, allowed)
	if err != nil {
		return nil, err
	}
	hits = mergeHits(hits, metaHits, q.Limit)
	// Chunks whose content vector is missing still matched the filter; carry
	// them at a floor score so constraint-only matches are not dropped.
	seen := make(map[uuid.UUID]bool, len(hits))
	for _, h := range hits {
		seen[h.ChunkID] = true
	}
	for id := range allowed {
		if !seen[id] && len(hits) < q.Limit {
			hits = append(hits, VectorHit{ChunkID: id, Score: 0.5})
		}
	}
	return resolveHits(ctx, s.store, hits, MatchFiltered, StrategyFilteredVector, q.Limit)
}

// filterFromIntent maps query constraints and entities onto a metadata filter.
// Identifiers are left to the exact-match strategy.
func filterFromIntent(intent QueryIntent) storage.MetadataFilter {
	return storage.MetadataFilter{
		Brand:         intent.Entities.Brand,
		Category:      intent.Entities.Category,
		PriceMinCents: intent.Constraints.PriceMinCents,
		PriceMaxCents: intent.Constraints.PriceMaxCents,
		Availability:  intent.Constraints.Availability,
	}
}

// SemanticStrategy ranks the whole domain by cosine similarity to the query.
type SemanticStrategy struct {
	store storage.Store
	index *VectorIndex
}

// NewSemanticStrategy creates a semantic strategy.
func NewSemanticStrategy(store storage.Store, index *VectorIndex) *SemanticStrategy {
	return &SemanticStrategy{store: store, index: index}
}

// Kind returns the strategy kind.
func (s *SemanticStrategy) Kind() StrategyKind { return StrategySemantic }

// Run performs an unfiltered nearest-neighbor search over content vectors.
func (s *SemanticStrategy) Run(ctx context.Context, q *Query) ([]RetrievalResult, error) {
	if q.Vector == nil {
		return nil, nil
	}
	hits, err := s.index.Search(q.Vector, q.DomainID, storage.EmbeddingKindContent, q.Limit, nil)
	if err != nil {
		return nil, err
	}
	return resolveHits(ctx, s.store, hits, MatchSemantic, StrategySemantic, q.Limit)
}

// keywordScoreCap bounds keyword scores so lexical matches can never outrank
// a strong exact or vector match.
const keywordScoreCap = 0.75

// KeywordStrategy does lexical containment search over chunk text, scored by
// term coverage.
type KeywordStrategy struct {
	store storage.Store
}

// NewKeywordStrategy creates a keyword strategy.
func NewKeywordStrategy(store storage.Store) *KeywordStrategy {
	return &KeywordStrategy{store: store}
}

// Kind returns the strategy kind.
func (s *KeywordStrategy) Kind() StrategyKind { return StrategyKeyword }

// Run searches chunk text for the query's content words. The score is the
// fraction of distinct terms present, scaled into (0, 0.75].
func (s *KeywordStrategy) Run(ctx context.Context, q *Query) ([]RetrievalResult, error) {
	if len(q.Keywords) == 0 {
		return nil, nil
	}
	chunks, err := s.store.SearchChunks(ctx, q.DomainID, q.Keywords, q.Limit*4)
	if err != nil {
		return nil, err
	}
	results := make([]RetrievalResult, 0, len(chunks))
	for _, c := range chunks {
		lowered := strings.ToLower(c.Text)
		matched := 0
		for _, term := range q.Keywords {
			if strings.Contains(lowered, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, RetrievalResult{
			ChunkID:        c.ID,
			Score:          keywordScoreCap * float64(matched) / float64(len(q.Keywords)),
			MatchKind:      MatchKeyword,
			SourceStrategy: StrategyKeyword,
			Text:           c.Text,
		})
	}
	sortResults(results)
	return capResults(results, q.Limit), nil
}

// MergeResults combines per-strategy result sets. Each chunk keeps its single
// highest score; on a score tie the stronger match kind wins (exact over
// filtered over semantic over keyword). The merged set is ordered best-first.
func MergeResults(sets ...[]RetrievalResult) []RetrievalResult {
	best := make(map[uuid.UUID]RetrievalResult)
	for _, set := range sets {
		for _, r := range set {
			cur, ok := best[r.ChunkID]
			if !ok || r.Score > cur.Score ||
				(r.Score == cur.Score && matchRank(r.MatchKind) > matchRank(cur.MatchKind)) {
				best[r.ChunkID] = r
			}
		}
	}
	merged := make([]RetrievalResult, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sortResults(merged)
	return merged
}

// mergeHits combines two hit lists keeping each chunk's highest score.
func mergeHits(a, b []VectorHit, limit int) []VectorHit {
	best := make(map[uuid.UUID]float64, len(a)+len(b))
	for _, h := range append(a, b...) {
		if s, ok := best[h.ChunkID]; !ok || h.Score > s {
			best[h.ChunkID] = h.Score
		}
	}
	out := make([]VectorHit, 0, len(best))
	for id, s := range best {
		out = append(out, VectorHit{ChunkID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID.String() < out[j].ChunkID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// resolveHits turns index hits into results with chunk text attached.
func resolveHits(ctx context.Context, store storage.ChunkStore, hits []VectorHit, kind MatchKind, strategy StrategyKind, limit int) ([]RetrievalResult, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(hits))
	scores := make(map[uuid.UUID]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		scores[h.ChunkID] = h.Score
	}
	chunks, err := store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	results := make([]RetrievalResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, RetrievalResult{
			ChunkID:        c.ID,
			Score:          scores[c.ID],
			MatchKind:      kind,
			SourceStrategy: strategy,
			Text:           c.Text,
		})
	}
	sortResults(results)
	return capResults(results, limit), nil
}

func sortResults(results []RetrievalResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if ri, rj := matchRank(results[i].MatchKind), matchRank(results[j].MatchKind); ri != rj {
			return ri > rj
		}
		return results[i].ChunkID.String() < results[j].ChunkID.String()
	})
}

func capResults(results []RetrievalResult, limit int) []RetrievalResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
