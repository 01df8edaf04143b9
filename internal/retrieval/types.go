// Package retrieval provides intent classification, strategy-routed hybrid
// retrieval and result validation over the ingested corpus.
package retrieval

import (
	"github.com/google/uuid"
)

// IntentType classifies what a query is asking for.
type IntentType string

const (
	IntentIdentifierLookup IntentType = "identifier_lookup"
	IntentPriceQuery       IntentType = "price_query"
	IntentAvailability     IntentType = "availability_query"
	IntentCategoryBrowse   IntentType = "category_browse"
	IntentComparison       IntentType = "comparison"
	IntentGeneral          IntentType = "general"
)

// Entities are the concrete things a query mentions.
type Entities struct {
	Identifiers []string `json:"identifiers,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// Constraints are the filters a query imposes. Prices are cents.
type Constraints struct {
	PriceMinCents *int64 `json:"price_min_cents,omitempty"`
	PriceMaxCents *int64 `json:"price_max_cents,omitempty"`
	Availability  *bool  `json:"availability,omitempty"`
	Quantity      *int   `json:"quantity,omitempty"`
}

// Empty reports whether no constraint is set.
func (c Constraints) Empty() bool {
	return c.PriceMinCents == nil && c.PriceMaxCents == nil && c.Availability == nil && c.Quantity == nil
}

// QueryIntent is the classifier output: ephemeral, never persisted.
type QueryIntent struct {
	Type        IntentType  `json:"type"`
	Confidence  float64     `json:"confidence"`
	Entities    Entities    `json:"entities"`
	Constraints Constraints `json:"constraints"`
}

// MatchKind records how a result matched the query.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchFiltered MatchKind = "filtered"
	MatchSemantic MatchKind = "semantic"
	MatchKeyword  MatchKind = "keyword"
)

// matchRank orders kinds for merge tie-breaks: exact beats filtered beats
// semantic beats keyword.
func matchRank(k MatchKind) int {
	switch k {
	case MatchExact:
		return 3
	case MatchFiltered:
		return 2
	case MatchSemantic:
		return 1
	case MatchKeyword:
		return 0
	default:
		return -1
	}
}

// StrategyKind names a retrieval strategy.
type StrategyKind string

const (
	StrategyExact          StrategyKind = "exact"
	StrategyFilteredVector StrategyKind = "filtered_vector"
	StrategySemantic       StrategyKind = "semantic"
	StrategyKeyword        StrategyKind = "keyword"
)

// RetrievalResult is one scored chunk. Ephemeral.
type RetrievalResult struct {
	ChunkID        uuid.UUID    `json:"chunk_id"`
	Score          float64      `json:"score"`
	MatchKind      MatchKind    `json:"match_kind"`
	SourceStrategy StrategyKind `json:"source_strategy"`
	Text           string       `json:"text"`
}
