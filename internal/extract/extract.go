// Package extract derives structured entity metadata from chunk text.
// Extractors run independently; a failing extractor is logged and skipped
// while the others still contribute.
package extract

import (
	"sort"

	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// Promoted metadata fields. Findings on any other field land in Attrs.
const (
	FieldIdentifier   = "identifier"
	FieldPriceCents   = "price_cents"
	FieldAvailability = "availability"
	FieldBrand        = "brand"
	FieldCategory     = "category"
)

// Finding is one extracted fact with the extractor's confidence in it.
type Finding struct {
	Field      string
	Value      storage.MetaValue
	Confidence float64
}

// Extractor extracts findings from chunk text.
type Extractor interface {
	Name() string
	Extract(text string) ([]Finding, error)
}

// Runner executes a set of extractors over chunk text and merges their
// findings into EntityMetadata.
type Runner struct {
	extractors []Extractor
	logger     *observability.Logger
}

// NewRunner creates a runner over the given extractors.
func NewRunner(logger *observability.Logger, extractors ...Extractor) *Runner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{extractors: extractors, logger: logger}
}

// NewDefaultRunner wires the standard extractor set. knownBrands and
// knownCategories come from per-deployment configuration.
func NewDefaultRunner(logger *observability.Logger, knownBrands, knownCategories []string) *Runner {
	return NewRunner(logger,
		NewIdentifierExtractor(),
		NewPriceExtractor(),
		NewAvailabilityExtractor(),
		NewLookupExtractor(FieldBrand, knownBrands, 0.85),
		NewLookupExtractor(FieldCategory, knownCategories, 0.75),
		NewContactExtractor(),
		NewFAQExtractor(),
	)
}

// Run executes all extractors and merges their findings. Extraction order
// does not affect the merged result.
func (r *Runner) Run(text string) storage.EntityMetadata {
	var all []Finding
	for _, ex := range r.extractors {
		findings, err := ex.Extract(text)
		if err != nil {
			r.logger.Warn().
				Str("extractor", ex.Name()).
				Err(err).
				Msg("extractor failed, continuing with remaining extractors")
			continue
		}
		all = append(all, findings...)
	}
	return Merge(all)
}

// Merge combines findings into EntityMetadata. Per field the higher
// confidence wins; on a tie the earlier finding is kept. Merging is
// order-insensitive for distinct confidences because comparison is strict.
func Merge(findings []Finding) storage.EntityMetadata {
	type slot struct {
		value      storage.MetaValue
		confidence float64
	}
	best := make(map[string]slot)
	for _, f := range findings {
		if cur, ok := best[f.Field]; ok && f.Confidence <= cur.confidence {
			continue
		}
		best[f.Field] = slot{value: f.Value, confidence: f.Confidence}
	}

	meta := storage.EntityMetadata{}
	for field, s := range best {
		switch field {
		case FieldIdentifier:
			meta.Identifier = s.value.Str
		case FieldPriceCents:
			cents := int64(s.value.Num)
			meta.PriceCents = &cents
		case FieldAvailability:
			avail := s.value.Bool
			meta.Availability = &avail
		case FieldBrand:
			meta.Brand = s.value.Str
		case FieldCategory:
			meta.Category = s.value.Str
		default:
			if meta.Attrs == nil {
				meta.Attrs = make(map[string]storage.MetaValue)
			}
			meta.Attrs[field] = s.value
		}
	}
	return meta
}

// FlattenForEmbedding renders metadata as text for the metadata-kind vector.
// Fields appear in a stable order so the rendered text is deterministic.
func FlattenForEmbedding(meta storage.EntityMetadata) string {
	var parts []string
	if meta.Identifier != "" {
		parts = append(parts, "identifier: "+meta.Identifier)
	}
	if meta.Brand != "" {
		parts = append(parts, "brand: "+meta.Brand)
	}
	if meta.Category != "" {
		parts = append(parts, "category: "+meta.Category)
	}
	if meta.PriceCents != nil {
		parts = append(parts, "price: "+formatCents(*meta.PriceCents))
	}
	if meta.Availability != nil {
		if *meta.Availability {
			parts = append(parts, "availability: in stock")
		} else {
			parts = append(parts, "availability: out of stock")
		}
	}

	keys := make([]string, 0, len(meta.Attrs))
	for k := range meta.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+meta.Attrs[k].String())
	}

	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
