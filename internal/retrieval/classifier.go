package retrieval

import (
	"regexp"
	"strings"

	"github.com/sitesage-ai/retrieval-engine/internal/extract"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
)

// Classifier maps a raw query string to a QueryIntent using ordered pattern
// checks. Identifier detection wins over everything else; the remaining types
// are decided by which constraint signals the query carries.
type Classifier struct {
	logger *observability.Logger

	identifierCompoundRe *regexp.Regexp
	identifierPlainRe    *regexp.Regexp

	priceMaxRe     *regexp.Regexp
	priceMinRe     *regexp.Regexp
	priceBetweenRe *regexp.Regexp
	priceMentionRe *regexp.Regexp
	quantityRe     *regexp.Regexp

	availablePhrases   []string
	unavailablePhrases []string
	comparisonPhrases  []string

	knownBrands     []string
	knownCategories []string
	stopWords       map[string]bool
}

// NewClassifier creates a Classifier. knownBrands and knownCategories come
// from domain configuration and drive entity recognition.
func NewClassifier(logger *observability.Logger, knownBrands, knownCategories []string) *Classifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	amount := `(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?)`
	return &Classifier{
		logger: logger,

		identifierCompoundRe: regexp.MustCompile(`\b[A-Za-z0-9]{2,10}(?:[-/][A-Za-z0-9]{1,10})+\b`),
		identifierPlainRe:    regexp.MustCompile(`\b[A-Za-z]{1,5}\d{2,8}[A-Za-z]{0,3}\b`),

		priceMaxRe:     regexp.MustCompile(`(?i)\b(?:under|below|less than|at most|up to|cheaper than|max(?:imum)?(?: of)?)\s*[$€£]?\s*` + amount),
		priceMinRe:     regexp.MustCompile(`(?i)\b(?:over|above|more than|at least|min(?:imum)?(?: of)?|starting at|from)\s*[$€£]?\s*` + amount),
		priceBetweenRe: regexp.MustCompile(`(?i)\bbetween\s*[$€£]?\s*` + amount + `\s*(?:and|-|to)\s*[$€£]?\s*` + amount),
		priceMentionRe: regexp.MustCompile(`(?i)\b(?:price|cost|how much|pricing|\$|€|£)`),
		quantityRe:     regexp.MustCompile(`(?i)\b(\d{1,6})\s*(?:units?|pieces?|pcs|items?|packs?)\b`),

		unavailablePhrases: []string{"out of stock", "sold out", "unavailable", "discontinued"},
		availablePhrases:   []string{"in stock", "available", "availability", "can i buy", "do you have", "ships", "delivery"},
		comparisonPhrases:  []string{" vs ", " versus ", "compare", "difference between", "better than", "or the"},

		knownBrands:     knownBrands,
		knownCategories: knownCategories,
		stopWords: map[string]bool{
			"a": true, "an": true, "the": true, "is": true, "are": true,
			"do": true, "does": true, "what": true, "which": true, "for": true,
			"of": true, "to": true, "in": true, "on": true, "and": true,
			"or": true, "with": true, "me": true, "you": true, "i": true,
			"show": true, "find": true, "get": true, "any": true, "some": true,
		},
	}
}

// Classify derives the intent, entities and constraints of a query. The
// confidence score starts at 0.3, adds 0.4 when an identifier is present and
// 0.2 for each further distinct constraint kind, capped at 1.0. Identifier
// lookups are floored at 0.9 so they always route through exact match first.
func (c *Classifier) Classify(query string) QueryIntent {
	intent := QueryIntent{Type: IntentGeneral}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		intent.Confidence = 0.3
		return intent
	}
	lowered := strings.ToLower(trimmed)

	intent.Entities.Identifiers = c.findIdentifiers(trimmed)
	c.findPriceConstraints(trimmed, lowered, &intent.Constraints)
	c.findAvailability(lowered, &intent.Constraints)
	c.findQuantity(trimmed, &intent.Constraints)
	intent.Entities.Brand = firstMatch(lowered, c.knownBrands)
	intent.Entities.Category = firstMatch(lowered, c.knownCategories)

	intent.Type = c.decideType(lowered, intent)
	intent.Confidence = c.score(intent)

	c.logger.Debug().
		Str("query", trimmed).
		Str("intent", string(intent.Type)).
		Float64("confidence", intent.Confidence).
		Msg("classified query")
	return intent
}

// findIdentifiers collects identifier-looking tokens, compound forms first.
// Plain matches inside a compound span are fragments of it, not separate
// identifiers.
func (c *Classifier) findIdentifiers(query string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		id := strings.ToUpper(raw)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	var compounds [][]int
	for _, span := range c.identifierCompoundRe.FindAllStringIndex(query, -1) {
		m := query[span[0]:span[1]]
		if hasLetterAndDigit(m) {
			compounds = append(compounds, span)
			add(m)
		}
	}
	for _, span := range c.identifierPlainRe.FindAllStringIndex(query, -1) {
		if insideAny(span, compounds) {
			continue
		}
		add(query[span[0]:span[1]])
	}
	return out
}

func insideAny(span []int, outer [][]int) bool {
	for _, o := range outer {
		if span[0] >= o[0] && span[1] <= o[1] {
			return true
		}
	}
	return false
}

func (c *Classifier) findPriceConstraints(query, lowered string, out *Constraints) {
	if m := c.priceBetweenRe.FindStringSubmatch(query); m != nil {
		if lo, ok := extract.ParseCents(m[1]); ok {
			if hi, ok2 := extract.ParseCents(m[2]); ok2 {
				if lo > hi {
					lo, hi = hi, lo
				}
				out.PriceMinCents = &lo
				out.PriceMaxCents = &hi
				return
			}
		}
	}
	if m := c.priceMaxRe.FindStringSubmatch(query); m != nil {
		if cents, ok := extract.ParseCents(m[1]); ok {
			out.PriceMaxCents = &cents
		}
	}
	if m := c.priceMinRe.FindStringSubmatch(query); m != nil {
		if cents, ok := extract.ParseCents(m[1]); ok {
			out.PriceMinCents = &cents
		}
	}
}

func (c *Classifier) findAvailability(lowered string, out *Constraints) {
	for _, p := range c.unavailablePhrases {
		if strings.Contains(lowered, p) {
			v := false
			out.Availability = &v
			return
		}
	}
	for _, p := range c.availablePhrases {
		if strings.Contains(lowered, p) {
			v := true
			out.Availability = &v
			return
		}
	}
}

func (c *Classifier) findQuantity(query string, out *Constraints) {
	if m := c.quantityRe.FindStringSubmatch(query); m != nil {
		var n int
		for _, r := range m[1] {
			n = n*10 + int(r-'0')
		}
		if n > 0 {
			out.Quantity = &n
		}
	}
}

// decideType applies the ordered intent checks.
func (c *Classifier) decideType(lowered string, intent QueryIntent) IntentType {
	switch {
	case len(intent.Entities.Identifiers) > 0:
		return IntentIdentifierLookup
	case intent.Constraints.PriceMinCents != nil || intent.Constraints.PriceMaxCents != nil || c.priceMentionRe.MatchString(lowered):
		return IntentPriceQuery
	case intent.Constraints.Availability != nil:
		return IntentAvailability
	case containsAny(lowered, c.comparisonPhrases):
		return IntentComparison
	case intent.Entities.Brand != "" || intent.Entities.Category != "":
		return IntentCategoryBrowse
	default:
		return IntentGeneral
	}
}

// score computes the confidence: 0.3 base, +0.4 for an identifier, +0.2 per
// additional distinct constraint kind (price, availability, brand), capped
// at 1.0.
func (c *Classifier) score(intent QueryIntent) float64 {
	score := 0.3
	if len(intent.Entities.Identifiers) > 0 {
		score += 0.4
	}
	kinds := 0
	if intent.Constraints.PriceMinCents != nil || intent.Constraints.PriceMaxCents != nil {
		kinds++
	}
	if intent.Constraints.Availability != nil {
		kinds++
	}
	if intent.Entities.Brand != "" {
		kinds++
	}
	score += 0.2 * float64(kinds)
	if intent.Type == IntentIdentifierLookup && score < 0.9 {
		score = 0.9
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ExtractKeywords returns the query's content words for keyword search: stop
// words and bare punctuation are dropped, identifiers are kept verbatim.
func (c *Classifier) ExtractKeywords(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,!?;:"'()[]`)
		if len(w) < 2 || c.stopWords[w] {
			continue
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func firstMatch(lowered string, known []string) string {
	for _, k := range known {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(k)) {
			return k
		}
	}
	return ""
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letter = true
		}
	}
	return letter && digit
}
