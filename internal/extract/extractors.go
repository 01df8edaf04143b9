package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// IdentifierExtractor finds product/part codes: alphanumeric tokens mixing
// letters and digits, possibly compounded with hyphens or slashes
// ("DC66-10P", "WP/8544771", "A113").
type IdentifierExtractor struct {
	compoundRe *regexp.Regexp
	plainRe    *regexp.Regexp
}

// NewIdentifierExtractor creates an identifier extractor.
func NewIdentifierExtractor() *IdentifierExtractor {
	return &IdentifierExtractor{
		compoundRe: regexp.MustCompile(`\b[A-Za-z0-9]{2,10}(?:[-/][A-Za-z0-9]{1,10})+\b`),
		plainRe:    regexp.MustCompile(`\b[A-Za-z]{1,5}\d{2,8}[A-Za-z]{0,3}\b`),
	}
}

// Name returns the extractor name.
func (e *IdentifierExtractor) Name() string { return "identifier" }

// Extract finds identifier candidates. Compound forms (hyphen/slash) score
// higher than plain alphanumeric codes.
func (e *IdentifierExtractor) Extract(text string) ([]Finding, error) {
	var findings []Finding
	for _, m := range e.compoundRe.FindAllString(text, -1) {
		if !hasLetterAndDigit(m) {
			continue
		}
		findings = append(findings, Finding{
			Field:      FieldIdentifier,
			Value:      storage.StringValue(strings.ToUpper(m)),
			Confidence: 0.9,
		})
	}
	for _, m := range e.plainRe.FindAllString(text, -1) {
		findings = append(findings, Finding{
			Field:      FieldIdentifier,
			Value:      storage.StringValue(strings.ToUpper(m)),
			Confidence: 0.7,
		})
	}
	return findings, nil
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

// PriceExtractor finds money amounts and converts them to cents. Handles
// currency symbols and thousands separators ("$1,299.99", "€ 49").
type PriceExtractor struct {
	symbolRe  *regexp.Regexp
	labeledRe *regexp.Regexp
}

// NewPriceExtractor creates a price extractor.
func NewPriceExtractor() *PriceExtractor {
	return &PriceExtractor{
		symbolRe:  regexp.MustCompile(`[$€£]\s*(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?)`),
		labeledRe: regexp.MustCompile(`(?i)\bprice\s*[:=]?\s*(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?)`),
	}
}

// Name returns the extractor name.
func (e *PriceExtractor) Name() string { return "price" }

// Extract finds price candidates. Symbol-prefixed amounts score higher than
// label-inferred ones.
func (e *PriceExtractor) Extract(text string) ([]Finding, error) {
	var findings []Finding
	for _, m := range e.symbolRe.FindAllStringSubmatch(text, -1) {
		if cents, ok := ParseCents(m[1]); ok {
			findings = append(findings, Finding{
				Field:      FieldPriceCents,
				Value:      storage.NumberValue(float64(cents)),
				Confidence: 0.9,
			})
		}
	}
	for _, m := range e.labeledRe.FindAllStringSubmatch(text, -1) {
		if cents, ok := ParseCents(m[1]); ok {
			findings = append(findings, Finding{
				Field:      FieldPriceCents,
				Value:      storage.NumberValue(float64(cents)),
				Confidence: 0.6,
			})
		}
	}
	return findings, nil
}

// ParseCents converts a decimal money string ("1,299.99") to integer cents.
func ParseCents(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int64(f*100 + 0.5), true
}

// availabilityPattern maps phrase to in-stock state. Negative phrases are
// listed first so "out of stock" wins over the "in stock" substring.
type availabilityPattern struct {
	phrase    string
	available bool
}

// AvailabilityExtractor detects stock-status keywords.
type AvailabilityExtractor struct {
	patterns []availabilityPattern
}

// NewAvailabilityExtractor creates an availability extractor.
func NewAvailabilityExtractor() *AvailabilityExtractor {
	return &AvailabilityExtractor{
		patterns: []availabilityPattern{
			{"out of stock", false},
			{"sold out", false},
			{"unavailable", false},
			{"discontinued", false},
			{"backordered", false},
			{"back-ordered", false},
			{"in stock", true},
			{"available now", true},
			{"ships today", true},
			{"ready to ship", true},
			{"available", true},
		},
	}
}

// Name returns the extractor name.
func (e *AvailabilityExtractor) Name() string { return "availability" }

// Extract reports the first matching stock-status phrase.
func (e *AvailabilityExtractor) Extract(text string) ([]Finding, error) {
	lowered := strings.ToLower(text)
	for _, p := range e.patterns {
		if strings.Contains(lowered, p.phrase) {
			return []Finding{{
				Field:      FieldAvailability,
				Value:      storage.BoolValue(p.available),
				Confidence: 0.8,
			}}, nil
		}
	}
	return nil, nil
}

// LookupExtractor matches chunk text against an injected known-value list
// (brands, categories). Matching is case-insensitive on word boundaries.
type LookupExtractor struct {
	field      string
	confidence float64
	known      []string
	res        []*regexp.Regexp
}

// NewLookupExtractor creates a lookup extractor for the given field.
func NewLookupExtractor(field string, known []string, confidence float64) *LookupExtractor {
	e := &LookupExtractor{field: field, confidence: confidence, known: known}
	for _, k := range known {
		if strings.TrimSpace(k) == "" {
			continue
		}
		e.res = append(e.res, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(k)+`\b`))
	}
	return e
}

// Name returns the extractor name.
func (e *LookupExtractor) Name() string { return e.field + "_lookup" }

// Extract reports known values present in the text.
func (e *LookupExtractor) Extract(text string) ([]Finding, error) {
	var findings []Finding
	for i, re := range e.res {
		if re.MatchString(text) {
			findings = append(findings, Finding{
				Field:      e.field,
				Value:      storage.StringValue(e.known[i]),
				Confidence: e.confidence,
			})
		}
	}
	return findings, nil
}

// ContactExtractor finds email addresses and phone numbers, stored as list
// attributes.
type ContactExtractor struct {
	emailRe *regexp.Regexp
	phoneRe *regexp.Regexp
}

// NewContactExtractor creates a contact extractor.
func NewContactExtractor() *ContactExtractor {
	return &ContactExtractor{
		emailRe: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		phoneRe: regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}\b`),
	}
}

// Name returns the extractor name.
func (e *ContactExtractor) Name() string { return "contact" }

// Extract finds contact details.
func (e *ContactExtractor) Extract(text string) ([]Finding, error) {
	var findings []Finding
	if emails := dedupe(e.emailRe.FindAllString(text, -1)); len(emails) > 0 {
		findings = append(findings, Finding{
			Field:      "contact_emails",
			Value:      storage.ListValue(emails...),
			Confidence: 0.95,
		})
	}
	if phones := dedupe(e.phoneRe.FindAllString(text, -1)); len(phones) > 0 {
		findings = append(findings, Finding{
			Field:      "contact_phones",
			Value:      storage.ListValue(phones...),
			Confidence: 0.7,
		})
	}
	return findings, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// FAQExtractor segments question/answer pairs: a line ending in "?" paired
// with the following non-question text.
type FAQExtractor struct{}

// NewFAQExtractor creates a FAQ extractor.
func NewFAQExtractor() *FAQExtractor { return &FAQExtractor{} }

// Name returns the extractor name.
func (e *FAQExtractor) Name() string { return "faq" }

// Extract finds question/answer pairs, stored as "Q | A" list entries.
func (e *FAQExtractor) Extract(text string) ([]Finding, error) {
	lines := strings.Split(text, "\n")
	var pairs []string
	for i := 0; i < len(lines); i++ {
		q := strings.TrimSpace(lines[i])
		if !strings.HasSuffix(q, "?") || len(q) < 8 {
			continue
		}
		var answer string
		for j := i + 1; j < len(lines); j++ {
			a := strings.TrimSpace(lines[j])
			if a == "" {
				continue
			}
			if strings.HasSuffix(a, "?") {
				break
			}
			answer = a
			i = j
			break
		}
		if answer != "" {
			pairs = append(pairs, fmt.Sprintf("%s | %s", q, answer))
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	return []Finding{{
		Field:      "faq_pairs",
		Value:      storage.ListValue(pairs...),
		Confidence: 0.6,
	}}, nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
