// Package storage provides the data model and repositories for the retrieval engine.
package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IngestStatus represents the ingestion state of a page.
type IngestStatus string

const (
	IngestStatusNew          IngestStatus = "new"
	IngestStatusIngested     IngestStatus = "ingested"
	IngestStatusPendingRetry IngestStatus = "pending_retry"
	IngestStatusFailed       IngestStatus = "failed"
)

// EmbeddingKind tags the vector representation attached to a chunk.
type EmbeddingKind string

const (
	EmbeddingKindContent  EmbeddingKind = "content"
	EmbeddingKindMetadata EmbeddingKind = "metadata"
)

// Page represents one fetched document for a customer domain.
// At most one live Page exists per (domain_id, url).
type Page struct {
	ID                 uuid.UUID    `json:"id" db:"id"`
	DomainID           uuid.UUID    `json:"domain_id" db:"domain_id"`
	URL                string       `json:"url" db:"url"`
	RawText            string       `json:"raw_text" db:"raw_text"`
	ContentFingerprint string       `json:"content_fingerprint" db:"content_fingerprint"`
	IngestStatus       IngestStatus `json:"ingest_status" db:"ingest_status"`
	RetryCount         int          `json:"retry_count" db:"retry_count"`
	LastIngestedAt     time.Time    `json:"last_ingested_at" db:"last_ingested_at"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
}

// Chunk is a contiguous slice of a page's text. Chunk indices are 0-based and
// contiguous within a page; underlying text spans may overlap by a fixed
// window for context continuity.
type Chunk struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	PageID             uuid.UUID `json:"page_id" db:"page_id"`
	DomainID           uuid.UUID `json:"domain_id" db:"domain_id"`
	ChunkIndex         int       `json:"chunk_index" db:"chunk_index"`
	Text               string    `json:"text" db:"text"`
	TokenCountEstimate int       `json:"token_count_estimate" db:"token_count_estimate"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Embedding is a fixed-dimension vector attached to a chunk, tagged with a
// kind. Deleted whenever its owning chunk is deleted.
type Embedding struct {
	ChunkID uuid.UUID     `json:"chunk_id" db:"chunk_id"`
	Kind    EmbeddingKind `json:"kind" db:"kind"`
	Vector  []float32     `json:"vector" db:"vector"`
}

// EntityMetadata holds structured fields derived from a chunk. The promoted
// scalar fields (identifier, price, availability, brand) back indexed
// filtering; everything else lives in the Attrs bag.
type EntityMetadata struct {
	ChunkID      uuid.UUID            `json:"chunk_id" db:"chunk_id"`
	DomainID     uuid.UUID            `json:"domain_id" db:"domain_id"`
	Identifier   string               `json:"identifier,omitempty" db:"identifier"`
	PriceCents   *int64               `json:"price_cents,omitempty" db:"price_cents"`
	Availability *bool                `json:"availability,omitempty" db:"availability"`
	Brand        string               `json:"brand,omitempty" db:"brand"`
	Category     string               `json:"category,omitempty" db:"category"`
	Attrs        map[string]MetaValue `json:"attrs,omitempty" db:"attrs"`
}

// MetaKind discriminates the variants of a MetaValue.
type MetaKind string

const (
	MetaKindString MetaKind = "string"
	MetaKindNumber MetaKind = "number"
	MetaKindBool   MetaKind = "bool"
	MetaKindList   MetaKind = "list"
)

// MetaValue is a tagged-variant attribute value: string, number, bool or a
// list of strings. It replaces the loosely-typed JSON bags of the scraped
// source data with something filterable.
type MetaValue struct {
	Kind MetaKind `json:"kind"`
	Str  string   `json:"str,omitempty"`
	Num  float64  `json:"num,omitempty"`
	Bool bool     `json:"bool,omitempty"`
	List []string `json:"list,omitempty"`
}

// StringValue constructs a string-kind MetaValue.
func StringValue(s string) MetaValue {
	return MetaValue{Kind: MetaKindString, Str: s}
}

// NumberValue constructs a number-kind MetaValue.
func NumberValue(n float64) MetaValue {
	return MetaValue{Kind: MetaKindNumber, Num: n}
}

// BoolValue constructs a bool-kind MetaValue.
func BoolValue(b bool) MetaValue {
	return MetaValue{Kind: MetaKindBool, Bool: b}
}

// ListValue constructs a list-kind MetaValue.
func ListValue(items ...string) MetaValue {
	return MetaValue{Kind: MetaKindList, List: items}
}

// String renders the value for embedding/keyword text.
func (v MetaValue) String() string {
	switch v.Kind {
	case MetaKindString:
		return v.Str
	case MetaKindNumber:
		return fmt.Sprintf("%g", v.Num)
	case MetaKindBool:
		return fmt.Sprintf("%t", v.Bool)
	case MetaKindList:
		b, _ := json.Marshal(v.List)
		return string(b)
	default:
		return ""
	}
}

// ChunkRecord bundles a chunk with its embeddings and metadata for the
// staged replace write.
type ChunkRecord struct {
	Chunk      Chunk
	Embeddings []Embedding
	Metadata   EntityMetadata
}

// MetadataFilter narrows chunk candidates by the promoted scalar fields.
// Zero values mean "no constraint".
type MetadataFilter struct {
	Identifier    string
	Brand         string
	Category      string
	PriceMinCents *int64
	PriceMaxCents *int64
	Availability  *bool
}

// Matches reports whether the metadata satisfies the filter.
func (f MetadataFilter) Matches(m *EntityMetadata) bool {
	if m == nil {
		return false
	}
	if f.Identifier != "" && m.Identifier != f.Identifier {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(m.Brand, f.Brand) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(m.Category, f.Category) {
		return false
	}
	if f.PriceMinCents != nil {
		if m.PriceCents == nil || *m.PriceCents < *f.PriceMinCents {
			return false
		}
	}
	if f.PriceMaxCents != nil {
		if m.PriceCents == nil || *m.PriceCents > *f.PriceMaxCents {
			return false
		}
	}
	if f.Availability != nil {
		if m.Availability == nil || *m.Availability != *f.Availability {
			return false
		}
	}
	return true
}
