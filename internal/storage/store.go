package storage

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrConflict          = errors.New("record conflict")
	ErrStorageContention = errors.New("storage contention")
)

// Store is the persistence surface the ingestion pipeline and the retrieval
// strategies depend on. Two drivers implement it: the in-memory store used in
// development and tests, and the Postgres repositories.
type Store interface {
	PageStore
	ChunkStore
	MetadataStore
	EmbeddingStore
}

// PageStore manages page records.
type PageStore interface {
	// GetPage returns the live page for (domainID, url), or ErrNotFound.
	GetPage(ctx context.Context, domainID uuid.UUID, url string) (*Page, error)
	// SavePage inserts or updates a page keyed by (domain_id, url).
	SavePage(ctx context.Context, page *Page) error
	// ListPages returns all pages for a domain.
	ListPages(ctx context.Context, domainID uuid.UUID) ([]*Page, error)
	// ListStalePages returns ingested pages whose last ingest predates cutoff.
	ListStalePages(ctx context.Context, cutoff time.Time) ([]*Page, error)
}

// ChunkStore manages chunk records. ReplacePageChunks is the only write path:
// a page's chunk set is always replaced wholesale so readers never observe a
// partially written page.
type ChunkStore interface {
	// ReplacePageChunks atomically swaps the chunk set for a page, along with
	// embeddings and metadata. The old set stays visible until the new set is
	// fully staged. Passing an empty records slice clears the page.
	ReplacePageChunks(ctx context.Context, pageID uuid.UUID, records []ChunkRecord) error
	// ChunksByPage returns a page's chunks ordered by chunk index.
	ChunksByPage(ctx context.Context, pageID uuid.UUID) ([]*Chunk, error)
	// GetChunks resolves chunk IDs to chunks. Missing IDs are skipped.
	GetChunks(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error)
	// SearchChunks returns up to limit chunks in a domain whose text contains
	// at least one of the given terms (case-insensitive).
	SearchChunks(ctx context.Context, domainID uuid.UUID, terms []string, limit int) ([]*Chunk, error)
}

// MetadataStore manages per-chunk entity metadata.
type MetadataStore interface {
	// FindByIdentifier returns metadata rows whose identifier matches exactly.
	FindByIdentifier(ctx context.Context, domainID uuid.UUID, identifier string) ([]*EntityMetadata, error)
	// FindByNormalizedIdentifier matches on the separator-insensitive
	// uppercase form produced by NormalizeIdentifier.
	FindByNormalizedIdentifier(ctx context.Context, domainID uuid.UUID, normalized string) ([]*EntityMetadata, error)
	// FilterMetadata returns metadata rows in a domain satisfying the filter.
	FilterMetadata(ctx context.Context, domainID uuid.UUID, filter MetadataFilter) ([]*EntityMetadata, error)
	// MetadataForChunks resolves chunk IDs to their metadata, if any.
	MetadataForChunks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*EntityMetadata, error)
}

// EmbeddingStore persists chunk vectors. The live cosine index is rebuilt
// from here on startup.
type EmbeddingStore interface {
	// EmbeddingsByDomain returns all embeddings of the given kind for a domain.
	EmbeddingsByDomain(ctx context.Context, domainID uuid.UUID, kind EmbeddingKind) ([]Embedding, error)
}

// NormalizeIdentifier uppercases an identifier and strips separator
// characters so "dc66-10p" and "DC66 10P" compare equal.
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
