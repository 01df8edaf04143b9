package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePageUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	domainID := uuid.New()

	page := &Page{
		DomainID:           domainID,
		URL:                "https://example.com/products/widget",
		RawText:            "widget text",
		ContentFingerprint: "abc123",
		IngestStatus:       IngestStatusNew,
	}
	require.NoError(t, store.SavePage(ctx, page))
	require.NotEqual(t, uuid.Nil, page.ID)

	got, err := store.GetPage(ctx, domainID, page.URL)
	require.NoError(t, err)
	assert.Equal(t, page.ID, got.ID)
	assert.Equal(t, "abc123", got.ContentFingerprint)

	// Saving the same (domain, url) again keeps one live page.
	update := &Page{
		DomainID:           domainID,
		URL:                page.URL,
		RawText:            "new text",
		ContentFingerprint: "def456",
		IngestStatus:       IngestStatusIngested,
	}
	require.NoError(t, store.SavePage(ctx, update))
	assert.Equal(t, page.ID, update.ID)

	got, err = store.GetPage(ctx, domainID, page.URL)
	require.NoError(t, err)
	assert.Equal(t, "def456", got.ContentFingerprint)

	_, err = store.GetPage(ctx, domainID, "https://example.com/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReplacePageChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	domainID := uuid.New()

	page := &Page{DomainID: domainID, URL: "https://example.com/p"}
	require.NoError(t, store.SavePage(ctx, page))

	first := []ChunkRecord{
		{
			Chunk:      Chunk{DomainID: domainID, ChunkIndex: 0, Text: "old chunk zero"},
			Embeddings: []Embedding{{Kind: EmbeddingKindContent, Vector: []float32{1, 0}}},
			Metadata:   EntityMetadata{Identifier: "DC66-10P"},
		},
		{
			Chunk: Chunk{DomainID: domainID, ChunkIndex: 1, Text: "old chunk one"},
		},
	}
	require.NoError(t, store.ReplacePageChunks(ctx, page.ID, first))

	chunks, err := store.ChunksByPage(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	oldIDs := []uuid.UUID{chunks[0].ID, chunks[1].ID}

	second := []ChunkRecord{
		{Chunk: Chunk{DomainID: domainID, ChunkIndex: 0, Text: "fresh chunk"}},
	}
	require.NoError(t, store.ReplacePageChunks(ctx, page.ID, second))

	chunks, err = store.ChunksByPage(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "fresh chunk", chunks[0].Text)
	assert.NotContains(t, oldIDs, chunks[0].ID)

	// Old chunks and their metadata are gone.
	resolved, err := store.GetChunks(ctx, oldIDs)
	require.NoError(t, err)
	assert.Empty(t, resolved)

	metas, err := store.FindByIdentifier(ctx, domainID, "DC66-10P")
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestMemoryStoreIdentifierLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	domainID := uuid.New()

	page := &Page{DomainID: domainID, URL: "https://example.com/p"}
	require.NoError(t, store.SavePage(ctx, page))

	records := []ChunkRecord{
		{
			Chunk:    Chunk{DomainID: domainID, ChunkIndex: 0, Text: "Drive belt DC66-10P for pumps"},
			Metadata: EntityMetadata{Identifier: "DC66-10P"},
		},
	}
	require.NoError(t, store.ReplacePageChunks(ctx, page.ID, records))

	exact, err := store.FindByIdentifier(ctx, domainID, "DC66-10P")
	require.NoError(t, err)
	require.Len(t, exact, 1)

	norm, err := store.FindByNormalizedIdentifier(ctx, domainID, NormalizeIdentifier("dc66 10p"))
	require.NoError(t, err)
	require.Len(t, norm, 1)
	assert.Equal(t, exact[0].ChunkID, norm[0].ChunkID)
}

func TestMemoryStoreFilterMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	domainID := uuid.New()

	page := &Page{DomainID: domainID, URL: "https://example.com/p"}
	require.NoError(t, store.SavePage(ctx, page))

	price := func(v int64) *int64 { return &v }
	avail := func(v bool) *bool { return &v }

	records := []ChunkRecord{
		{
			Chunk:    Chunk{DomainID: domainID, ChunkIndex: 0, Text: "cheap pump"},
			Metadata: EntityMetadata{PriceCents: price(3999), Availability: avail(true), Category: "pumps"},
		},
		{
			Chunk:    Chunk{DomainID: domainID, ChunkIndex: 1, Text: "expensive pump"},
			Metadata: EntityMetadata{PriceCents: price(12900), Availability: avail(true), Category: "pumps"},
		},
		{
			Chunk:    Chunk{DomainID: domainID, ChunkIndex: 2, Text: "no price listed"},
			Metadata: EntityMetadata{Category: "pumps"},
		},
	}
	require.NoError(t, store.ReplacePageChunks(ctx, page.ID, records))

	max := int64(5000)
	metas, err := store.FilterMetadata(ctx, domainID, MetadataFilter{PriceMaxCents: &max})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, int64(3999), *metas[0].PriceCents)

	metas, err = store.FilterMetadata(ctx, domainID, MetadataFilter{Category: "Pumps"})
	require.NoError(t, err)
	assert.Len(t, metas, 3)
}

func TestMemoryStoreStalePages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	domainID := uuid.New()

	stale := &Page{
		DomainID:       domainID,
		URL:            "https://example.com/old",
		IngestStatus:   IngestStatusIngested,
		LastIngestedAt: time.Now().Add(-10 * 24 * time.Hour),
	}
	fresh := &Page{
		DomainID:       domainID,
		URL:            "https://example.com/new",
		IngestStatus:   IngestStatusIngested,
		LastIngestedAt: time.Now(),
	}
	require.NoError(t, store.SavePage(ctx, stale))
	require.NoError(t, store.SavePage(ctx, fresh))

	pages, err := store.ListStalePages(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "https://example.com/old", pages[0].URL)
}
