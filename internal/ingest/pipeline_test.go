package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage-ai/retrieval-engine/internal/chunker"
	"github.com/sitesage-ai/retrieval-engine/internal/embedding"
	"github.com/sitesage-ai/retrieval-engine/internal/extract"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// countingProvider wraps the mock provider and counts Embed calls. It can be
// told to fail transiently forever.
type countingProvider struct {
	mu        sync.Mutex
	inner     *embedding.MockProvider
	calls     int
	alwaysErr bool
}

func newCountingProvider(dim int) *countingProvider {
	return &countingProvider{inner: embedding.NewMockProvider(dim)}
}

func (c *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	fail := c.alwaysErr
	c.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: simulated outage", embedding.ErrTransientProvider)
	}
	return c.inner.Embed(ctx, texts)
}

func (c *countingProvider) Model() string  { return c.inner.Model() }
func (c *countingProvider) Dimension() int { return c.inner.Dimension() }

func (c *countingProvider) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeIndex struct {
	mu      sync.Mutex
	vectors map[uuid.UUID]map[storage.EmbeddingKind][]float32
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vectors: make(map[uuid.UUID]map[storage.EmbeddingKind][]float32)}
}

func (f *fakeIndex) Upsert(chunkID, domainID uuid.UUID, kind storage.EmbeddingKind, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vectors[chunkID] == nil {
		f.vectors[chunkID] = make(map[storage.EmbeddingKind][]float32)
	}
	f.vectors[chunkID][kind] = vector
	return nil
}

func (f *fakeIndex) Remove(chunkIDs []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range chunkIDs {
		delete(f.vectors, id)
	}
}

func (f *fakeIndex) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors)
}

type fakeInvalidator struct {
	mu    sync.Mutex
	count int
}

func (f *fakeInvalidator) InvalidateDomain(ctx context.Context, domainID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func newTestPipeline(t *testing.T, provider embedding.Provider) (*Pipeline, *storage.MemoryStore, *fakeIndex, *fakeInvalidator) {
	t.Helper()
	store := storage.NewMemoryStore()
	index := newFakeIndex()
	invalidator := &fakeInvalidator{}
	logger := observability.NopLogger()

	gen := embedding.NewGenerator(provider, logger, embedding.GeneratorConfig{
		BatchSize:      8,
		MaxConcurrency: 2,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	runner := extract.NewDefaultRunner(logger, []string{"Acme"}, []string{"pumps"})

	p, err := NewPipeline(store, chunker.New(300, 40), runner, gen, index, invalidator, nil, logger, Config{
		Workers:    2,
		RetryBase:  time.Millisecond,
		RetryCap:   4 * time.Millisecond,
		MaxRetries: 2,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, store, index, invalidator
}

const samplePage = `Acme pumps model DC66-10P is our best seller. Priced at $49.99 and in stock today.
The DC66-10P moves forty liters per minute. Contact support@example.com with questions.`

func TestIngestInsertThenSkip(t *testing.T) {
	ctx := context.Background()
	provider := newCountingProvider(32)
	p, store, index, invalidator := newTestPipeline(t, provider)
	domainID := uuid.New()

	page := ScrapedPage{DomainID: domainID, URL: "https://acme.test/p1", RawText: samplePage, FetchedAt: time.Now()}

	out := p.IngestPage(ctx, page)
	require.Equal(t, StatusInserted, out.Status, out.Reason)
	assert.Greater(t, out.Chunks, 0)
	assert.Greater(t, out.Embeddings, 0)
	assert.Greater(t, index.size(), 0)
	assert.Equal(t, 1, invalidator.count)

	stored, err := store.GetPage(ctx, domainID, page.URL)
	require.NoError(t, err)
	assert.Equal(t, storage.IngestStatusIngested, stored.IngestStatus)

	// Byte-identical re-ingest: skip with zero provider calls.
	callsBefore := provider.callCount()
	out = p.IngestPage(ctx, page)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, callsBefore, provider.callCount())
	assert.Equal(t, 1, invalidator.count)
}

func TestIngestWhitespaceOnlyChangeStillSkips(t *testing.T) {
	ctx := context.Background()
	provider := newCountingProvider(32)
	p, _, _, _ := newTestPipeline(t, provider)
	domainID := uuid.New()

	first := ScrapedPage{DomainID: domainID, URL: "https://acme.test/p1", RawText: "Pump  DC66-10P   in stock."}
	require.Equal(t, StatusInserted, p.IngestPage(ctx, first).Status)

	second := first
	second.RawText = "Pump DC66-10P in stock."
	assert.Equal(t, StatusSkipped, p.IngestPage(ctx, second).Status)
}

func TestIngestReplaceTurnsOverChunkIDs(t *testing.T) {
	ctx := context.Background()
	provider := newCountingProvider(32)
	p, store, _, _ := newTestPipeline(t, provider)
	domainID := uuid.New()

	page := ScrapedPage{DomainID: domainID, URL: "https://acme.test/p1", RawText: samplePage}
	out := p.IngestPage(ctx, page)
	require.Equal(t, StatusInserted, out.Status)

	before, err := store.ChunksByPage(ctx, out.PageID)
	require.NoError(t, err)
	beforeIDs := make(map[uuid.UUID]bool)
	for _, c := range before {
		beforeIDs[c.ID] = true
	}

	page.RawText = samplePage + "\nNow also available in a high-flow variant."
	out = p.IngestPage(ctx, page)
	require.Equal(t, StatusReplaced, out.Status, out.Reason)

	after, err := store.ChunksByPage(ctx, out.PageID)
	require.NoError(t, err)
	require.NotEmpty(t, after)
	for _, c := range after {
		assert.False(t, beforeIDs[c.ID], "old chunk id %s survived the replace", c.ID)
	}
}

func TestIngestFailureLeavesOldChunksAuthoritative(t *testing.T) {
	ctx := context.Background()
	provider := newCountingProvider(32)
	p, store, _, _ := newTestPipeline(t, provider)
	domainID := uuid.New()

	page := ScrapedPage{DomainID: domainID, URL: "https://acme.test/p1", RawText: samplePage}
	out := p.IngestPage(ctx, page)
	require.Equal(t, StatusInserted, out.Status)
	insertedPageID := out.PageID

	before, err := store.ChunksByPage(ctx, out.PageID)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	// Provider goes down; the changed page fails after retries.
	provider.mu.Lock()
	provider.alwaysErr = true
	provider.mu.Unlock()

	page.RawText = samplePage + "\nChanged content that will fail to embed."
	out = p.IngestPage(ctx, page)
	require.Equal(t, StatusFailed, out.Status)
	assert.NotEmpty(t, out.Reason)

	// The failed outcome still identifies the page it was about.
	require.Equal(t, insertedPageID, out.PageID)

	// Old chunk set is still served.
	after, err := store.ChunksByPage(ctx, out.PageID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}

	stored, err := store.GetPage(ctx, domainID, page.URL)
	require.NoError(t, err)
	assert.Equal(t, storage.IngestStatusFailed, stored.IngestStatus)
}

func TestIngestEmptyPageYieldsZeroChunks(t *testing.T) {
	ctx := context.Background()
	provider := newCountingProvider(32)
	p, store, _, _ := newTestPipeline(t, provider)
	domainID := uuid.New()

	page := ScrapedPage{DomainID: domainID, URL: "https://acme.test/empty", RawText: "   \n\t "}
	out := p.IngestPage(ctx, page)
	require.Equal(t, StatusInserted, out.Status, out.Reason)
	assert.Equal(t, 0, out.Chunks)
	assert.Equal(t, 0, provider.callCount())

	chunks, err := store.ChunksByPage(ctx, out.PageID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestIngestBatchPreservesOrder(t *testing.T) {
	ctx := context.Background()
	provider := newCountingProvider(32)
	p, _, _, _ := newTestPipeline(t, provider)
	domainID := uuid.New()

	pages := make([]ScrapedPage, 6)
	for i := range pages {
		pages[i] = ScrapedPage{
			DomainID: domainID,
			URL:      fmt.Sprintf("https://acme.test/p%d", i),
			RawText:  fmt.Sprintf("Page %d about model AB%d-2C priced at $%d.00, in stock.", i, i, 10+i),
		}
	}

	outcomes := p.IngestBatch(ctx, pages)
	require.Len(t, outcomes, len(pages))
	for i, out := range outcomes {
		assert.Equal(t, StatusInserted, out.Status, "page %d: %s", i, out.Reason)
		assert.Equal(t, pages[i].URL, out.URL)
	}
}

func TestDetectChange(t *testing.T) {
	fp := chunker.Fingerprint("some text")

	assert.Equal(t, DecisionInsert, DetectChange(nil, fp))

	ingested := &storage.Page{ContentFingerprint: fp, IngestStatus: storage.IngestStatusIngested}
	assert.Equal(t, DecisionSkip, DetectChange(ingested, fp))

	changed := &storage.Page{ContentFingerprint: "other", IngestStatus: storage.IngestStatusIngested}
	assert.Equal(t, DecisionReplace, DetectChange(changed, fp))

	// Same fingerprint but the last ingest never completed: rebuild.
	stuck := &storage.Page{ContentFingerprint: fp, IngestStatus: storage.IngestStatusPendingRetry}
	assert.Equal(t, DecisionReplace, DetectChange(stuck, fp))
}
