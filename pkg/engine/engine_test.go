package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage-ai/retrieval-engine/internal/config"
	"github.com/sitesage-ai/retrieval-engine/internal/ingest"
	"github.com/sitesage-ai/retrieval-engine/internal/retrieval"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Embedding.Dimension = 32
	cfg.Ingestion.ChunkSize = 300
	cfg.Ingestion.ChunkOverlap = 40
	cfg.Ingestion.RetryBase = time.Millisecond
	cfg.Ingestion.KnownBrands = []string{"Acme"}
	cfg.Ingestion.KnownCategories = []string{"pumps"}
	cfg.Monitoring.StalenessInterval = 0 // no background sweeps in tests

	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineIngestThenRetrieve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	domainID := uuid.New()

	out := e.IngestPage(ctx, ingest.ScrapedPage{
		DomainID: domainID,
		URL:      "https://acme.test/p1",
		RawText:  "Acme pumps model DC66-10P is priced at $49.99 and in stock today.",
	})
	require.Equal(t, ingest.StatusInserted, out.Status, out.Reason)

	resp, err := e.Retrieve(ctx, domainID, "DC66-10P")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, retrieval.IntentIdentifierLookup, resp.Intent.Type)
	assert.Equal(t, retrieval.MatchExact, resp.Results[0].MatchKind)
	assert.Contains(t, resp.Results[0].Text, "DC66-10P")
	assert.True(t, resp.Report.Passed())
}

func TestEngineIngestInvalidatesCachedQueries(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	domainID := uuid.New()

	page := ingest.ScrapedPage{
		DomainID: domainID,
		URL:      "https://acme.test/p1",
		RawText:  "Acme pumps model DC66-10P, in stock.",
	}
	require.Equal(t, ingest.StatusInserted, e.IngestPage(ctx, page).Status)

	first, err := e.Retrieve(ctx, domainID, "DC66-10P")
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)

	cached, err := e.Retrieve(ctx, domainID, "DC66-10P")
	require.NoError(t, err)
	assert.True(t, cached.FromCache)

	// Content change re-ingests and sweeps the domain's cached queries.
	page.RawText = "Acme pumps model DC66-10P, now sold out."
	require.Equal(t, ingest.StatusReplaced, e.IngestPage(ctx, page).Status)

	fresh, err := e.Retrieve(ctx, domainID, "DC66-10P")
	require.NoError(t, err)
	assert.False(t, fresh.FromCache)
	require.NotEmpty(t, fresh.Results)
	assert.Contains(t, fresh.Results[0].Text, "sold out")
}

func TestEngineRebuildIndex(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	domainID := uuid.New()

	out := e.IngestPage(ctx, ingest.ScrapedPage{
		DomainID: domainID,
		URL:      "https://acme.test/p1",
		RawText:  "Acme pumps move water for garden irrigation projects.",
	})
	require.Equal(t, ingest.StatusInserted, out.Status)

	require.NoError(t, e.RebuildIndex(ctx, domainID))

	resp, err := e.Retrieve(ctx, domainID, "garden irrigation")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestEngineAuditTrail(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	domainID := uuid.New()

	e.IngestPage(ctx, ingest.ScrapedPage{
		DomainID: domainID,
		URL:      "https://acme.test/p1",
		RawText:  "Acme pumps catalog page.",
	})
	_, err := e.Retrieve(ctx, domainID, "pumps catalog")
	require.NoError(t, err)

	events := e.AuditEvents(10)
	require.NotEmpty(t, events)
	kinds := make(map[string]bool)
	for _, ev := range events {
		kinds[string(ev.Kind)] = true
	}
	assert.True(t, kinds["ingest"])
	assert.True(t, kinds["retrieval"])
}
