package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/sitesage-ai/retrieval-engine/internal/chunker"
	"github.com/sitesage-ai/retrieval-engine/internal/embedding"
	"github.com/sitesage-ai/retrieval-engine/internal/extract"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// Status is the outcome classification of one page ingest.
type Status string

const (
	StatusInserted Status = "inserted"
	StatusSkipped  Status = "skipped"
	StatusReplaced Status = "replaced"
	StatusFailed   Status = "failed"
)

// ScrapedPage is the pipeline input: one fetched page for a customer domain.
type ScrapedPage struct {
	DomainID  uuid.UUID `json:"domain_id"`
	URL       string    `json:"url"`
	RawText   string    `json:"raw_text"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Outcome reports what happened to one page.
type Outcome struct {
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	PageID     uuid.UUID     `json:"page_id"`
	URL        string        `json:"url"`
	Chunks     int           `json:"chunks"`
	Embeddings int           `json:"embeddings"`
	Duration   time.Duration `json:"duration"`
}

// Indexer receives vectors for the live cosine index. Implemented by the
// retrieval package's vector adapter.
type Indexer interface {
	Upsert(chunkID uuid.UUID, domainID uuid.UUID, kind storage.EmbeddingKind, vector []float32) error
	Remove(chunkIDs []uuid.UUID)
}

// Invalidator drops cached query results for a domain after its corpus
// changes.
type Invalidator interface {
	InvalidateDomain(ctx context.Context, domainID uuid.UUID) error
}

// Auditor records ingestion outcomes.
type Auditor interface {
	RecordIngest(ctx context.Context, page ScrapedPage, outcome Outcome)
}

// Config holds pipeline tuning.
type Config struct {
	Workers    int           // concurrent pages in flight, default 5
	RetryBase  time.Duration // default 1s
	RetryCap   time.Duration // default 60s
	MaxRetries int           // default 5 attempts total
}

// Pipeline ingests scraped pages: change detection, chunking, extraction,
// embedding, staged chunk swap, index update, cache invalidation.
type Pipeline struct {
	store      storage.Store
	chunks     *chunker.Chunker
	extractor  *extract.Runner
	generator  *embedding.Generator
	index      Indexer
	invalidate Invalidator
	auditor    Auditor
	logger     *observability.Logger

	pool *ants.Pool
	cfg  Config
}

// NewPipeline creates a Pipeline. index, invalidate and auditor may be nil.
func NewPipeline(
	store storage.Store,
	ch *chunker.Chunker,
	extractor *extract.Runner,
	generator *embedding.Generator,
	index Indexer,
	invalidate Invalidator,
	auditor Auditor,
	logger *observability.Logger,
	cfg Config,
) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Pipeline{
		store:      store,
		chunks:     ch,
		extractor:  extractor,
		generator:  generator,
		index:      index,
		invalidate: invalidate,
		auditor:    auditor,
		logger:     logger,
		pool:       pool,
		cfg:        cfg,
	}, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// IngestPage ingests a single page synchronously, retrying transient
// failures with exponential backoff. The returned Outcome always has a
// status; errors inside a page are folded into StatusFailed.
func (p *Pipeline) IngestPage(ctx context.Context, page ScrapedPage) Outcome {
	started := time.Now()
	log := p.logger.WithDomain(page.DomainID.String()).WithOperation("ingest")

	outcome := p.ingestWithRetry(ctx, page, log)
	outcome.Duration = time.Since(started)
	outcome.URL = page.URL

	log.Info().
		Str("url", page.URL).
		Str("status", string(outcome.Status)).
		Str("reason", outcome.Reason).
		Int("chunks", outcome.Chunks).
		Dur("duration", outcome.Duration).
		Msg("page ingest finished")

	if p.auditor != nil {
		p.auditor.RecordIngest(ctx, page, outcome)
	}
	return outcome
}

// IngestBatch ingests pages concurrently through the worker pool and
// returns outcomes in input order.
func (p *Pipeline) IngestBatch(ctx context.Context, pages []ScrapedPage) []Outcome {
	outcomes := make([]Outcome, len(pages))
	var wg sync.WaitGroup

	for i := range pages {
		i := i
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = p.IngestPage(ctx, pages[i])
		})
		if err != nil {
			wg.Done()
			outcomes[i] = Outcome{
				Status: StatusFailed,
				Reason: fmt.Sprintf("submit to worker pool: %v", err),
				URL:    pages[i].URL,
			}
		}
	}
	wg.Wait()
	return outcomes
}

// ingestWithRetry drives processPage through the backoff schedule. Only
// transient failures re-run; the old chunk set stays authoritative between
// attempts.
func (p *Pipeline) ingestWithRetry(ctx context.Context, page ScrapedPage, log *observability.Logger) Outcome {
	delay := p.cfg.RetryBase
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		outcome, err := p.processPage(ctx, page)
		if err == nil {
			return outcome
		}
		lastErr = err

		if !isTransient(err) || ctx.Err() != nil {
			break
		}

		log.Warn().
			Str("url", page.URL).
			Int("attempt", attempt).
			Dur("next_delay", delay).
			Err(err).
			Msg("transient ingest failure, backing off")
		p.markPage(ctx, page, storage.IngestStatusPendingRetry, attempt)

		select {
		case <-ctx.Done():
			return Outcome{Status: StatusFailed, Reason: ctx.Err().Error(), PageID: p.lookupPageID(ctx, page)}
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.cfg.RetryCap {
			delay = p.cfg.RetryCap
		}
	}

	p.markPage(ctx, page, storage.IngestStatusFailed, p.cfg.MaxRetries)
	return Outcome{Status: StatusFailed, Reason: lastErr.Error(), PageID: p.lookupPageID(ctx, page)}
}

// lookupPageID resolves the stored page ID so failure outcomes still carry
// the page identity. Returns uuid.Nil when no page record exists yet. The
// lookup survives a cancelled request context.
func (p *Pipeline) lookupPageID(ctx context.Context, page ScrapedPage) uuid.UUID {
	existing, err := p.store.GetPage(context.WithoutCancel(ctx), page.DomainID, page.URL)
	if err != nil || existing == nil {
		return uuid.Nil
	}
	return existing.ID
}

// isTransient reports whether the error warrants another attempt.
func isTransient(err error) bool {
	return embedding.IsTransient(err) || errors.Is(err, storage.ErrStorageContention)
}

// processPage runs one full ingest attempt.
func (p *Pipeline) processPage(ctx context.Context, page ScrapedPage) (Outcome, error) {
	fingerprint := chunker.Fingerprint(page.RawText)

	existing, err := p.store.GetPage(ctx, page.DomainID, page.URL)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, fmt.Errorf("load page: %w", err)
	}

	decision := DetectChange(existing, fingerprint)
	if decision == DecisionSkip {
		return Outcome{Status: StatusSkipped, Reason: "content unchanged", PageID: existing.ID}, nil
	}

	record := storage.Page{
		DomainID:           page.DomainID,
		URL:                page.URL,
		RawText:            page.RawText,
		ContentFingerprint: fingerprint,
		IngestStatus:       storage.IngestStatusNew,
	}
	if existing != nil {
		record.ID = existing.ID
		record.RetryCount = existing.RetryCount
		record.LastIngestedAt = existing.LastIngestedAt
	}
	if err := p.store.SavePage(ctx, &record); err != nil {
		return Outcome{}, fmt.Errorf("save page: %w", err)
	}

	// Remember the outgoing chunk IDs so the index can drop them after the
	// swap commits.
	var oldChunkIDs []uuid.UUID
	if decision == DecisionReplace {
		oldChunks, err := p.store.ChunksByPage(ctx, record.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load previous chunks: %w", err)
		}
		for _, c := range oldChunks {
			oldChunkIDs = append(oldChunkIDs, c.ID)
		}
	}

	records, embedCount, err := p.buildChunkRecords(ctx, &record)
	if err != nil {
		return Outcome{}, err
	}

	if err := p.replaceWithContentionRetry(ctx, record.ID, records); err != nil {
		return Outcome{}, err
	}

	p.updateIndex(oldChunkIDs, records)

	record.IngestStatus = storage.IngestStatusIngested
	record.RetryCount = 0
	record.LastIngestedAt = time.Now()
	if err := p.store.SavePage(ctx, &record); err != nil {
		return Outcome{}, fmt.Errorf("finalize page: %w", err)
	}

	if p.invalidate != nil {
		if err := p.invalidate.InvalidateDomain(ctx, page.DomainID); err != nil {
			p.logger.Warn().Str("url", page.URL).Err(err).Msg("cache invalidation failed")
		}
	}

	status := StatusInserted
	if decision == DecisionReplace {
		status = StatusReplaced
	}
	return Outcome{
		Status:     status,
		PageID:     record.ID,
		Chunks:     len(records),
		Embeddings: embedCount,
	}, nil
}

// buildChunkRecords chunks the page, extracts metadata and generates both
// embedding kinds. Texts go to the provider as one ordered slice: content
// vectors first, then metadata vectors for chunks that produced any.
func (p *Pipeline) buildChunkRecords(ctx context.Context, page *storage.Page) ([]storage.ChunkRecord, int, error) {
	pieces := p.chunks.Split(page.RawText)
	if len(pieces) == 0 {
		return nil, 0, nil
	}

	records := make([]storage.ChunkRecord, len(pieces))
	contentTexts := make([]string, len(pieces))
	metaTexts := make([]string, 0, len(pieces))
	metaOwner := make([]int, 0, len(pieces)) // metadata text position -> record index

	for i, piece := range pieces {
		meta := p.extractor.Run(piece.Text)
		records[i] = storage.ChunkRecord{
			Chunk: storage.Chunk{
				ID:                 uuid.New(),
				DomainID:           page.DomainID,
				ChunkIndex:         piece.Index,
				Text:               piece.Text,
				TokenCountEstimate: piece.TokenEstimate,
			},
			Metadata: meta,
		}
		contentTexts[i] = piece.Text
		if flat := extract.FlattenForEmbedding(meta); flat != "" {
			metaOwner = append(metaOwner, i)
			metaTexts = append(metaTexts, flat)
		}
	}

	vectors, err := p.generator.GenerateAll(ctx, append(contentTexts, metaTexts...))
	if err != nil {
		return nil, 0, fmt.Errorf("generate embeddings: %w", err)
	}

	embedCount := 0
	for i := range pieces {
		if v := vectors[i]; v != nil {
			records[i].Embeddings = append(records[i].Embeddings, storage.Embedding{
				ChunkID: records[i].Chunk.ID,
				Kind:    storage.EmbeddingKindContent,
				Vector:  v,
			})
			embedCount++
		}
	}
	for j, owner := range metaOwner {
		if v := vectors[len(pieces)+j]; v != nil {
			records[owner].Embeddings = append(records[owner].Embeddings, storage.Embedding{
				ChunkID: records[owner].Chunk.ID,
				Kind:    storage.EmbeddingKindMetadata,
				Vector:  v,
			})
			embedCount++
		}
	}
	return records, embedCount, nil
}

// replaceWithContentionRetry performs the staged swap, retrying exactly once
// immediately on storage contention before escalating.
func (p *Pipeline) replaceWithContentionRetry(ctx context.Context, pageID uuid.UUID, records []storage.ChunkRecord) error {
	err := p.store.ReplacePageChunks(ctx, pageID, records)
	if errors.Is(err, storage.ErrStorageContention) {
		err = p.store.ReplacePageChunks(ctx, pageID, records)
	}
	if err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	return nil
}

// updateIndex swaps the page's vectors in the live index.
func (p *Pipeline) updateIndex(oldChunkIDs []uuid.UUID, records []storage.ChunkRecord) {
	if p.index == nil {
		return
	}
	p.index.Remove(oldChunkIDs)
	for _, rec := range records {
		for _, e := range rec.Embeddings {
			if err := p.index.Upsert(e.ChunkID, rec.Chunk.DomainID, e.Kind, e.Vector); err != nil {
				p.logger.Warn().
					Str("chunk_id", e.ChunkID.String()).
					Err(err).
					Msg("index upsert rejected vector")
			}
		}
	}
}

// markPage best-effort updates the page's ingest status between attempts.
func (p *Pipeline) markPage(ctx context.Context, page ScrapedPage, status storage.IngestStatus, retries int) {
	existing, err := p.store.GetPage(ctx, page.DomainID, page.URL)
	if err != nil {
		return
	}
	existing.IngestStatus = status
	existing.RetryCount = retries
	if err := p.store.SavePage(ctx, existing); err != nil {
		p.logger.Warn().Str("url", page.URL).Err(err).Msg("failed to update page status")
	}
}
