package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/sitesage-ai/retrieval-engine/internal/observability"
)

// Generator runs batched embedding generation over a Provider. Batches run
// concurrently up to a limit and results are reassembled in input order. A
// batch that keeps failing after retries is split in half recursively down
// to single texts, so one poison input cannot sink its neighbors; the poison
// slot comes back nil and is logged.
type Generator struct {
	provider       Provider
	logger         *observability.Logger
	batchSize      int
	maxConcurrency int
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// GeneratorConfig holds generator tuning.
type GeneratorConfig struct {
	BatchSize      int // default 32
	MaxConcurrency int // default 4
	MaxRetries     int // default 3, per batch
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewGenerator creates a Generator over the given provider.
func NewGenerator(provider Provider, logger *observability.Logger, cfg GeneratorConfig) *Generator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Generator{
		provider:       provider,
		logger:         logger,
		batchSize:      cfg.BatchSize,
		maxConcurrency: cfg.MaxConcurrency,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}
}

// GenerateAll embeds all texts, preserving input order. A nil vector in the
// result marks a text the provider permanently rejected on its own; any
// dimension mismatch aborts the whole call.
func (g *Generator) GenerateAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.maxConcurrency)

	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		eg.Go(func() error {
			return g.embedRange(egCtx, texts, results, start, end)
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedRange embeds texts[start:end] into results[start:end], splitting the
// range in half on persistent failure.
func (g *Generator) embedRange(ctx context.Context, texts []string, results [][]float32, start, end int) error {
	batch := texts[start:end]
	vectors, err := g.embedWithRetry(ctx, batch)
	if err == nil {
		if vErr := g.checkVectors(batch, vectors); vErr != nil {
			return vErr
		}
		copy(results[start:end], vectors)
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if len(batch) == 1 {
		if IsTransient(err) {
			// Provider outage, not a poison input. Surface it so the page
			// level retry schedule takes over.
			return err
		}
		// Poison input: isolate it and move on.
		g.logger.Warn().
			Int("index", start).
			Err(err).
			Msg("embedding permanently rejected for single text, skipping")
		results[start] = nil
		return nil
	}

	mid := start + (end-start)/2
	g.logger.Debug().
		Int("start", start).
		Int("end", end).
		Err(err).
		Msg("splitting failed embedding batch")
	if err := g.embedRange(ctx, texts, results, start, mid); err != nil {
		return err
	}
	return g.embedRange(ctx, texts, results, mid, end)
}

// embedWithRetry calls the provider with exponential backoff on transient
// errors. Permanent errors fail immediately.
func (g *Generator) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32

	op := func() error {
		v, err := g.provider.Embed(ctx, batch)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vectors = v
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.initialBackoff
	bo.MaxInterval = g.maxBackoff
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(g.maxRetries)))
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// checkVectors enforces the count and dimension contract: one vector per
// input, all at the provider's declared dimension.
func (g *Generator) checkVectors(batch []string, vectors [][]float32) error {
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrDimensionMismatch, len(vectors), len(batch))
	}
	want := g.provider.Dimension()
	for i, v := range vectors {
		if v == nil {
			return fmt.Errorf("%w: missing vector at position %d", ErrDimensionMismatch, i)
		}
		if want > 0 && len(v) != want {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrDimensionMismatch, i, len(v), want)
		}
	}
	return nil
}
