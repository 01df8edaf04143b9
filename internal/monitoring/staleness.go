package monitoring

import (
	"context"
	"time"

	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// StaleReport lists pages whose last successful ingest is older than the
// freshness threshold.
type StaleReport struct {
	Threshold time.Duration   `json:"threshold"`
	CheckedAt time.Time       `json:"checked_at"`
	Pages     []*storage.Page `json:"pages"`
}

// StalenessMonitor periodically sweeps the page table for content that has
// not been re-ingested within the freshness threshold and logs what it
// finds. It only observes; re-scraping is the caller's job.
type StalenessMonitor struct {
	store     storage.PageStore
	logger    *observability.Logger
	interval  time.Duration
	threshold time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStalenessMonitor creates a monitor sweeping every interval for pages
// older than threshold.
func NewStalenessMonitor(store storage.PageStore, logger *observability.Logger, interval, threshold time.Duration) *StalenessMonitor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if threshold <= 0 {
		threshold = 7 * 24 * time.Hour
	}
	return &StalenessMonitor{
		store:     store,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}
}

// Check runs one sweep immediately.
func (m *StalenessMonitor) Check(ctx context.Context) (*StaleReport, error) {
	now := time.Now()
	pages, err := m.store.ListStalePages(ctx, now.Add(-m.threshold))
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		oldest := pages[0]
		m.logger.Warn().
			Int("stale_pages", len(pages)).
			Str("oldest_url", oldest.URL).
			Time("oldest_ingested_at", oldest.LastIngestedAt).
			Msg("corpus staleness threshold exceeded")
	}
	return &StaleReport{Threshold: m.threshold, CheckedAt: now, Pages: pages}, nil
}

// Start launches the background sweep loop. Stop terminates it.
func (m *StalenessMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error().Err(err).Msg("staleness sweep failed")
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (m *StalenessMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}
