// Package monitoring provides the audit trail and the corpus staleness
// sweeper.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitesage-ai/retrieval-engine/internal/ingest"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/retrieval"
)

// EventKind tags an audit event.
type EventKind string

const (
	EventIngest    EventKind = "ingest"
	EventRetrieval EventKind = "retrieval"
)

// Event is one audited operation. Events go to the structured log and into a
// bounded in-memory ring the API exposes for inspection.
type Event struct {
	Kind      EventKind     `json:"kind"`
	DomainID  uuid.UUID     `json:"domain_id"`
	Subject   string        `json:"subject"` // URL for ingests, query text for retrievals
	Status    string        `json:"status"`  // ingest status or validation verdict
	Detail    string        `json:"detail,omitempty"`
	Results   int           `json:"results,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// AuditLog records ingestion and retrieval outcomes. It satisfies the
// pipeline's Auditor interface and is called by the engine on the query path.
type AuditLog struct {
	mu     sync.Mutex
	events []Event
	next   int
	filled bool
	logger *observability.Logger
}

// NewAuditLog creates an AuditLog retaining the last capacity events.
func NewAuditLog(logger *observability.Logger, capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuditLog{events: make([]Event, capacity), logger: logger}
}

// RecordIngest records one page ingest outcome.
func (a *AuditLog) RecordIngest(ctx context.Context, page ingest.ScrapedPage, outcome ingest.Outcome) {
	a.append(Event{
		Kind:      EventIngest,
		DomainID:  page.DomainID,
		Subject:   page.URL,
		Status:    string(outcome.Status),
		Detail:    outcome.Reason,
		Results:   outcome.Chunks,
		Duration:  outcome.Duration,
		Timestamp: time.Now(),
	})
}

// RecordRetrieval records one routed query.
func (a *AuditLog) RecordRetrieval(ctx context.Context, domainID uuid.UUID, query string, resp *retrieval.Response) {
	a.append(Event{
		Kind:      EventRetrieval,
		DomainID:  domainID,
		Subject:   query,
		Status:    string(resp.Report.Verdict),
		Results:   len(resp.Results),
		Duration:  resp.Duration,
		Timestamp: time.Now(),
	})
}

func (a *AuditLog) append(e Event) {
	a.logger.Info().
		Str("kind", string(e.Kind)).
		Str("domain_id", e.DomainID.String()).
		Str("subject", e.Subject).
		Str("status", e.Status).
		Int("results", e.Results).
		Dur("duration", e.Duration).
		Msg("audit event")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.events[a.next] = e
	a.next++
	if a.next == len(a.events) {
		a.next = 0
		a.filled = true
	}
}

// Recent returns up to n events, newest first.
func (a *AuditLog) Recent(n int) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.next
	if a.filled {
		size = len(a.events)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := a.next - 1 - i
		if idx < 0 {
			idx += len(a.events)
		}
		out = append(out, a.events[idx])
	}
	return out
}
