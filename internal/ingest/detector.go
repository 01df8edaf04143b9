// Package ingest provides the page ingestion pipeline: change detection,
// chunking, extraction, embedding and the staged chunk swap.
package ingest

import "github.com/sitesage-ai/retrieval-engine/internal/storage"

// Decision is the change detector's verdict for an incoming page.
type Decision int

const (
	// DecisionInsert means no live page exists for (domain, url).
	DecisionInsert Decision = iota
	// DecisionSkip means the content is unchanged and fully ingested;
	// chunking and embedding are short-circuited entirely.
	DecisionSkip
	// DecisionReplace means content changed (or a previous ingest did not
	// complete); the chunk set is rebuilt and swapped in.
	DecisionReplace
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionSkip:
		return "skip"
	case DecisionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// DetectChange compares an incoming fingerprint against the stored page.
// A matching fingerprint only skips when the prior ingest completed; a page
// stuck in retry or failed state is rebuilt even if its text is unchanged.
func DetectChange(existing *storage.Page, fingerprint string) Decision {
	if existing == nil {
		return DecisionInsert
	}
	if existing.ContentFingerprint == fingerprint && existing.IngestStatus == storage.IngestStatusIngested {
		return DecisionSkip
	}
	return DecisionReplace
}
