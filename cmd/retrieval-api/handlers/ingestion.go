package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sitesage-ai/retrieval-engine/internal/ingest"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/pkg/engine"
)

// IngestionHandler handles scraped page ingestion requests.
type IngestionHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewIngestionHandler creates an ingestion handler.
func NewIngestionHandler(logger *observability.Logger, eng *engine.Engine) *IngestionHandler {
	return &IngestionHandler{logger: logger, engine: eng}
}

// PageDTO is one scraped page in a request.
type PageDTO struct {
	URL       string     `json:"url"`
	RawText   string     `json:"rawText"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
}

// BatchIngestRequestDTO is the batch request body.
type BatchIngestRequestDTO struct {
	Pages []PageDTO `json:"pages"`
}

// OutcomeDTO reports what happened to one page.
type OutcomeDTO struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	PageID     string `json:"pageId,omitempty"`
	URL        string `json:"url"`
	Chunks     int    `json:"chunks"`
	Embeddings int    `json:"embeddings"`
	DurationMs int64  `json:"durationMs"`
}

// IngestPage handles POST /domains/{domainID}/ingest.
func (h *IngestionHandler) IngestPage(w http.ResponseWriter, r *http.Request) {
	domainID, ok := domainFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid domainID", "")
		return
	}

	var dto PageDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if dto.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required", "")
		return
	}

	outcome := h.engine.IngestPage(r.Context(), toScrapedPage(domainID, dto))
	status := http.StatusOK
	if outcome.Status == ingest.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, toOutcomeDTO(outcome))
}

// IngestBatch handles POST /domains/{domainID}/ingest/batch.
func (h *IngestionHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	domainID, ok := domainFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid domainID", "")
		return
	}

	var dto BatchIngestRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(dto.Pages) == 0 {
		writeError(w, http.StatusBadRequest, "pages is required", "")
		return
	}
	for _, p := range dto.Pages {
		if p.URL == "" {
			writeError(w, http.StatusBadRequest, "every page needs a url", "")
			return
		}
	}

	pages := make([]ingest.ScrapedPage, len(dto.Pages))
	for i, p := range dto.Pages {
		pages[i] = toScrapedPage(domainID, p)
	}

	outcomes := h.engine.IngestBatch(r.Context(), pages)
	out := make([]OutcomeDTO, len(outcomes))
	for i, o := range outcomes {
		out[i] = toOutcomeDTO(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": out})
}

func toScrapedPage(domainID uuid.UUID, dto PageDTO) ingest.ScrapedPage {
	page := ingest.ScrapedPage{
		DomainID: domainID,
		URL:      dto.URL,
		RawText:  dto.RawText,
	}
	if dto.FetchedAt != nil {
		page.FetchedAt = *dto.FetchedAt
	} else {
		page.FetchedAt = time.Now()
	}
	return page
}

func toOutcomeDTO(o ingest.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		Status:     string(o.Status),
		Reason:     o.Reason,
		URL:        o.URL,
		Chunks:     o.Chunks,
		Embeddings: o.Embeddings,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.PageID != uuid.Nil {
		dto.PageID = o.PageID.String()
	}
	return dto
}
