package handlers

import (
	"net/http"
	"strconv"

	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
	"github.com/sitesage-ai/retrieval-engine/pkg/engine"
)

// AdminHandler exposes page listings, index rebuilds and monitoring views.
type AdminHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(logger *observability.Logger, eng *engine.Engine) *AdminHandler {
	return &AdminHandler{logger: logger, engine: eng}
}

// PageInfoDTO is one stored page in a listing.
type PageInfoDTO struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	IngestStatus   string `json:"ingestStatus"`
	RetryCount     int    `json:"retryCount"`
	LastIngestedAt string `json:"lastIngestedAt,omitempty"`
}

// ListPages handles GET /domains/{domainID}/pages.
func (h *AdminHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	domainID, ok := domainFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid domainID", "")
		return
	}

	pages, err := h.engine.Pages(r.Context(), domainID)
	if err != nil {
		h.logger.Error().Err(err).Msg("List pages failed")
		writeError(w, http.StatusInternalServerError, "list pages failed", err.Error())
		return
	}

	out := make([]PageInfoDTO, len(pages))
	for i, p := range pages {
		out[i] = toPageInfoDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out})
}

// RebuildIndex handles POST /domains/{domainID}/index/rebuild.
func (h *AdminHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	domainID, ok := domainFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid domainID", "")
		return
	}

	if err := h.engine.RebuildIndex(r.Context(), domainID); err != nil {
		h.logger.Error().Err(err).Msg("Index rebuild failed")
		writeError(w, http.StatusInternalServerError, "index rebuild failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// AuditEvents handles GET /audit?limit=N.
func (h *AdminHandler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": h.engine.AuditEvents(limit)})
}

// StalenessReport handles GET /staleness.
func (h *AdminHandler) StalenessReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.StalenessReport(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Staleness check failed")
		writeError(w, http.StatusInternalServerError, "staleness check failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func toPageInfoDTO(p *storage.Page) PageInfoDTO {
	dto := PageInfoDTO{
		ID:           p.ID.String(),
		URL:          p.URL,
		IngestStatus: string(p.IngestStatus),
		RetryCount:   p.RetryCount,
	}
	if !p.LastIngestedAt.IsZero() {
		dto.LastIngestedAt = p.LastIngestedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return dto
}
