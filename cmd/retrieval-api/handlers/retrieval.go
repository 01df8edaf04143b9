package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/retrieval"
	"github.com/sitesage-ai/retrieval-engine/pkg/engine"
)

// RetrievalHandler handles query requests.
type RetrievalHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewRetrievalHandler creates a retrieval handler.
func NewRetrievalHandler(logger *observability.Logger, eng *engine.Engine) *RetrievalHandler {
	return &RetrievalHandler{logger: logger, engine: eng}
}

// QueryRequestDTO is the query request body.
type QueryRequestDTO struct {
	Query string `json:"query"`
}

// ResultDTO is one scored chunk in a response.
type ResultDTO struct {
	ChunkID        string  `json:"chunkId"`
	Score          float64 `json:"score"`
	MatchKind      string  `json:"matchKind"`
	SourceStrategy string  `json:"sourceStrategy"`
	Text           string  `json:"text"`
}

// IntentDTO describes the classified query.
type IntentDTO struct {
	Type        string                `json:"type"`
	Confidence  float64               `json:"confidence"`
	Entities    retrieval.Entities    `json:"entities"`
	Constraints retrieval.Constraints `json:"constraints"`
}

// QueryResponseDTO is the query response body.
type QueryResponseDTO struct {
	Results   []ResultDTO                `json:"results"`
	Intent    IntentDTO                  `json:"intent"`
	Report    retrieval.ValidationReport `json:"report"`
	Attempted []retrieval.StrategyKind   `json:"attempted"`
	FromCache bool                       `json:"fromCache"`
	LatencyMs int64                      `json:"latencyMs"`
}

// Query handles POST /domains/{domainID}/query.
func (h *RetrievalHandler) Query(w http.ResponseWriter, r *http.Request) {
	domainID, ok := domainFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid domainID", "")
		return
	}

	var dto QueryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if dto.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}

	resp, err := h.engine.Retrieve(r.Context(), domainID, dto.Query)
	if err != nil {
		h.logger.Error().Err(err).Msg("Query failed")
		writeError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toQueryResponseDTO(resp))
}

func toQueryResponseDTO(resp *retrieval.Response) QueryResponseDTO {
	results := make([]ResultDTO, len(resp.Results))
	for i, res := range resp.Results {
		results[i] = ResultDTO{
			ChunkID:        res.ChunkID.String(),
			Score:          res.Score,
			MatchKind:      string(res.MatchKind),
			SourceStrategy: string(res.SourceStrategy),
			Text:           res.Text,
		}
	}
	return QueryResponseDTO{
		Results: results,
		Intent: IntentDTO{
			Type:        string(resp.Intent.Type),
			Confidence:  resp.Intent.Confidence,
			Entities:    resp.Intent.Entities,
			Constraints: resp.Intent.Constraints,
		},
		Report:    resp.Report,
		Attempted: resp.Attempted,
		FromCache: resp.FromCache,
		LatencyMs: resp.Duration.Milliseconds(),
	}
}
