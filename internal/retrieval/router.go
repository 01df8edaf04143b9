package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sitesage-ai/retrieval-engine/internal/cache"
	"github.com/sitesage-ai/retrieval-engine/internal/embedding"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// strategyChoice is one entry in an intent's strategy table. threshold is
// the minimum validation score an attempt must reach to stop the chain;
// below it the router falls through to the next strategy.
type strategyChoice struct {
	kind      StrategyKind
	threshold float64
}

// strategyTables orders strategies per intent. Identifier lookups try exact
// match first; constrained queries lead with filtered vector search; open
// questions lead with semantic search. Keyword search is the universal last
// resort.
var strategyTables = map[IntentType][]strategyChoice{
	IntentIdentifierLookup: {
		{StrategyExact, 0.5},
		{StrategyFilteredVector, 0.4},
		{StrategyKeyword, 0.2},
	},
	IntentPriceQuery: {
		{StrategyFilteredVector, 0.6},
		{StrategySemantic, 0.4},
		{StrategyKeyword, 0.2},
	},
	IntentAvailability: {
		{StrategyFilteredVector, 0.6},
		{StrategySemantic, 0.4},
		{StrategyKeyword, 0.2},
	},
	IntentCategoryBrowse: {
		{StrategyFilteredVector, 0.5},
		{StrategySemantic, 0.4},
		{StrategyKeyword, 0.2},
	},
	IntentComparison: {
		{StrategySemantic, 0.5},
		{StrategyKeyword, 0.3},
	},
	IntentGeneral: {
		{StrategySemantic, 0.5},
		{StrategyKeyword, 0.3},
	},
}

// RouterConfig holds routing budgets and limits.
type RouterConfig struct {
	MaxResults      int           // default 10
	MinConfidence   float64       // results scored below this are dropped
	StrategyTimeout time.Duration // per attempt, default 3s
	QueryTimeout    time.Duration // overall, default 10s
	MaxAttempts     int           // default 3
	CacheResults    bool
	CacheTTL        time.Duration
}

func (c *RouterConfig) applyDefaults() {
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 3 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// Options narrow one query's result limits. Zero values fall back to the
// router configuration.
type Options struct {
	MaxResults    int
	MinConfidence float64
}

// Response is the outcome of one routed retrieval.
type Response struct {
	Results   []RetrievalResult `json:"results"`
	Intent    QueryIntent       `json:"intent"`
	Report    ValidationReport  `json:"report"`
	Attempted []StrategyKind    `json:"attempted"`
	FromCache bool              `json:"from_cache"`
	Duration  time.Duration     `json:"duration"`
}

// Router classifies queries and runs the intent's strategy table until a
// result set passes validation or the attempt budget runs out. The best set
// seen so far is always returned, even on deadline.
type Router struct {
	classifier *Classifier
	validator  *Validator
	strategies map[StrategyKind]Strategy
	embedder   embedding.Provider
	cache      cache.Client
	logger     *observability.Logger
	config     RouterConfig
}

// NewRouter wires a Router over the store, index, embedder and cache.
func NewRouter(
	store storage.Store,
	index *VectorIndex,
	embedder embedding.Provider,
	cacheClient cache.Client,
	classifier *Classifier,
	logger *observability.Logger,
	cfg RouterConfig,
) *Router {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Router{
		classifier: classifier,
		validator:  NewValidator(store, cfg.MaxResults/2, 5),
		strategies: map[StrategyKind]Strategy{
			StrategyExact:          NewExactMatchStrategy(store),
			StrategyFilteredVector: NewFilteredVectorStrategy(store, index),
			StrategySemantic:       NewSemanticStrategy(store, index),
			StrategyKeyword:        NewKeywordStrategy(store),
		},
		embedder: embedder,
		cache:    cacheClient,
		logger:   logger,
		config:   cfg,
	}
}

// Retrieve answers a query against one domain. The overall deadline bounds
// classification, embedding and every strategy attempt; when it expires the
// best result set found so far is returned with its report.
func (r *Router) Retrieve(ctx context.Context, domainID uuid.UUID, queryText string) (*Response, error) {
	return r.RetrieveWithOptions(ctx, domainID, queryText, Options{})
}

// RetrieveWithOptions is Retrieve with per-query limit overrides. Overridden
// queries bypass the cache; cached entries reflect the configured defaults.
func (r *Router) RetrieveWithOptions(ctx context.Context, domainID uuid.UUID, queryText string, opts Options) (*Response, error) {
	started := time.Now()

	maxResults := r.config.MaxResults
	if opts.MaxResults > 0 {
		maxResults = opts.MaxResults
	}
	minConfidence := r.config.MinConfidence
	if opts.MinConfidence > 0 {
		minConfidence = opts.MinConfidence
	}
	useCache := opts == (Options{})

	if useCache {
		if cached := r.cacheLookup(ctx, domainID, queryText); cached != nil {
			cached.FromCache = true
			cached.Duration = time.Since(started)
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.QueryTimeout)
	defer cancel()

	intent := r.classifier.Classify(queryText)
	q := &Query{
		DomainID: domainID,
		Text:     queryText,
		Intent:   intent,
		Vector:   r.embedQuery(ctx, queryText),
		Keywords: r.classifier.ExtractKeywords(queryText),
		Limit:    maxResults,
	}

	table := strategyTables[intent.Type]
	if table == nil {
		table = strategyTables[IntentGeneral]
	}
	attempts := len(table)
	if attempts > r.config.MaxAttempts {
		attempts = r.config.MaxAttempts
	}

	resp := &Response{Intent: intent, Report: ValidationReport{Verdict: VerdictPoor}}
	var sets [][]RetrievalResult
	var strategyErrs []error

	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			r.logger.Warn().
				Str("query", queryText).
				Err(ctx.Err()).
				Msg("retrieval deadline hit, returning best result set so far")
			break
		}

		choice := table[i]
		strategy := r.strategies[choice.kind]
		results, err := r.runStrategy(ctx, strategy, q)
		resp.Attempted = append(resp.Attempted, choice.kind)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			strategyErrs = append(strategyErrs, fmt.Errorf("%s: %w", choice.kind, err))
			r.logger.Error().
				Str("strategy", string(choice.kind)).
				Err(err).
				Msg("retrieval strategy failed")
			continue
		}

		sets = append(sets, results)
		merged := applyMinConfidence(MergeResults(sets...), minConfidence)
		report := r.validator.Validate(ctx, q, merged)
		if report.Score >= resp.Report.Score || len(resp.Results) == 0 {
			resp.Results = capResults(merged, maxResults)
			resp.Report = report
		}
		if report.Passed() && report.Score >= choice.threshold {
			break
		}
		r.logger.Debug().
			Str("strategy", string(choice.kind)).
			Str("verdict", string(report.Verdict)).
			Float64("score", report.Score).
			Float64("threshold", choice.threshold).
			Int("results", len(merged)).
			Msg("result set below quality bar, falling back")
	}

	// An empty set from strategies that merely found nothing is a valid
	// answer; every attempted strategy erroring is not.
	if len(resp.Results) == 0 && len(strategyErrs) > 0 && len(strategyErrs) == len(resp.Attempted) {
		return nil, fmt.Errorf("all retrieval strategies failed: %w", errors.Join(strategyErrs...))
	}

	resp.Duration = time.Since(started)
	r.logger.Info().
		Str("domain_id", domainID.String()).
		Str("intent", string(intent.Type)).
		Str("verdict", string(resp.Report.Verdict)).
		Int("results", len(resp.Results)).
		Dur("duration", resp.Duration).
		Msg("retrieval complete")

	if useCache {
		r.cacheStore(ctx, domainID, queryText, resp)
	}
	return resp, nil
}

// runStrategy runs one strategy under the per-attempt timeout.
func (r *Router) runStrategy(ctx context.Context, strategy Strategy, q *Query) ([]RetrievalResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.config.StrategyTimeout)
	defer cancel()
	return strategy.Run(attemptCtx, q)
}

// embedQuery embeds the query text. Embedding failure is not fatal: exact and
// keyword strategies still work without a vector.
func (r *Router) embedQuery(ctx context.Context, queryText string) []float32 {
	if r.embedder == nil {
		return nil
	}
	vectors, err := r.embedder.Embed(ctx, []string{queryText})
	if err != nil || len(vectors) != 1 {
		r.logger.Warn().Err(err).Msg("query embedding failed, vector strategies disabled for this query")
		return nil
	}
	return vectors[0]
}

func applyMinConfidence(results []RetrievalResult, minConfidence float64) []RetrievalResult {
	if minConfidence <= 0 {
		return results
	}
	filtered := results[:0:0]
	for _, res := range results {
		if res.Score >= minConfidence {
			filtered = append(filtered, res)
		}
	}
	return filtered
}

// queryCacheKey scopes cached responses by domain so ingestion's domain-wide
// invalidation sweeps them.
func queryCacheKey(domainID uuid.UUID, queryText string) string {
	sum := sha256.Sum256([]byte(queryText))
	return cache.DomainCacheKey(domainID.String(), "q", hex.EncodeToString(sum[:16]))
}

func (r *Router) cacheLookup(ctx context.Context, domainID uuid.UUID, queryText string) *Response {
	if r.cache == nil || !r.config.CacheResults {
		return nil
	}
	data, err := r.cache.Get(ctx, queryCacheKey(domainID, queryText))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn().Err(err).Msg("query cache lookup failed")
		}
		return nil
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	return &resp
}

// cacheStore caches passing responses only; poor results should be retried,
// not replayed.
func (r *Router) cacheStore(ctx context.Context, domainID uuid.UUID, queryText string, resp *Response) {
	if r.cache == nil || !r.config.CacheResults || !resp.Report.Passed() {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, queryCacheKey(domainID, queryText), data, r.config.CacheTTL); err != nil {
		r.logger.Warn().Err(err).Msg("query cache store failed")
	}
}
