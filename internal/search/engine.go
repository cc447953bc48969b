// Package search implements the retrieval pipeline: vector similarity
// with optional full-text fusion, recency boosting, keyword fallback,
// source-priority merging with reactive dedup, and drilldown guidance.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/specmem/specmem/internal/config"
	"github.com/specmem/specmem/internal/embedding"
	"github.com/specmem/specmem/internal/hotpath"
	"github.com/specmem/specmem/internal/store"
	"github.com/specmem/specmem/internal/tasks"
)

var tracer = otel.Tracer("specmem/search")

// Options selects per-request behavior on top of the configured defaults.
type Options struct {
	// Limit caps the merged result set. 0 uses the configured default.
	Limit int
	// Threshold overrides the vector noise floor. 0 uses the default.
	Threshold float64
	// Hybrid fuses full-text rank into the similarity score.
	Hybrid bool
	// KeywordFallback enables the ILIKE fallback when semantic results
	// are weak or absent.
	KeywordFallback bool
	// IncludeRecent adds the N most recent memories regardless of
	// similarity, flagged as fallback results.
	IncludeRecent int
}

// Response is a search answer: ranked results plus an advisory
// classification of how good they are.
type Response struct {
	Results   []store.SearchResult `json:"results"`
	Drilldown Drilldown            `json:"drilldown"`
	Guidance  string               `json:"guidance,omitempty"`
}

// Engine orchestrates the retrieval pipeline over a MemoryStore and an
// embedding gateway. Bookkeeping (access counts, hot-path recording,
// duplicate cleanup) goes through the task queue and never fails a read.
type Engine struct {
	memories store.MemoryStore
	gateway  embedding.Gateway
	queue    *tasks.Queue
	hotpaths *hotpath.Manager // optional

	mu  sync.RWMutex
	cfg config.SearchConfig

	embedTimeout time.Duration
	now          func() time.Time
}

// NewEngine wires the search pipeline. hot may be nil when access-pattern
// tracking is disabled.
func NewEngine(ms store.MemoryStore, gw embedding.Gateway, q *tasks.Queue, hot *hotpath.Manager, cfg config.SearchConfig, embedTimeout time.Duration) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if embedTimeout <= 0 {
		embedTimeout = 8 * time.Second
	}
	return &Engine{
		memories:     ms,
		gateway:      gw,
		queue:        q,
		hotpaths:     hot,
		cfg:          cfg,
		embedTimeout: embedTimeout,
		now:          time.Now,
	}
}

// SetTuning swaps the retrieval constants. Used by config hot-reload;
// searches already past their snapshot read keep the old values.
func (e *Engine) SetTuning(cfg config.SearchConfig) {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) tuning() config.SearchConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Search runs the full pipeline for one query. An empty query is not an
// error: it returns guidance with no results.
func (e *Engine) Search(ctx context.Context, tenant, query string, filters store.SearchFilters, opts Options) (*Response, error) {
	ctx, span := tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Bool("hybrid", opts.Hybrid),
	))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return &Response{
			Drilldown: DrilldownNone,
			Guidance:  "empty query: provide search terms, or use recent-memory listing instead",
		}, nil
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	cfg := e.tuning()
	limit := opts.Limit
	if limit <= 0 {
		limit = cfg.MaxResults
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = cfg.Threshold
	}

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	semantic, err := e.vectorSearch(ctx, tenant, vec, filters, threshold, limit)
	if err != nil {
		return nil, err
	}

	if opts.Hybrid {
		text, err := e.textSearch(ctx, tenant, query, limit)
		if err != nil {
			// Fusion is an enrichment: fall back to pure vector results.
			slog.Warn("search.fulltext_failed", "tenant", tenant, "error", err)
		} else {
			semantic = e.fuse(semantic, text)
		}
	}

	e.boostRecency(semantic)
	sortByScore(semantic)

	keywords := extractKeywords(query)
	var fallback []store.SearchResult
	if opts.KeywordFallback && e.needsFallback(semantic) {
		fallback, err = e.keywordSearch(ctx, tenant, keywords, limit)
		if err != nil {
			return nil, err
		}
	}

	var recent []store.SearchResult
	if opts.IncludeRecent > 0 {
		recent, err = e.recentMemories(ctx, tenant, opts.IncludeRecent)
		if err != nil {
			return nil, err
		}
	}

	merged := e.merge(tenant, semantic, recent, fallback)
	sortByScore(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	for i := range merged {
		if len(merged[i].Highlights) == 0 {
			merged[i].Highlights = []string{highlight(merged[i].Memory.Content, keywords)}
		}
	}

	top := 0.0
	if len(merged) > 0 {
		top = merged[0].Similarity
	}
	class, guidance := classify(len(merged), top, cfg.General, limit)
	span.SetAttributes(attribute.Int("results", len(merged)), attribute.String("drilldown", string(class)))

	e.recordAccess(tenant, merged)

	return &Response{Results: merged, Drilldown: class, Guidance: guidance}, nil
}

// embedQuery races the gateway call against a timer. On timeout the
// in-flight request is abandoned, not cancelled: no signal reaches the
// gateway process and its eventual answer is discarded.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "search.embed")
	defer span.End()

	type result struct {
		vec []float32
		err error
	}
	ch := make(chan result, 1)
	detached := context.WithoutCancel(ctx)
	start := e.now()
	go func() {
		vec, err := e.gateway.Embed(detached, query)
		ch <- result{vec, err}
	}()

	timer := time.NewTimer(e.embedTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &store.EmbeddingError{Stage: "embed", Duration: time.Since(start), Err: r.err}
		}
		return r.vec, nil
	case <-timer.C:
		return nil, &store.EmbeddingError{Stage: "embed", Duration: time.Since(start), Err: store.ErrEmbeddingTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) vectorSearch(ctx context.Context, tenant string, vec []float32, filters store.SearchFilters, threshold float64, limit int) ([]store.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "search.vector")
	defer span.End()

	ctx, cancel := e.withSearchTimeout(ctx)
	defer cancel()
	start := e.now()
	results, err := e.memories.VectorSearch(ctx, tenant, vec, store.VectorQuery{
		Filters:   filters,
		Threshold: threshold,
		Limit:     limit * 2, // headroom for fusion and dedup
		NoiseTags: e.tuning().NoiseTags,
	})
	if err != nil {
		return nil, e.searchErr("vector", tenant, start, err)
	}
	for i := range results {
		results[i].Source = store.SourceSemantic
	}
	return results, nil
}

func (e *Engine) textSearch(ctx context.Context, tenant, query string, limit int) ([]store.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "search.fulltext")
	defer span.End()

	ctx, cancel := e.withSearchTimeout(ctx)
	defer cancel()
	start := e.now()
	results, err := e.memories.TextSearch(ctx, tenant, query, limit*2)
	if err != nil {
		return nil, e.searchErr("fulltext", tenant, start, err)
	}
	return results, nil
}

func (e *Engine) keywordSearch(ctx context.Context, tenant string, keywords []string, limit int) ([]store.SearchResult, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "search.keyword")
	defer span.End()

	ctx, cancel := e.withSearchTimeout(ctx)
	defer cancel()
	start := e.now()
	memories, err := e.memories.KeywordSearch(ctx, tenant, keywords, limit)
	if err != nil {
		return nil, e.searchErr("keyword", tenant, start, err)
	}
	results := make([]store.SearchResult, 0, len(memories))
	for _, m := range memories {
		results = append(results, store.SearchResult{
			Memory:     m,
			Similarity: e.tuning().KeywordScore,
			Highlights: []string{highlight(m.Content, keywords)},
			IsFallback: true,
			Source:     store.SourceKeyword,
		})
	}
	return results, nil
}

func (e *Engine) recentMemories(ctx context.Context, tenant string, n int) ([]store.SearchResult, error) {
	ctx, cancel := e.withSearchTimeout(ctx)
	defer cancel()
	start := e.now()
	memories, err := e.memories.RecentMemories(ctx, tenant, n)
	if err != nil {
		return nil, e.searchErr("recent", tenant, start, err)
	}
	results := make([]store.SearchResult, 0, len(memories))
	for _, m := range memories {
		results = append(results, store.SearchResult{
			Memory:     m,
			Similarity: e.tuning().RecentScore,
			IsFallback: true,
			Source:     store.SourceRecent,
		})
	}
	return results, nil
}

// fuse combines vector and full-text hits by id. A hit present on both
// sides scores similarity*vectorWeight + rank*textWeight; a hit on one
// side only contributes its own weighted score. When an entire channel is
// empty the weights collapse onto the other so scores stay comparable.
func (e *Engine) fuse(vec, text []store.SearchResult) []store.SearchResult {
	cfg := e.tuning()
	vecW, textW := cfg.VectorWeight, cfg.TextWeight
	if len(vec) == 0 && len(text) > 0 {
		vecW, textW = 0, 1.0
	} else if len(text) == 0 && len(vec) > 0 {
		vecW, textW = 1.0, 0
	}

	seen := make(map[uuid.UUID]*store.SearchResult)
	order := make([]uuid.UUID, 0, len(vec)+len(text))
	add := func(r store.SearchResult, weight float64) {
		if existing, ok := seen[r.Memory.ID]; ok {
			existing.Similarity += r.Similarity * weight
			return
		}
		r.Similarity *= weight
		r.Source = store.SourceSemantic
		seen[r.Memory.ID] = &r
		order = append(order, r.Memory.ID)
	}
	for _, r := range vec {
		add(r, vecW)
	}
	for _, r := range text {
		add(r, textW)
	}

	out := make([]store.SearchResult, 0, len(order))
	for _, id := range order {
		r := *seen[id]
		r.Similarity = clamp01(r.Similarity)
		out = append(out, r)
	}
	return out
}

// boostRecency multiplies similarity for young memories: x1.20 under an
// hour, x1.10 under a day, capped at 1.0. Synthetic scores are left alone.
func (e *Engine) boostRecency(results []store.SearchResult) {
	now := e.now()
	for i := range results {
		if results[i].IsFallback {
			continue
		}
		age := now.Sub(results[i].Memory.CreatedAt)
		switch {
		case age < time.Hour:
			results[i].Similarity = clamp01(results[i].Similarity * 1.20)
		case age < 24*time.Hour:
			results[i].Similarity = clamp01(results[i].Similarity * 1.10)
		}
	}
}

// needsFallback reports whether the semantic channel is too weak to stand
// alone: empty, or a top hit under the low-relevance floor.
func (e *Engine) needsFallback(semantic []store.SearchResult) bool {
	if len(semantic) == 0 {
		return true
	}
	return semantic[0].Similarity < e.tuning().LowRelevance
}

// merge folds the channels together in priority order (semantic > recent
// > keyword), dropping id duplicates. Content duplicates, detected by
// normalized prefix, keep the first-seen copy; later copies are scheduled
// for deletion after the grace delay so a caller can still drill into
// them first.
func (e *Engine) merge(tenant string, semantic, recent, fallback []store.SearchResult) []store.SearchResult {
	seenID := make(map[uuid.UUID]bool)
	seenContent := make(map[string]bool)
	prefixLen := e.tuning().DedupPrefix
	var out []store.SearchResult

	for _, channel := range [][]store.SearchResult{semantic, recent, fallback} {
		for _, r := range channel {
			if seenID[r.Memory.ID] {
				continue
			}
			seenID[r.Memory.ID] = true
			key := normalizeContent(r.Memory.Content, prefixLen)
			if key != "" && seenContent[key] {
				e.scheduleDuplicateDelete(tenant, r.Memory.ID)
				continue
			}
			seenContent[key] = true
			out = append(out, r)
		}
	}
	return out
}

// scheduleDuplicateDelete queues a delayed, best-effort deletion of a
// content duplicate. Failures are logged by the queue worker.
func (e *Engine) scheduleDuplicateDelete(tenant string, id uuid.UUID) {
	if e.queue == nil {
		return
	}
	slog.Debug("search.duplicate_scheduled", "tenant", tenant, "memory_id", id)
	e.queue.SubmitAfter(e.tuning().DedupGrace, "search.dedup_delete", func(ctx context.Context) error {
		err := e.memories.DeleteMemory(ctx, tenant, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
}

// recordAccess bumps access counters and records the access sequence for
// prediction. Pure bookkeeping: errors never reach the caller.
func (e *Engine) recordAccess(tenant string, results []store.SearchResult) {
	if len(results) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	if e.queue != nil {
		e.queue.TrySubmit("search.bump_access", func(ctx context.Context) error {
			return e.memories.BumpAccess(ctx, tenant, ids)
		})
	}
	if e.hotpaths != nil {
		e.hotpaths.RecordAccess(tenant, ids)
	}
}

func (e *Engine) withSearchTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.tuning().SearchTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *Engine) searchErr(op, tenant string, start time.Time, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = store.ErrSearchTimeout
	}
	return &store.SearchError{Op: op, Tenant: tenant, Duration: time.Since(start), Err: err}
}

func sortByScore(results []store.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
