package archidex

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Engine wires the page store, index, query engine, caches and predictor
// into the façade callers use.
type Engine struct {
	cfg       Config
	logger    *Logger
	fetcher   Fetcher
	pages     *PageStore
	index     *Index
	queries   *QueryEngine
	results   *Cache[*QueryResult]
	records   *Cache[*Record]
	predictor *PrefetchPredictor

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// EngineWithLogger sets the logger shared by every component.
func EngineWithLogger(l *Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// EngineWithFetcher overrides the artifact source built from the config.
func EngineWithFetcher(f Fetcher) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.fetcher = f
		}
	}
}

// NewEngine builds an engine from cfg.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		logger: NewLogger(nil),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.fetcher == nil {
		switch {
		case cfg.Source.DataDir != "":
			e.fetcher = NewFSFetcher(cfg.Source.DataDir)
		case cfg.Source.BaseURL != "":
			e.fetcher = NewHTTPFetcher(cfg.Source.BaseURL, cfg.Source.HTTPTimeout.D())
		default:
			return nil, fmt.Errorf("config names neither a base URL nor a data dir")
		}
	}

	var durable DurableTier
	if cfg.Cache.DurablePath != "" {
		durable = NewSQLiteTier(cfg.Cache.DurablePath)
	}
	e.results = NewCache[*QueryResult](
		CacheWithMaxItems[*QueryResult](cfg.Cache.MaxItems),
		CacheWithMaxBytes[*QueryResult](cfg.Cache.MaxBytes),
		CacheWithTTL[*QueryResult](cfg.Cache.ResultTTL.D()),
		CacheWithSweepInterval[*QueryResult](cfg.Cache.SweepInterval.D()),
		CacheWithDurable[*QueryResult](durable),
		CacheWithLogger[*QueryResult](e.logger),
	)
	e.records = NewCache[*Record](
		CacheWithMaxItems[*Record](cfg.Cache.MaxItems),
		CacheWithTTL[*Record](cfg.Cache.RecordTTL.D()),
		CacheWithSweepInterval[*Record](cfg.Cache.SweepInterval.D()),
		CacheWithLogger[*Record](e.logger),
	)

	e.pages = NewPageStore(e.fetcher, e.logger)
	var idxOpts []IndexOption
	if cfg.Index.CompressedPostings {
		idxOpts = append(idxOpts, IndexWithCompressedPostings())
	}
	e.index = NewIndex(idxOpts...)
	e.queries = NewQueryEngine(e.pages, e.index, e.results,
		QueryEngineWithMaxPageLoads(cfg.Query.MaxPageLoads),
		QueryEngineWithParallelism(cfg.Query.Parallelism),
		QueryEngineWithResultTTL(cfg.Cache.ResultTTL.D()),
		QueryEngineWithLogger(e.logger),
	)
	e.predictor = NewPrefetchPredictor(
		PredictorWithQueueSize(cfg.Prefetch.QueueSize),
		PredictorWithWindow(cfg.Prefetch.Window.D()),
	)
	return e, nil
}

// Search runs a query and, when prefetch is enabled, warms the caches for
// the queries likely to follow. It never returns an error; degraded inputs
// come back as empty results.
func (e *Engine) Search(ctx context.Context, query string, filterValues map[string]string, page, limit int) *QueryResult {
	req := QueryRequest{
		Query:   query,
		Filters: filterValues,
		Page:    page,
		Size:    limit,
	}
	return e.Query(ctx, req)
}

// Query is Search with full control over sorting.
func (e *Engine) Query(ctx context.Context, req QueryRequest) *QueryResult {
	res := e.queries.Query(ctx, req)
	e.predictor.RecordQuery(req)
	if e.cfg.Prefetch.Enabled {
		e.Prefetch(req)
	}
	return res
}

// Get returns one record by id, nil when it cannot be located.
func (e *Engine) Get(ctx context.Context, id int64) *Record {
	key := fmt.Sprintf("rec:%d", id)
	if r, ok := e.records.Get(key); ok {
		return r
	}
	r := e.pages.GetByID(ctx, id)
	if r != nil {
		e.records.Set(key, r, e.cfg.Cache.RecordTTL.D())
	}
	return r
}

// Suggest returns token completions for a facet prefix.
func (e *Engine) Suggest(ctx context.Context, facet, prefix string, max int) []Suggestion {
	e.index.LoadArtifact(ctx, e.fetcher, e.logger)
	return e.index.Suggest(facet, prefix, max)
}

// Prefetch executes the predictions for req in the background, bounded by
// the prediction window. Fire and forget; results land in the caches.
func (e *Engine) Prefetch(req QueryRequest) {
	preds := e.predictor.PredictNext(req)
	if len(preds) == 0 {
		return
	}
	select {
	case <-e.closed:
		return
	default:
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Prefetch.Window.D())
		defer cancel()
		for _, p := range preds {
			select {
			case <-e.closed:
				return
			case <-ctx.Done():
				return
			default:
			}
			if !p.Valid(time.Now()) {
				continue
			}
			e.queries.Query(ctx, p.Request)
		}
	}()
}

// Metadata exposes the dataset summary.
func (e *Engine) Metadata(ctx context.Context) *Metadata {
	return e.pages.Metadata(ctx)
}

// Stats reports cache effectiveness for both caches.
func (e *Engine) Stats() (results, records CacheStats) {
	return e.results.Stats(), e.records.Stats()
}

// Close stops background work and releases the durable tier.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	e.wg.Wait()
	err := e.results.Close()
	if cerr := e.records.Close(); err == nil {
		err = cerr
	}
	return err
}
