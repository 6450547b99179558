package archidex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oarkflow/filters"
	"golang.org/x/sync/errgroup"

	"github.com/archimap/archidex/utils"
)

// QueryRequest describes one search over the dataset.
type QueryRequest struct {
	Query     string            `json:"query"`
	Filters   map[string]string `json:"filters"`
	SortField string            `json:"sort_field"`
	SortOrder string            `json:"sort_order"`
	Page      int               `json:"page"`
	Size      int               `json:"size"`
}

// Checksum returns a canonical cache key for the request. Filter order does
// not change the key.
func (r QueryRequest) Checksum() string {
	var sb strings.Builder
	sb.WriteString(utils.LowerCase(strings.TrimSpace(r.Query)))
	sb.WriteByte('|')
	keys := make([]string, 0, len(r.Filters))
	for k := range r.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(utils.LowerCase(strings.TrimSpace(r.Filters[k])))
		sb.WriteByte('&')
	}
	sb.WriteByte('|')
	sb.WriteString(r.SortField)
	sb.WriteByte(':')
	sb.WriteString(r.SortOrder)
	fmt.Fprintf(&sb, "|p%d|s%d", r.Page, r.Size)
	return fmt.Sprintf("q:%016x", xxhash.Sum64String(sb.String()))
}

// QueryResult is the paginated answer to a QueryRequest.
type QueryResult struct {
	Results    []*Record `json:"results"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
	HasMore    bool      `json:"has_more"`
}

// filterFacets maps request filter keys onto index facets. Keys outside this
// map are applied as residual rules against the materialized records.
var filterFacets = map[string]string{
	"architect": FacetArchitects,
	"year":      FacetYears,
	"category":  FacetCategories,
	"title":     FacetTitles,
	"address":   FacetAddresses,
}

// QueryEngine executes filtered, sorted, paginated queries by combining the
// inverted index with on-demand page loads. Queries never fail: degraded
// inputs produce empty results.
type QueryEngine struct {
	pages  *PageStore
	index  *Index
	cache  *Cache[*QueryResult]
	logger *Logger

	// maxPageLoads caps the artifact pages one query may pull in.
	maxPageLoads int
	// loadParallelism bounds concurrent page loads per query.
	loadParallelism int
	resultTTL       time.Duration

	mu    sync.RWMutex
	ready bool
}

// QueryEngineOption configures a QueryEngine.
type QueryEngineOption func(*QueryEngine)

// QueryEngineWithMaxPageLoads caps per-query page loads.
func QueryEngineWithMaxPageLoads(n int) QueryEngineOption {
	return func(e *QueryEngine) {
		if n > 0 {
			e.maxPageLoads = n
		}
	}
}

// QueryEngineWithParallelism bounds concurrent page loads per query.
func QueryEngineWithParallelism(n int) QueryEngineOption {
	return func(e *QueryEngine) {
		if n > 0 {
			e.loadParallelism = n
		}
	}
}

// QueryEngineWithResultTTL sets how long results stay cached.
func QueryEngineWithResultTTL(ttl time.Duration) QueryEngineOption {
	return func(e *QueryEngine) {
		if ttl > 0 {
			e.resultTTL = ttl
		}
	}
}

// QueryEngineWithLogger sets the logger.
func QueryEngineWithLogger(l *Logger) QueryEngineOption {
	return func(e *QueryEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewQueryEngine wires the engine over its page store, index and result cache.
func NewQueryEngine(pages *PageStore, index *Index, cache *Cache[*QueryResult], opts ...QueryEngineOption) *QueryEngine {
	e := &QueryEngine{
		pages:           pages,
		index:           index,
		cache:           cache,
		logger:          NoopLogger(),
		maxPageLoads:    32,
		loadParallelism: 8,
		resultTTL:       2 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func normalizeRequest(req QueryRequest) QueryRequest {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Size <= 0 {
		req.Size = 20
	}
	if req.Size > 100 {
		req.Size = 100
	}
	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		if req.SortField == "" {
			req.SortOrder = ""
		} else {
			req.SortOrder = "asc"
		}
	}
	return req
}

// Query runs the request. The result is cached under the request checksum.
func (e *QueryEngine) Query(ctx context.Context, req QueryRequest) *QueryResult {
	req = normalizeRequest(req)
	key := req.Checksum()
	if e.cache != nil {
		if res, ok := e.cache.Get(key); ok {
			e.logger.LogQuery(ctx, key, res.Total, true)
			return res
		}
	}

	var res *QueryResult
	if strings.TrimSpace(req.Query) == "" && len(req.Filters) == 0 && req.SortField == "" {
		res = e.browse(ctx, req)
	} else {
		res = e.search(ctx, req)
	}

	if e.cache != nil {
		e.cache.Set(key, res, e.resultTTL)
	}
	e.logger.LogQuery(ctx, key, res.Total, false)
	return res
}

// browse is the unfiltered fast path: it maps the requested window straight
// onto artifact pages without touching the index.
func (e *QueryEngine) browse(ctx context.Context, req QueryRequest) *QueryResult {
	meta := e.pages.Metadata(ctx)
	total := meta.TotalItems
	ipp := meta.ItemsPerPage
	if ipp <= 0 {
		ipp = defaultItemsPerPage
	}

	offset := (req.Page - 1) * req.Size
	if total > 0 && offset >= total {
		return paginateEmpty(req, total)
	}

	first := offset/ipp + 1
	last := (offset+req.Size-1)/ipp + 1
	if last-first+1 > e.maxPageLoads {
		last = first + e.maxPageLoads - 1
	}
	pages := e.loadPages(ctx, rangePages(first, last))

	// Select by each record's global offset so a degraded page leaves a gap
	// instead of shifting later pages into its window.
	var window []*Record
	for n := first; n <= last; n++ {
		p, ok := pages[n]
		if !ok {
			continue
		}
		base := (n - 1) * ipp
		for i, r := range p.Items {
			g := base + i
			if g < offset {
				continue
			}
			if g >= offset+req.Size {
				break
			}
			window = append(window, r)
		}
	}
	if total == 0 {
		// Metadata was unavailable; fall back to what the pages said.
		for _, p := range pages {
			if p.TotalItems > 0 {
				total = p.TotalItems
				break
			}
		}
	}
	return paginate(window, total, req)
}

// search runs the index-backed path.
func (e *QueryEngine) search(ctx context.Context, req QueryRequest) *QueryResult {
	e.ensureIndexed(ctx)

	candidates, constrained := e.matchIDs(req)
	if constrained && len(candidates) == 0 {
		return paginateEmpty(req, 0)
	}

	var records []*Record
	if constrained {
		records = e.materialize(ctx, candidates)
	} else {
		// Sort-only request over the whole dataset; bounded scan from the
		// front of the dataset.
		records = e.scanAll(ctx)
	}

	if rule := residualRule(req.Filters); rule != nil {
		kept := records[:0]
		for _, r := range records {
			if rule.Match(r.AsMap()) {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	sortRecords(records, req.SortField, req.SortOrder)
	total := len(records)
	offset := (req.Page - 1) * req.Size
	if offset >= total {
		return paginateEmpty(req, total)
	}
	end := offset + req.Size
	if end > total {
		end = total
	}
	return paginate(records[offset:end], total, req)
}

// matchIDs resolves the indexed part of the request. constrained is false
// when neither the free-text query nor any filter used the index.
func (e *QueryEngine) matchIDs(req QueryRequest) (ids []int64, constrained bool) {
	var preds []Predicate
	for field, value := range req.Filters {
		if facet, ok := filterFacets[field]; ok {
			preds = append(preds, Predicate{Facet: facet, Token: value})
		}
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].Facet < preds[j].Facet })

	var acc []int64
	if len(preds) > 0 {
		constrained = true
		acc = e.index.Intersect(preds)
		if len(acc) == 0 {
			return nil, true
		}
	}

	// Free-text tokens look up the prefix keys the artifact builder emits;
	// full tokens would miss the stored keys on every query longer than the
	// key width.
	for _, token := range utils.Tokenize(req.Query) {
		constrained = true
		matched := utils.UnionSorted(
			e.index.Lookup(FacetTitles, utils.RunePrefix(token, titleKeyLen)),
			e.index.Lookup(FacetAddresses, utils.RunePrefix(token, addressKeyLen)),
		)
		if len(matched) == 0 {
			return nil, true
		}
		if acc == nil {
			acc = matched
			continue
		}
		acc = utils.IntersectSorted(acc, matched)
		if len(acc) == 0 {
			return nil, true
		}
	}
	return acc, constrained
}

// materialize turns candidate ids into records, loading the estimated pages
// of non-resident ids in bounded parallel batches.
func (e *QueryEngine) materialize(ctx context.Context, ids []int64) []*Record {
	ipp := e.pages.itemsPerPage(ctx)

	needed := make(map[int]struct{})
	for _, id := range ids {
		if _, ok := e.pages.Record(id); ok {
			continue
		}
		n := int((id + int64(ipp) - 1) / int64(ipp))
		if n < 1 {
			n = 1
		}
		needed[n] = struct{}{}
	}
	if len(needed) > 0 {
		pageNums := make([]int, 0, len(needed))
		for n := range needed {
			pageNums = append(pageNums, n)
		}
		sort.Ints(pageNums)
		if len(pageNums) > e.maxPageLoads {
			pageNums = pageNums[:e.maxPageLoads]
		}
		e.loadPages(ctx, pageNums)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := e.pages.Record(id); ok {
			records = append(records, r)
		}
	}
	return records
}

// scanAll loads dataset pages from the front, bounded by maxPageLoads, and
// returns every resident record.
func (e *QueryEngine) scanAll(ctx context.Context) []*Record {
	meta := e.pages.Metadata(ctx)
	last := meta.TotalPages
	if last < 1 || last > e.maxPageLoads {
		last = e.maxPageLoads
	}
	e.loadPages(ctx, rangePages(1, last))
	return e.pages.ResidentRecords()
}

func (e *QueryEngine) loadPages(ctx context.Context, nums []int) map[int]*Page {
	var mu sync.Mutex
	out := make(map[int]*Page, len(nums))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.loadParallelism)
	for _, n := range nums {
		g.Go(func() error {
			p := e.pages.LoadPage(gctx, n)
			mu.Lock()
			out[n] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ensureIndexed makes sure the index can answer: load the artifact once, and
// if that keeps failing, index whatever pages are resident.
func (e *QueryEngine) ensureIndexed(ctx context.Context) {
	e.mu.RLock()
	ready := e.ready
	e.mu.RUnlock()
	if ready {
		return
	}
	if e.index.LoadArtifact(ctx, e.pages.fetcher, e.logger) {
		e.mu.Lock()
		e.ready = true
		e.mu.Unlock()
		return
	}
	for _, r := range e.pages.ResidentRecords() {
		e.index.IndexRecord(r)
	}
}

// residualRule builds the rule for filter keys the index does not cover.
func residualRule(reqFilters map[string]string) *filters.Rule {
	var conds []filters.Condition
	for field, value := range reqFilters {
		if _, indexed := filterFacets[field]; indexed {
			continue
		}
		conds = append(conds, &filters.Filter{
			Field:    field,
			Operator: filters.Equal,
			Value:    value,
		})
	}
	if len(conds) == 0 {
		return nil
	}
	rule := filters.NewRule()
	rule.AddCondition(filters.Boolean("AND"), false, conds...)
	return rule
}

// sortRecords orders records by the requested field. Without a field the
// default order is year descending with title ascending as tiebreak.
func sortRecords(records []*Record, field, order string) {
	if field == "" {
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Year != records[j].Year {
				return records[i].Year > records[j].Year
			}
			return utils.Compare(records[i].SortValue("title"), records[j].SortValue("title")) < 0
		})
		return
	}
	desc := order == "desc"
	sort.SliceStable(records, func(i, j int) bool {
		cmp := utils.Compare(records[i].SortValue(field), records[j].SortValue(field))
		if cmp == 0 {
			return records[i].ID < records[j].ID
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func paginate(slice []*Record, total int, req QueryRequest) *QueryResult {
	totalPages := 0
	if total > 0 {
		totalPages = (total + req.Size - 1) / req.Size
	}
	if slice == nil {
		slice = []*Record{}
	}
	return &QueryResult{
		Results:    slice,
		Total:      total,
		Page:       req.Page,
		TotalPages: totalPages,
		HasMore:    req.Page < totalPages,
	}
}

func paginateEmpty(req QueryRequest, total int) *QueryResult {
	return paginate([]*Record{}, total, req)
}

func rangePages(first, last int) []int {
	if first < 1 {
		first = 1
	}
	if last < first {
		return nil
	}
	out := make([]int, 0, last-first+1)
	for n := first; n <= last; n++ {
		out = append(out, n)
	}
	return out
}
