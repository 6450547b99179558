package archidex

import (
	"sort"
	"sync"
	"time"
)

// PredictedQuery is one prefetch hint. Predictions are advisory: the caller
// decides whether and when to execute them, and they stop being worth
// executing after ExpiresAt.
type PredictedQuery struct {
	Key       string
	Request   QueryRequest
	Priority  float64
	ExpiresAt time.Time
}

// Valid reports whether the prediction is still worth executing at now.
func (p PredictedQuery) Valid(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

type queryPattern struct {
	frequency int64
	lastUsed  time.Time
	request   QueryRequest
}

// PrefetchPredictor observes executed queries and suggests what to load next:
// the adjacent result pages, the flipped sort order and the facet values that
// keep showing up. It holds no references into the engine and never blocks.
type PrefetchPredictor struct {
	mu          sync.RWMutex
	patterns    map[string]*queryPattern
	facetCounts map[string]map[string]int64
	totalSeen   int64

	maxPatterns int
	maxQueue    int
	window      time.Duration
	now         func() time.Time
}

// PredictorOption configures a PrefetchPredictor.
type PredictorOption func(*PrefetchPredictor)

// PredictorWithQueueSize caps how many predictions PredictNext returns.
func PredictorWithQueueSize(n int) PredictorOption {
	return func(p *PrefetchPredictor) {
		if n > 0 {
			p.maxQueue = n
		}
	}
}

// PredictorWithWindow sets how long a prediction stays valid.
func PredictorWithWindow(d time.Duration) PredictorOption {
	return func(p *PrefetchPredictor) {
		if d > 0 {
			p.window = d
		}
	}
}

// PredictorWithClock injects the time source.
func PredictorWithClock(now func() time.Time) PredictorOption {
	return func(p *PrefetchPredictor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPrefetchPredictor returns a predictor with a bounded pattern table.
func NewPrefetchPredictor(opts ...PredictorOption) *PrefetchPredictor {
	p := &PrefetchPredictor{
		patterns:    make(map[string]*queryPattern),
		facetCounts: make(map[string]map[string]int64),
		maxPatterns: 512,
		maxQueue:    8,
		window:      30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RecordQuery folds one executed query into the usage patterns.
func (p *PrefetchPredictor) RecordQuery(req QueryRequest) {
	req = normalizeRequest(req)
	key := req.Checksum()
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	pat, ok := p.patterns[key]
	if !ok {
		if len(p.patterns) >= p.maxPatterns {
			p.evictOldestLocked()
		}
		pat = &queryPattern{request: req}
		p.patterns[key] = pat
	}
	pat.frequency++
	pat.lastUsed = now
	p.totalSeen++

	for field, value := range req.Filters {
		counts := p.facetCounts[field]
		if counts == nil {
			counts = make(map[string]int64)
			p.facetCounts[field] = counts
		}
		counts[value]++
	}
}

func (p *PrefetchPredictor) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, pat := range p.patterns {
		if first || pat.lastUsed.Before(oldest) {
			oldestKey, oldest = key, pat.lastUsed
			first = false
		}
	}
	if !first {
		delete(p.patterns, oldestKey)
	}
}

// PredictNext returns the prefetch candidates for the query that just ran,
// highest priority first, capped at the queue size.
func (p *PrefetchPredictor) PredictNext(current QueryRequest) []PredictedQuery {
	current = normalizeRequest(current)
	now := p.now()
	expires := now.Add(p.window)
	currentKey := current.Checksum()

	var out []PredictedQuery
	add := func(req QueryRequest, priority float64) {
		req = normalizeRequest(req)
		key := req.Checksum()
		if key == currentKey {
			return
		}
		for _, existing := range out {
			if existing.Key == key {
				return
			}
		}
		if priority < 0 {
			priority = 0
		}
		if priority > 1 {
			priority = 1
		}
		out = append(out, PredictedQuery{
			Key:       key,
			Request:   req,
			Priority:  priority,
			ExpiresAt: expires,
		})
	}

	next := current
	next.Page = current.Page + 1
	add(next, 0.9)

	if current.Page > 1 {
		prev := current
		prev.Page = current.Page - 1
		add(prev, 0.5)
	}

	if current.SortField != "" {
		flipped := current
		if current.SortOrder == "desc" {
			flipped.SortOrder = "asc"
		} else {
			flipped.SortOrder = "desc"
		}
		flipped.Page = 1
		add(flipped, 0.3)
	}

	p.mu.RLock()
	seen := p.totalSeen
	if seen < 1 {
		seen = 1
	}
	for field, counts := range p.facetCounts {
		value, uses := topCount(counts)
		if value == "" || current.Filters[field] == value {
			continue
		}
		share := float64(uses) / float64(seen)
		req := current
		req.Filters = cloneFilters(current.Filters)
		req.Filters[field] = value
		req.Page = 1
		add(req, 0.2+0.6*share)
	}
	p.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if len(out) > p.maxQueue {
		out = out[:p.maxQueue]
	}
	return out
}

// PopularQueries returns the most frequently observed requests, for warm-up.
func (p *PrefetchPredictor) PopularQueries(max int) []QueryRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	type entry struct {
		req  QueryRequest
		freq int64
	}
	all := make([]entry, 0, len(p.patterns))
	for _, pat := range p.patterns {
		all = append(all, entry{req: pat.request, freq: pat.frequency})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].freq > all[j].freq })
	if max > 0 && len(all) > max {
		all = all[:max]
	}
	out := make([]QueryRequest, len(all))
	for i, e := range all {
		out[i] = e.req
	}
	return out
}

func topCount(counts map[string]int64) (string, int64) {
	var bestValue string
	var best int64
	for value, n := range counts {
		if n > best || (n == best && value < bestValue) {
			bestValue, best = value, n
		}
	}
	return bestValue, best
}

func cloneFilters(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
