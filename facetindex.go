package archidex

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/archimap/archidex/trie"
	"github.com/archimap/archidex/utils"
)

// Predicate selects the records whose facet value matches token.
type Predicate struct {
	Facet string
	Token string
}

// Index is the facet inverted index: per facet, token -> ascending ids.
// It is built once from the prebuilt artifact, or incrementally from loaded
// pages when the artifact is unavailable.
type Index struct {
	analyzer Analyzer
	facets   []string

	mu     sync.RWMutex
	stores map[string]PostingStore
	tokens map[string]*trie.Trie
	ready  bool

	compressed bool
	group      singleflight.Group
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// IndexWithAnalyzer overrides the default facet analyzer.
func IndexWithAnalyzer(a Analyzer) IndexOption {
	return func(idx *Index) {
		if a != nil {
			idx.analyzer = a
		}
	}
}

// IndexWithFacets overrides the facet set.
func IndexWithFacets(facets ...string) IndexOption {
	return func(idx *Index) {
		if len(facets) > 0 {
			idx.facets = facets
		}
	}
}

// IndexWithCompressedPostings stores posting lists delta-encoded.
func IndexWithCompressedPostings() IndexOption {
	return func(idx *Index) {
		idx.compressed = true
	}
}

// NewIndex returns an empty Index covering the default facets.
func NewIndex(opts ...IndexOption) *Index {
	idx := &Index{
		analyzer: defaultAnalyzer,
		facets:   defaultFacets,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.stores = make(map[string]PostingStore, len(idx.facets))
	idx.tokens = make(map[string]*trie.Trie, len(idx.facets))
	for _, f := range idx.facets {
		idx.stores[f] = newPostingStore(idx.compressed)
		idx.tokens[f] = trie.New()
	}
	return idx
}

// Ready reports whether the prebuilt artifact has been loaded.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// LoadArtifact fetches and installs the prebuilt index artifact. Concurrent
// callers share one fetch; once loaded it is never fetched again. A failed
// load leaves the index usable (incremental build still works) and is
// retried on the next call.
func (idx *Index) LoadArtifact(ctx context.Context, fetcher Fetcher, logger *Logger) bool {
	if idx.Ready() {
		return true
	}
	if logger == nil {
		logger = NoopLogger()
	}
	v, _, _ := idx.group.Do(indexArtifact, func() (any, error) {
		data, err := fetcher.Fetch(ctx, indexArtifact)
		if err != nil {
			logger.LogFetchDegraded(ctx, indexArtifact, err)
			return false, nil
		}
		artifact, err := decodeIndexArtifact(data)
		if err != nil {
			logger.LogFetchDegraded(ctx, indexArtifact, err)
			return false, nil
		}
		idx.install(artifact)
		return true, nil
	})
	return v.(bool)
}

func (idx *Index) install(artifact IndexArtifact) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.ready {
		return
	}
	for facet, terms := range artifact {
		store, ok := idx.stores[facet]
		if !ok {
			store = newPostingStore(idx.compressed)
			idx.stores[facet] = store
			idx.tokens[facet] = trie.New()
			idx.facets = append(idx.facets, facet)
		}
		tokens := idx.tokens[facet]
		for term, ids := range terms {
			store.Replace(term, ids)
			tokens.Insert(term, nil)
		}
	}
	idx.ready = true
}

// IndexRecord adds one record to every facet. Used by the incremental build
// path; idempotent because posting lists reject duplicate ids.
func (idx *Index) IndexRecord(r *Record) {
	if r == nil {
		return
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, facet := range idx.facets {
		value := facetSource(facet, r)
		if value == nil {
			continue
		}
		for _, token := range idx.analyzer.Analyze(facet, value) {
			idx.stores[facet].Add(token, r.ID)
			idx.tokens[facet].Insert(token, nil)
		}
	}
}

// IndexPage adds every record of a loaded page.
func (idx *Index) IndexPage(p *Page) {
	if p == nil {
		return
	}
	for _, r := range p.Items {
		idx.IndexRecord(r)
	}
}

// Lookup returns the ids whose facet value matches token. The token is
// normalized first; an exact miss falls back to substring matching in both
// directions and unions the matching lists.
func (idx *Index) Lookup(facet, token string) []int64 {
	store := idx.store(facet)
	if store == nil {
		return nil
	}
	norm := normalizeQueryToken(idx.analyzer, token)
	if norm == "" {
		return nil
	}
	if ids := store.Get(norm); len(ids) > 0 {
		return ids
	}
	var result []int64
	store.Range(func(term string, ids []int64) bool {
		if strings.Contains(term, norm) || strings.Contains(norm, term) {
			result = utils.UnionSorted(result, ids)
		}
		return true
	})
	return result
}

// Intersect resolves every predicate and folds the lists left to right.
// Any predicate with zero matches short-circuits to nil. The caller decides
// what an empty predicate list means; here it yields nil.
func (idx *Index) Intersect(preds []Predicate) []int64 {
	if len(preds) == 0 {
		return nil
	}
	var acc []int64
	for i, p := range preds {
		ids := idx.Lookup(p.Facet, p.Token)
		if len(ids) == 0 {
			return nil
		}
		if i == 0 {
			acc = ids
			continue
		}
		acc = utils.IntersectSorted(acc, ids)
		if len(acc) == 0 {
			return nil
		}
	}
	return acc
}

// Suggestion is one token completion with its posting frequency.
type Suggestion struct {
	Token string
	Count int
}

// Suggest returns up to max token completions for prefix within facet,
// most frequent first.
func (idx *Index) Suggest(facet, prefix string, max int) []Suggestion {
	store := idx.store(facet)
	tokens := idx.tokenTrie(facet)
	if store == nil || tokens == nil || max <= 0 {
		return nil
	}
	norm := normalizeQueryToken(idx.analyzer, prefix)
	var out []Suggestion
	tokens.WalkPrefix(norm, func(key string, _ any) bool {
		if n := len(store.Get(key)); n > 0 {
			out = append(out, Suggestion{Token: key, Count: n})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Token < out[j].Token
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// TokenCount returns the number of distinct tokens indexed for facet.
func (idx *Index) TokenCount(facet string) int {
	store := idx.store(facet)
	if store == nil {
		return 0
	}
	return store.Len()
}

func (idx *Index) store(facet string) PostingStore {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.stores[facet]
}

func (idx *Index) tokenTrie(facet string) *trie.Trie {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tokens[facet]
}

func normalizeQueryToken(a Analyzer, token string) string {
	if fa, ok := a.(*FacetAnalyzer); ok {
		return fa.NormalizeToken(token)
	}
	return utils.LowerCase(strings.TrimSpace(token))
}
