package archidex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

const defaultItemsPerPage = 50

const (
	metadataArtifact = "metadata.json"
	indexArtifact    = "search_index.json"
)

func pageArtifact(n int) string {
	return fmt.Sprintf("page_%d.json", n)
}

// PageStore loads dataset pages on demand and memoizes them for the lifetime
// of the process. Loads never fail from the caller's point of view: a page
// that cannot be fetched or decoded comes back as a well-formed empty page.
type PageStore struct {
	fetcher Fetcher
	logger  *Logger

	group singleflight.Group

	mu      sync.RWMutex
	pages   map[int]*Page
	records map[int64]*Record
	meta    *Metadata

	// maxLookupLoads bounds the page loads a single GetByID may trigger.
	maxLookupLoads int
}

// NewPageStore builds a PageStore over fetcher. A nil logger disables logging.
func NewPageStore(fetcher Fetcher, logger *Logger) *PageStore {
	if logger == nil {
		logger = NoopLogger()
	}
	return &PageStore{
		fetcher:        fetcher,
		logger:         logger,
		pages:          make(map[int]*Page),
		records:        make(map[int64]*Record),
		maxLookupLoads: 5,
	}
}

// LoadPage returns page n, fetching it at most once. Concurrent callers for
// the same page share a single fetch and observe the same *Page.
func (s *PageStore) LoadPage(ctx context.Context, n int) *Page {
	if n < 1 {
		return emptyPage(n)
	}
	s.mu.RLock()
	if p, ok := s.pages[n]; ok {
		s.mu.RUnlock()
		return p
	}
	s.mu.RUnlock()

	v, _, _ := s.group.Do(pageArtifact(n), func() (any, error) {
		// Settled flights drop out of the group so a transient failure can
		// be retried by a later call.
		return s.loadPage(ctx, n), nil
	})
	return v.(*Page)
}

func (s *PageStore) loadPage(ctx context.Context, n int) *Page {
	name := pageArtifact(n)
	data, err := s.fetcher.Fetch(ctx, name)
	if err != nil {
		s.logger.LogFetchDegraded(ctx, name, err)
		p := emptyPage(n)
		if errors.Is(err, ErrArtifactNotFound) {
			p = s.memoize(n, p)
		}
		return p
	}
	p, err := decodePage(data, n)
	if err != nil {
		s.logger.LogFetchDegraded(ctx, name, err)
		return emptyPage(n)
	}
	return s.memoize(n, p)
}

// memoize stores p as the canonical copy of page n. If a racing flight stored
// the page first, the earlier copy wins so every caller sees one identity.
func (s *PageStore) memoize(n int, p *Page) *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.pages[n]; ok {
		return prev
	}
	s.pages[n] = p
	for _, r := range p.Items {
		s.records[r.ID] = r
	}
	return p
}

// Cached reports whether page n is resident, without triggering a load.
func (s *PageStore) Cached(n int) (*Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[n]
	return p, ok
}

// Record returns a resident record by id without triggering a load.
func (s *PageStore) Record(id int64) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// GetByID returns the record with the given id, loading its estimated page
// and up to two neighbors on each side when the estimate misses. Returns nil
// when the record cannot be located.
func (s *PageStore) GetByID(ctx context.Context, id int64) *Record {
	if id < 1 {
		return nil
	}
	if r, ok := s.Record(id); ok {
		return r
	}

	ipp := s.itemsPerPage(ctx)
	est := int((id + int64(ipp) - 1) / int64(ipp))
	loads := 0
	for _, offset := range []int{0, -1, 1, -2, 2} {
		n := est + offset
		if n < 1 || loads >= s.maxLookupLoads {
			continue
		}
		loads++
		s.LoadPage(ctx, n)
		if r, ok := s.Record(id); ok {
			return r
		}
	}
	return nil
}

// Metadata returns the dataset summary, fetching it at most once.
// Failures degrade to an empty summary and are retried on the next call.
func (s *PageStore) Metadata(ctx context.Context) *Metadata {
	s.mu.RLock()
	if m := s.meta; m != nil {
		s.mu.RUnlock()
		return m
	}
	s.mu.RUnlock()

	v, _, _ := s.group.Do(metadataArtifact, func() (any, error) {
		data, err := s.fetcher.Fetch(ctx, metadataArtifact)
		if err != nil {
			s.logger.LogFetchDegraded(ctx, metadataArtifact, err)
			return &Metadata{}, nil
		}
		m, err := decodeMetadata(data)
		if err != nil {
			s.logger.LogFetchDegraded(ctx, metadataArtifact, err)
			return &Metadata{}, nil
		}
		s.mu.Lock()
		s.meta = m
		s.mu.Unlock()
		return m, nil
	})
	return v.(*Metadata)
}

func (s *PageStore) itemsPerPage(ctx context.Context) int {
	if m := s.Metadata(ctx); m.ItemsPerPage > 0 {
		return m.ItemsPerPage
	}
	return defaultItemsPerPage
}

// ResidentRecords snapshots every record loaded so far.
func (s *PageStore) ResidentRecords() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}
