package archidex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixtureEngine(t *testing.T, f *fakeFetcher, prefetch bool) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Prefetch.Enabled = prefetch
	cfg.Cache.SweepInterval = 0
	engine, err := NewEngine(cfg,
		EngineWithFetcher(f),
		EngineWithLogger(NoopLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Close()
	})
	return engine
}

func TestNewEngineRequiresSource(t *testing.T) {
	_, err := NewEngine(DefaultConfig())
	assert.Error(t, err)
}

func TestEngineSearch(t *testing.T) {
	engine := newFixtureEngine(t, fixtureFetcher(), false)

	res := engine.Search(context.Background(), "museum",
		map[string]string{"year": "1970"}, 1, 20)

	require.NotNil(t, res)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 1, res.TotalPages)
	assert.False(t, res.HasMore)
	assert.Equal(t, "Tokyo Museum of Modern Art", res.Results[0].Title)
}

func TestEngineSearchJapanese(t *testing.T) {
	engine := newFixtureEngine(t, fixtureFetcher(), false)

	res := engine.Search(context.Background(), "京都市美術館", nil, 1, 20)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "京都市美術館", res.Results[0].Title)

	res = engine.Search(context.Background(), "", map[string]string{"category": "タワー"}, 1, 20)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "Osaka Expo Tower", res.Results[0].Title)
}

func TestEngineSearchAbsentFiltersMeanNoConstraint(t *testing.T) {
	engine := newFixtureEngine(t, fixtureFetcher(), false)

	res := engine.Search(context.Background(), "", nil, 1, 10)
	assert.Equal(t, 6, res.Total)
	assert.Len(t, res.Results, 6)
}

func TestEngineGetCachesRecords(t *testing.T) {
	f := fixtureFetcher()
	engine := newFixtureEngine(t, f, false)

	r := engine.Get(context.Background(), 5)
	require.NotNil(t, r)
	assert.Equal(t, "Nakagin Capsule Tower", r.Title)

	again := engine.Get(context.Background(), 5)
	assert.Same(t, r, again)

	assert.Nil(t, engine.Get(context.Background(), 999))
}

func TestEngineSuggest(t *testing.T) {
	engine := newFixtureEngine(t, fixtureFetcher(), false)

	got := engine.Suggest(context.Background(), FacetCategories, "mu", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "museum", got[0].Token)
	assert.Equal(t, 3, got[0].Count)
}

func TestEnginePrefetchWarmsAdjacentPage(t *testing.T) {
	engine := newFixtureEngine(t, fixtureFetcher(), true)

	req := QueryRequest{Filters: map[string]string{"category": "museum"}, Page: 1, Size: 2}
	engine.Query(context.Background(), req)

	// The page-2 prediction lands in the result cache shortly after.
	next := req
	next.Page = 2
	key := normalizeRequest(next).Checksum()
	assert.Eventually(t, func() bool {
		_, ok := engine.results.Get(key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineStats(t *testing.T) {
	engine := newFixtureEngine(t, fixtureFetcher(), false)

	req := QueryRequest{Filters: map[string]string{"category": "museum"}}
	engine.Query(context.Background(), req)
	engine.Query(context.Background(), req)

	results, _ := engine.Stats()
	assert.Positive(t, results.Hits)
	assert.Positive(t, results.TotalQueries)
}

func TestEngineMetadata(t *testing.T) {
	engine := newFixtureEngine(t, fixtureFetcher(), false)

	meta := engine.Metadata(context.Background())
	assert.Equal(t, 6, meta.TotalItems)
	assert.Equal(t, 3, meta.TotalPages)
}
