package archidex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupExactToken(t *testing.T) {
	idx := fixtureIndexLoaded(fixtureFetcher())

	assert.Equal(t, []int64{1, 4, 6}, idx.Lookup(FacetCategories, "museum"))
	assert.Equal(t, []int64{3}, idx.Lookup(FacetCategories, "タワー"))
	assert.Equal(t, []int64{1, 3, 6}, idx.Lookup(FacetYears, "1970"))
	assert.Equal(t, []int64{1, 6}, idx.Lookup(FacetArchitects, "Kenzo Tange"))
}

func TestLookupSubstringFallback(t *testing.T) {
	idx := fixtureIndexLoaded(fixtureFetcher())

	// "museum" misses the titles facet exactly; the stored key "mus" is a
	// substring of the query token, so the fallback finds it.
	assert.Equal(t, []int64{1, 4}, idx.Lookup(FacetTitles, "museum"))
	assert.Equal(t, []int64{6}, idx.Lookup(FacetTitles, "京都市美術館"))

	// The other direction: a query token contained in a stored key.
	assert.Equal(t, []int64{1, 6}, idx.Lookup(FacetArchitects, "tange"))
	assert.Equal(t, []int64{6}, idx.Lookup(FacetTitles, "京都"))
}

func TestLookupUnknownToken(t *testing.T) {
	idx := fixtureIndexLoaded(fixtureFetcher())

	assert.Empty(t, idx.Lookup(FacetCategories, "zzz"))
	assert.Empty(t, idx.Lookup("no_such_facet", "museum"))
	assert.Empty(t, idx.Lookup(FacetCategories, "  "))
}

func TestIntersect(t *testing.T) {
	idx := fixtureIndexLoaded(fixtureFetcher())

	ids := idx.Intersect([]Predicate{
		{Facet: FacetCategories, Token: "museum"},
		{Facet: FacetYears, Token: "1970"},
	})
	assert.Equal(t, []int64{1, 6}, ids)
}

func TestIntersectShortCircuitsOnZeroMatch(t *testing.T) {
	idx := fixtureIndexLoaded(fixtureFetcher())

	ids := idx.Intersect([]Predicate{
		{Facet: FacetCategories, Token: "museum"},
		{Facet: FacetYears, Token: "1800"},
	})
	assert.Nil(t, ids)

	assert.Nil(t, idx.Intersect(nil))
}

func TestIncrementalBuildMatchesArtifactKeys(t *testing.T) {
	idx := NewIndex()
	for _, r := range fixtureRecords {
		idx.IndexRecord(r)
	}

	// The incremental path must agree with the artifact builder: title keys
	// truncate to 3 runes, addresses key the whole value's first 5 runes,
	// exact facets keep full values.
	assert.Equal(t, []int64{1, 4}, idx.Lookup(FacetTitles, "mus"))
	assert.Equal(t, []int64{6}, idx.Lookup(FacetTitles, "京都市"))
	assert.Equal(t, []int64{1}, idx.Lookup(FacetAddresses, "ueno "))
	assert.Equal(t, []int64{6}, idx.Lookup(FacetAddresses, "京都市左京"))
	assert.Equal(t, []int64{1, 6}, idx.Lookup(FacetArchitects, "kenzo tange"))
	assert.Equal(t, []int64{1, 3, 6}, idx.Lookup(FacetYears, "1970"))

	// Indexing the same record twice must not duplicate postings.
	idx.IndexRecord(fixtureRecords[0])
	assert.Equal(t, []int64{1, 4}, idx.Lookup(FacetTitles, "mus"))
}

func TestIncrementalBuildAgreesWithArtifact(t *testing.T) {
	built := NewIndex()
	for _, r := range fixtureRecords {
		built.IndexRecord(r)
	}
	loaded := fixtureIndexLoaded(fixtureFetcher())

	for facet, terms := range fixtureIndex {
		for term := range terms {
			assert.Equal(t, loaded.Lookup(facet, term), built.Lookup(facet, term),
				"facet %s term %s", facet, term)
		}
	}
}

func TestCompressedPostingsRoundTrip(t *testing.T) {
	idx := NewIndex(IndexWithCompressedPostings())
	for _, r := range fixtureRecords {
		idx.IndexRecord(r)
	}

	assert.Equal(t, []int64{1, 4}, idx.Lookup(FacetTitles, "mus"))
	assert.Equal(t, []int64{6}, idx.Lookup(FacetAddresses, "京都市左京"))
	assert.Equal(t, []int64{1, 6}, idx.Intersect([]Predicate{
		{Facet: FacetCategories, Token: "museum"},
		{Facet: FacetYears, Token: "1970"},
	}))
}

func TestSuggest(t *testing.T) {
	idx := fixtureIndexLoaded(fixtureFetcher())

	got := idx.Suggest(FacetArchitects, "k", 10)
	require.NotEmpty(t, got)
	tokens := make([]string, len(got))
	for i, s := range got {
		tokens[i] = s.Token
	}
	assert.Contains(t, tokens, "kenzo tange")
	assert.Contains(t, tokens, "kisho kurokawa")
	assert.Contains(t, tokens, "kiyonori kikutake")

	// Most frequent first: kenzo tange has two postings, the others one.
	assert.Equal(t, "kenzo tange", got[0].Token)
	assert.Equal(t, 2, got[0].Count)

	assert.Len(t, idx.Suggest(FacetArchitects, "k", 2), 2)
	assert.Empty(t, idx.Suggest(FacetArchitects, "zzz", 5))
}

func TestSuggestJapanesePrefix(t *testing.T) {
	idx := fixtureIndexLoaded(fixtureFetcher())

	got := idx.Suggest(FacetTitles, "京", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "京都市", got[0].Token)
	assert.Equal(t, 1, got[0].Count)

	got = idx.Suggest(FacetCategories, "タ", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "タワー", got[0].Token)
}

func TestLoadArtifactOnce(t *testing.T) {
	f := fixtureFetcher()
	idx := NewIndex()

	require.True(t, idx.LoadArtifact(t.Context(), f, NoopLogger()))
	require.True(t, idx.LoadArtifact(t.Context(), f, NoopLogger()))
	assert.Equal(t, 1, f.fetchCount(indexArtifact))
	assert.True(t, idx.Ready())
}

func TestLoadArtifactFailureLeavesIndexUsable(t *testing.T) {
	f := fixtureFetcher()
	f.fail[indexArtifact] = ErrTransientFetch
	idx := NewIndex()

	assert.False(t, idx.LoadArtifact(t.Context(), f, NoopLogger()))
	assert.False(t, idx.Ready())

	idx.IndexRecord(fixtureRecords[0])
	assert.Equal(t, []int64{1}, idx.Lookup(FacetCategories, "museum"))

	delete(f.fail, indexArtifact)
	assert.True(t, idx.LoadArtifact(t.Context(), f, NoopLogger()))
}
