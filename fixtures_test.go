package archidex

import (
	"context"
	"fmt"
	"sync"

	"github.com/oarkflow/json"
)

// fakeFetcher serves artifacts from memory and counts fetches per artifact.
type fakeFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		files: make(map[string][]byte),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if err, ok := f.fail[name]; ok {
		return nil, err
	}
	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return data, nil
}

func (f *fakeFetcher) fetchCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeFetcher) put(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.files[name] = data
	f.mu.Unlock()
}

var fixtureRecords = []*Record{
	{ID: 1, Title: "Tokyo Museum of Modern Art", Architect: "Kenzo Tange", Year: 1970,
		Address: "Ueno Park Tokyo", Category: "museum", BigCategory: "culture", Prefecture: "Tokyo"},
	{ID: 2, Title: "Hillside Terrace", Architect: "Fumihiko Maki", Year: 1969,
		Address: "Daikanyama Tokyo", Category: "housing", BigCategory: "residential", Prefecture: "Tokyo"},
	{ID: 3, Title: "Osaka Expo Tower", Architect: "Kiyonori Kikutake", Year: 1970,
		Address: "Suita Osaka", Category: "タワー", BigCategory: "culture", Prefecture: "Osaka"},
	{ID: 4, Title: "Modern Art Museum of Gunma", Architect: "Arata Isozaki", Year: 1974,
		Address: "Takasaki Gunma", Category: "museum", BigCategory: "culture", Prefecture: "Gunma"},
	{ID: 5, Title: "Nakagin Capsule Tower", Architect: "Kisho Kurokawa", Year: 1972,
		Address: "Ginza Tokyo", Category: "housing", BigCategory: "residential", Prefecture: "Tokyo"},
	{ID: 6, Title: "京都市美術館", Architect: "Kenzo Tange", Year: 1970,
		Address: "京都市左京区岡崎", Category: "museum", BigCategory: "culture", Prefecture: "Kyoto"},
}

const fixtureItemsPerPage = 2

// fixtureIndex mirrors what the dataset pipeline exports for fixtureRecords:
// exact facets keyed by the lowered value, titles by 3-rune prefixes of
// whitespace-split tokens of length two or more, addresses by one 5-rune
// prefix of the whole lowered address.
var fixtureIndex = IndexArtifact{
	FacetArchitects: {
		"kenzo tange":       {1, 6},
		"fumihiko maki":     {2},
		"kiyonori kikutake": {3},
		"arata isozaki":     {4},
		"kisho kurokawa":    {5},
	},
	FacetYears: {
		"1970": {1, 3, 6},
		"1969": {2},
		"1974": {4},
		"1972": {5},
	},
	FacetCategories: {
		"museum":  {1, 4, 6},
		"housing": {2, 5},
		"タワー":     {3},
	},
	FacetTitles: {
		"tok": {1}, "mus": {1, 4}, "of": {1, 4}, "mod": {1, 4}, "art": {1, 4},
		"hil": {2}, "ter": {2},
		"osa": {3}, "exp": {3}, "tow": {3, 5},
		"gun": {4},
		"nak": {5}, "cap": {5},
		"京都市": {6},
	},
	FacetAddresses: {
		"ueno ": {1},
		"daika": {2},
		"suita": {3},
		"takas": {4},
		"ginza": {5},
		"京都市左京": {6},
	},
}

// fixtureFetcher serves the full dataset: metadata, three pages of two
// records each and the prebuilt search index.
func fixtureFetcher() *fakeFetcher {
	f := newFakeFetcher()
	total := len(fixtureRecords)
	totalPages := (total + fixtureItemsPerPage - 1) / fixtureItemsPerPage
	f.put(metadataArtifact, Metadata{
		TotalItems:   total,
		TotalPages:   totalPages,
		ItemsPerPage: fixtureItemsPerPage,
	})
	for n := 1; n <= totalPages; n++ {
		start := (n - 1) * fixtureItemsPerPage
		end := start + fixtureItemsPerPage
		if end > total {
			end = total
		}
		f.put(pageArtifact(n), Page{
			Page:         n,
			TotalPages:   totalPages,
			ItemsPerPage: fixtureItemsPerPage,
			TotalItems:   total,
			Items:        fixtureRecords[start:end],
		})
	}
	f.put(indexArtifact, fixtureIndex)
	return f
}

func fixtureIndexLoaded(f *fakeFetcher) *Index {
	idx := NewIndex()
	idx.LoadArtifact(context.Background(), f, NoopLogger())
	return idx
}
