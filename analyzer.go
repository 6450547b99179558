package archidex

import (
	"strings"
	"unicode/utf8"

	"github.com/archimap/archidex/utils"
)

// Facet names as they appear in the search-index artifact.
const (
	FacetArchitects = "architects"
	FacetYears      = "years"
	FacetCategories = "categories"
	FacetTitles     = "titles"
	FacetAddresses  = "addresses"
)

// Key widths used by the artifact builder for the free-text facets, in runes.
// The incremental builder keys the same way so both build paths agree.
const (
	titleKeyLen   = 3
	addressKeyLen = 5

	// Title tokens shorter than this are not indexed.
	minTitleTokenLen = 2
)

// Sentinel values the dataset uses for unknown fields; the artifact builder
// skips them, so the incremental path must too.
const (
	unknownArchitect = "不明な建築家"
	unknownAddress   = "住所不明"
)

// Analyzer turns a facet value into the index tokens for that facet.
type Analyzer interface {
	Analyze(facet string, value any) []string
}

// AnalyzerFunc allows plain functions to satisfy the Analyzer interface.
type AnalyzerFunc func(facet string, value any) []string

// Analyze implements Analyzer by invoking the wrapped function.
func (fn AnalyzerFunc) Analyze(facet string, value any) []string {
	return fn(facet, value)
}

// FacetAnalyzer normalizes facet values the way the dataset pipeline does:
// exact facets index the whole lowered value, titles index 3-rune prefixes of
// whitespace-split tokens, addresses index one 5-rune prefix of the whole
// lowered address. Rune-based slicing keeps CJK values intact.
type FacetAnalyzer struct{}

// NewFacetAnalyzer returns a FacetAnalyzer instance.
func NewFacetAnalyzer() *FacetAnalyzer {
	return &FacetAnalyzer{}
}

// Analyze converts the provided value into the tokens indexed for facet.
func (fa *FacetAnalyzer) Analyze(facet string, value any) []string {
	text := strings.TrimSpace(utils.ToString(value))
	if text == "" {
		return nil
	}
	switch facet {
	case FacetTitles:
		return fa.titleKeys(text)
	case FacetAddresses:
		return []string{utils.RunePrefix(utils.LowerCase(text), addressKeyLen)}
	default:
		return []string{utils.LowerCase(text)}
	}
}

// NormalizeToken applies the exact-facet normalization to a query token.
func (fa *FacetAnalyzer) NormalizeToken(token string) string {
	return utils.LowerCase(strings.TrimSpace(token))
}

func (fa *FacetAnalyzer) titleKeys(text string) []string {
	words := utils.Tokenize(text)
	if len(words) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < minTitleTokenLen {
			continue
		}
		key := utils.RunePrefix(w, titleKeyLen)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

var defaultAnalyzer Analyzer = NewFacetAnalyzer()

// facetSource maps each facet to the record value it indexes. Unknown-value
// sentinels are not indexed, matching the artifact builder.
func facetSource(facet string, r *Record) any {
	switch facet {
	case FacetArchitects:
		if r.Architect == unknownArchitect {
			return nil
		}
		return r.Architect
	case FacetYears:
		if r.Year == 0 {
			return nil
		}
		return r.Year
	case FacetCategories:
		return r.Category
	case FacetTitles:
		return r.Title
	case FacetAddresses:
		if r.Address == unknownAddress {
			return nil
		}
		return r.Address
	default:
		return nil
	}
}

// defaultFacets is the facet set produced by the dataset pipeline.
var defaultFacets = []string{
	FacetArchitects, FacetYears, FacetCategories, FacetTitles, FacetAddresses,
}
