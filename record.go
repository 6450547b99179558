package archidex

import (
	"fmt"

	"github.com/goccy/go-reflect"
	"github.com/oarkflow/json"

	"github.com/archimap/archidex/utils"
)

// Record is one building entry as exported by the dataset pipeline.
type Record struct {
	ID                 int64   `json:"id"`
	Title              string  `json:"title"`
	Architect          string  `json:"architect"`
	Year               int     `json:"year"`
	Address            string  `json:"address"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	Category           string  `json:"category"`
	BigCategory        string  `json:"big_category"`
	Description        string  `json:"description"`
	ImageURL           string  `json:"image_url"`
	Tags               string  `json:"tags"`
	Prefecture         string  `json:"prefecture"`
	Contractor         string  `json:"contractor"`
	StructuralDesigner string  `json:"structural_designer"`
	LandscapeDesigner  string  `json:"landscape_designer"`
	ShinkenchikuURL    string  `json:"shinkenchiku_url"`
}

// Page is one page artifact of the dataset.
type Page struct {
	Page         int       `json:"page"`
	TotalPages   int       `json:"total_pages"`
	ItemsPerPage int       `json:"items_per_page"`
	TotalItems   int       `json:"total_items"`
	Items        []*Record `json:"items"`
}

// Metadata is the dataset summary artifact.
type Metadata struct {
	TotalItems   int `json:"total_items"`
	TotalPages   int `json:"total_pages"`
	ItemsPerPage int `json:"items_per_page"`
}

// IndexArtifact is the prebuilt inverted index: facet -> token -> ascending ids.
type IndexArtifact map[string]map[string][]int64

// emptyPage is the degraded result for a page that could not be fetched or decoded.
func emptyPage(n int) *Page {
	return &Page{Page: n, Items: []*Record{}}
}

func decodePage(data []byte, n int) (*Page, error) {
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrMalformedArtifact, n, err)
	}
	if p.Items == nil {
		p.Items = []*Record{}
	}
	if p.Page == 0 {
		p.Page = n
	}
	return &p, nil
}

func decodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedArtifact, err)
	}
	return &m, nil
}

func decodeIndexArtifact(data []byte) (IndexArtifact, error) {
	var idx IndexArtifact
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: search index: %v", ErrMalformedArtifact, err)
	}
	return idx, nil
}

var recordFieldNames = buildRecordFieldNames()

func buildRecordFieldNames() []string {
	t := reflect.TypeOf(Record{})
	names := make([]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		for j := 0; j < len(tag); j++ {
			if tag[j] == ',' {
				tag = tag[:j]
				break
			}
		}
		names[i] = tag
	}
	return names
}

// AsMap views the record as a json-keyed field map. The residual filter rules
// and the incremental index builder both consume this form.
func (r *Record) AsMap() map[string]any {
	v := reflect.ValueOf(r).Elem()
	out := make(map[string]any, len(recordFieldNames))
	for i, name := range recordFieldNames {
		out[name] = v.Field(i).Interface()
	}
	return out
}

// SortValue returns the record value used when ordering by field.
// Unknown fields order by id so the sort stays total.
func (r *Record) SortValue(field string) any {
	switch field {
	case "id", "":
		return r.ID
	case "title":
		return utils.LowerCase(r.Title)
	case "architect":
		return utils.LowerCase(r.Architect)
	case "year":
		return r.Year
	case "address":
		return utils.LowerCase(r.Address)
	case "category":
		return utils.LowerCase(r.Category)
	case "big_category":
		return utils.LowerCase(r.BigCategory)
	case "prefecture":
		return utils.LowerCase(r.Prefecture)
	default:
		return r.ID
	}
}
