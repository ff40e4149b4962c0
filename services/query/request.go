// Package query turns structured search requests into engine query DSL.
package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/schema"
	"github.com/meghashyamc/presssync/content"
)

const (
	FacetTaxonomy      = "taxonomy"
	FacetPostType      = "post_type"
	FacetAuthor        = "author"
	FacetDateHistogram = "date_histogram"

	IntervalYear  = "year"
	IntervalMonth = "month"
	IntervalDay   = "day"

	OrderAsc  = "asc"
	OrderDesc = "desc"

	DefaultPerPage    = 10
	DefaultFacetCount = 5
	DefaultDateField  = "post_date"
)

// DefaultFields are searched when a request names no fields of its own.
var DefaultFields = []string{
	"post_title^3",
	"post_excerpt^2",
	"post_content",
	"post_author.display_name",
	"terms.category.name",
	"terms.post_tag.name",
}

type Request struct {
	Query        string            `json:"query"`
	Fields       []string          `json:"fields"`
	PostType     []string          `json:"post_type"`
	PostStatus   []string          `json:"post_status"`
	Terms        map[string]string `json:"terms"`
	Author       []int64           `json:"author"`
	AuthorName   []string          `json:"author_name"`
	DateRange    *DateRange        `json:"date_range,omitempty"`
	Year         int               `json:"year,omitempty" validate:"min=0"`
	MonthNum     int               `json:"monthnum,omitempty" validate:"min=0,max=12"`
	Day          int               `json:"day,omitempty" validate:"min=0,max=31"`
	OrderBy      string            `json:"orderby" validate:"omitempty,valid_orderby"`
	Order        string            `json:"order" validate:"omitempty,valid_order"`
	OrderFields  []OrderField      `json:"order_fields" validate:"dive"`
	Offset       *int              `json:"offset,omitempty" validate:"omitempty,min=0"`
	Paged        int               `json:"paged" validate:"min=0"`
	PostsPerPage int               `json:"posts_per_page" validate:"min=0,max=100"`
	Facets       map[string]Facet  `json:"facets" validate:"valid_facets"`
	Source       []string          `json:"_source"`
}

type DateRange struct {
	Field string `json:"field" schema:"field"`
	GT    string `json:"gt,omitempty" schema:"gt"`
	GTE   string `json:"gte,omitempty" schema:"gte"`
	LT    string `json:"lt,omitempty" schema:"lt"`
	LTE   string `json:"lte,omitempty" schema:"lte"`
}

func (d *DateRange) isEmpty() bool {
	return d == nil || (d.GT == "" && d.GTE == "" && d.LT == "" && d.LTE == "")
}

type OrderField struct {
	Field string `json:"field" schema:"field" validate:"valid_orderby"`
	Order string `json:"order" schema:"order" validate:"omitempty,valid_order"`
}

type Facet struct {
	Type              string `json:"type"`
	Taxonomy          string `json:"taxonomy,omitempty"`
	Count             int    `json:"count,omitempty"`
	Interval          string `json:"interval,omitempty"`
	Field             string `json:"field,omitempty"`
	ExcludeCurrent    bool   `json:"exclude_current,omitempty"`
	JoinExistingTerms bool   `json:"join_existing_terms,omitempty"`
}

// Size is the bucket count the facet asks for.
func (f Facet) Size() int {
	if f.Count > 0 {
		return f.Count
	}
	return DefaultFacetCount
}

// DateField is the date object a date histogram facet buckets on.
func (f Facet) DateField() string {
	if f.Field != "" {
		return f.Field
	}
	return DefaultDateField
}

// Size is the page size the request asks for.
func (r *Request) Size() int {
	if r.PostsPerPage > 0 {
		return r.PostsPerPage
	}
	return DefaultPerPage
}

// From is the first hit to return. An explicit offset wins over paged, even
// when both are set.
func (r *Request) From() int {
	if r.Offset != nil {
		return *r.Offset
	}
	if r.Paged > 1 {
		return (r.Paged - 1) * r.Size()
	}
	return 0
}

// queryValues is the flat shape of a search request in a URL query string.
type queryValues struct {
	Query        string       `schema:"s"`
	Fields       string       `schema:"fields"`
	PostType     []string     `schema:"post_type"`
	PostStatus   []string     `schema:"post_status"`
	Author       string       `schema:"author"`
	AuthorName   []string     `schema:"author_name"`
	DateRange    DateRange    `schema:"date_range"`
	Year         int          `schema:"year"`
	MonthNum     int          `schema:"monthnum"`
	Day          int          `schema:"day"`
	OrderBy      string       `schema:"orderby"`
	Order        string       `schema:"order"`
	OrderFields  []OrderField `schema:"order_fields"`
	Offset       *int         `schema:"offset"`
	Paged        int          `schema:"paged"`
	PostsPerPage int          `schema:"posts_per_page"`
	Facets       []facetValue `schema:"facets"`
	Source       string       `schema:"_source"`
}

type facetValue struct {
	Label             string `schema:"label"`
	Type              string `schema:"type"`
	Taxonomy          string `schema:"taxonomy"`
	Count             int    `schema:"count"`
	Interval          string `schema:"interval"`
	Field             string `schema:"field"`
	ExcludeCurrent    bool   `schema:"exclude_current"`
	JoinExistingTerms bool   `schema:"join_existing_terms"`
}

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// FromValues decodes URL query vars into a Request. Taxonomy filters are read
// from each registered taxonomy's query var (category_name=news,tech).
// Facets are passed as facets.<n>.label, facets.<n>.type and so on.
func FromValues(values url.Values, registry *content.Registry) (*Request, error) {
	var raw queryValues
	if err := decoder.Decode(&raw, values); err != nil {
		return nil, fmt.Errorf("failed to decode search parameters: %w", err)
	}

	request := &Request{
		Query:        raw.Query,
		Fields:       splitList(raw.Fields),
		PostType:     splitValues(raw.PostType),
		PostStatus:   splitValues(raw.PostStatus),
		AuthorName:   splitValues(raw.AuthorName),
		Year:         raw.Year,
		MonthNum:     raw.MonthNum,
		Day:          raw.Day,
		OrderBy:      raw.OrderBy,
		Order:        strings.ToLower(raw.Order),
		OrderFields:  raw.OrderFields,
		Offset:       raw.Offset,
		Paged:        raw.Paged,
		PostsPerPage: raw.PostsPerPage,
		Source:       splitList(raw.Source),
	}

	for _, id := range splitList(raw.Author) {
		authorID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid author id %q", id)
		}
		request.Author = append(request.Author, authorID)
	}

	if !raw.DateRange.isEmpty() {
		dateRange := raw.DateRange
		request.DateRange = &dateRange
	}

	if registry != nil {
		for _, taxonomy := range registry.Taxonomies {
			value := strings.TrimSpace(values.Get(taxonomy.QueryVar))
			if value == "" {
				continue
			}
			if request.Terms == nil {
				request.Terms = map[string]string{}
			}
			request.Terms[taxonomy.Name] = value
		}
	}

	for i, facet := range raw.Facets {
		label := facet.Label
		if label == "" {
			label = fmt.Sprintf("facet_%d", i)
		}
		if request.Facets == nil {
			request.Facets = map[string]Facet{}
		}
		request.Facets[label] = Facet{
			Type:              facet.Type,
			Taxonomy:          facet.Taxonomy,
			Count:             facet.Count,
			Interval:          facet.Interval,
			Field:             facet.Field,
			ExcludeCurrent:    facet.ExcludeCurrent,
			JoinExistingTerms: facet.JoinExistingTerms,
		}
	}

	return request, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func splitValues(values []string) []string {
	var items []string
	for _, value := range values {
		items = append(items, splitList(value)...)
	}
	return items
}
