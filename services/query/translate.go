package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/meghashyamc/presssync/content"
)

var (
	ErrInvalidFacet = errors.New("invalid facet")
	ErrInvalidRange = errors.New("invalid date range")
)

// DSL is an engine search body.
type DSL map[string]any

// orderFields maps the symbolic orderby names to the index fields they sort on.
var orderFields = map[string]string{
	"relevance":  "_score",
	"date":       "post_date.date",
	"modified":   "post_modified.date",
	"id":         "post_id",
	"author":     "post_author.login",
	"name":       "post_name.raw",
	"title":      "post_title.raw",
	"menu_order": "menu_order",
	"parent":     "post_parent",
}

// IsOrderBy reports whether name is a known orderby value.
func IsOrderBy(name string) bool {
	_, ok := orderFields[name]
	return ok
}

var facetTypes = []string{FacetTaxonomy, FacetPostType, FacetAuthor, FacetDateHistogram}
var intervals = []string{IntervalYear, IntervalMonth, IntervalDay}

// ValidateFacet reports what is wrong with a facet request, if anything.
func ValidateFacet(facet Facet) error {
	if !slices.Contains(facetTypes, facet.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFacet, facet.Type)
	}
	if facet.Type == FacetTaxonomy && facet.Taxonomy == "" {
		return fmt.Errorf("%w: taxonomy facet needs a taxonomy", ErrInvalidFacet)
	}
	if facet.Type == FacetDateHistogram && !slices.Contains(intervals, facet.Interval) {
		return fmt.Errorf("%w: interval must be one of %s", ErrInvalidFacet, strings.Join(intervals, ", "))
	}
	if facet.Count < 0 {
		return fmt.Errorf("%w: count cannot be negative", ErrInvalidFacet)
	}
	return nil
}

// Translate builds the engine query for a request. It does no I/O.
func Translate(req *Request) (DSL, error) {
	filters, err := buildFilters(req)
	if err != nil {
		return nil, err
	}

	dsl := DSL{
		"from": req.From(),
		"size": req.Size(),
		"query": map[string]any{
			"bool": map[string]any{
				"must":   buildMust(req),
				"filter": filters,
			},
		},
	}

	if sort := buildSort(req); len(sort) > 0 {
		dsl["sort"] = sort
	}

	if len(req.Facets) > 0 {
		aggs, err := buildAggregations(req.Facets)
		if err != nil {
			return nil, err
		}
		dsl["aggs"] = aggs
	}

	if len(req.Source) > 0 {
		dsl["_source"] = req.Source
	}

	return dsl, nil
}

// buildMust matches quoted phrases exactly and requires every other word.
func buildMust(req *Request) []any {
	phrases, remaining := parseQuotedQuery(req.Query)
	if len(phrases) == 0 && remaining == "" {
		return []any{map[string]any{"match_all": map[string]any{}}}
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}

	var must []any
	for _, phrase := range phrases {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  phrase,
				"fields": fields,
				"type":   "phrase",
			},
		})
	}
	if remaining != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":     remaining,
				"fields":    fields,
				"type":      "best_fields",
				"operator":  "and",
				"fuzziness": 0,
			},
		})
	}

	return must
}

func buildFilters(req *Request) ([]any, error) {
	var filters []any

	filters = append(filters, statusFilter(req.PostStatus))

	if len(req.PostType) > 0 {
		filters = append(filters, termsClause("post_type.raw", req.PostType))
	}

	taxonomies := make([]string, 0, len(req.Terms))
	for taxonomy := range req.Terms {
		taxonomies = append(taxonomies, taxonomy)
	}
	slices.Sort(taxonomies)
	for _, taxonomy := range taxonomies {
		filters = append(filters, termFilters(taxonomy, req.Terms[taxonomy])...)
	}

	if len(req.Author) > 0 {
		filters = append(filters, termsClause("post_author.user_id", req.Author))
	}
	if len(req.AuthorName) > 0 {
		filters = append(filters, termsClause("post_author.login", req.AuthorName))
	}

	// year, monthnum and day narrow on the primary date the way date facet links do
	components := []struct {
		name  string
		value int
	}{{"year", req.Year}, {"month", req.MonthNum}, {"day", req.Day}}
	for _, component := range components {
		if component.value > 0 {
			filters = append(filters, termClause(DefaultDateField+"."+component.name, component.value))
		}
	}

	if !req.DateRange.isEmpty() {
		dateRange, err := rangeClause(req.DateRange)
		if err != nil {
			return nil, err
		}
		filters = append(filters, dateRange)
	}

	return filters, nil
}

// statusFilter matches posts whose own status is requested, and attachments
// or revisions that inherit a requested status from their parent.
func statusFilter(statuses []string) map[string]any {
	if len(statuses) == 0 {
		statuses = []string{content.StatusPublish}
	}
	return map[string]any{
		"bool": map[string]any{
			"should": []any{
				termsClause("post_status", statuses),
				map[string]any{
					"bool": map[string]any{
						"must": []any{
							map[string]any{"term": map[string]any{"post_status": content.StatusInherit}},
							termsClause("parent_status", statuses),
						},
					},
				},
			},
			"minimum_should_match": 1,
		},
	}
}

// termFilters turns a taxonomy filter into clauses. A comma separated list
// matches any of the slugs, a plus separated one matches all of them.
func termFilters(taxonomy string, value string) []any {
	field := "terms." + taxonomy + ".slug"

	if strings.Contains(value, content.JoinUnion) {
		var should []any
		for _, slug := range splitList(value) {
			should = append(should, termClause(field, slug))
		}
		if len(should) == 0 {
			return nil
		}
		return []any{map[string]any{
			"bool": map[string]any{"should": should, "minimum_should_match": 1},
		}}
	}

	var must []any
	// '+' decodes to a space in query strings
	for _, slug := range strings.FieldsFunc(value, func(r rune) bool { return r == '+' || r == ' ' }) {
		must = append(must, termClause(field, slug))
	}
	return must
}

func rangeClause(dateRange *DateRange) (map[string]any, error) {
	field := dateRange.Field
	if field == "" {
		field = DefaultDateField
	}
	if strings.ContainsAny(field, " *") {
		return nil, fmt.Errorf("%w: bad field %q", ErrInvalidRange, field)
	}
	if !strings.HasSuffix(field, ".date") {
		field += ".date"
	}

	bounds := map[string]any{}
	for op, value := range map[string]string{"gt": dateRange.GT, "gte": dateRange.GTE, "lt": dateRange.LT, "lte": dateRange.LTE} {
		if value != "" {
			bounds[op] = value
		}
	}
	return map[string]any{"range": map[string]any{field: bounds}}, nil
}

func buildSort(req *Request) []any {
	if len(req.OrderFields) > 0 {
		var sort []any
		for _, orderField := range req.OrderFields {
			if clause := sortClause(orderField.Field, orderField.Order); clause != nil {
				sort = append(sort, clause)
			}
		}
		return sort
	}

	orderBy := req.OrderBy
	if orderBy == "" {
		orderBy = "date"
		if strings.TrimSpace(req.Query) != "" {
			orderBy = "relevance"
		}
	}
	if clause := sortClause(orderBy, req.Order); clause != nil {
		return []any{clause}
	}
	return nil
}

func sortClause(orderBy string, order string) map[string]any {
	field, ok := orderFields[orderBy]
	if !ok {
		return nil
	}
	order = strings.ToLower(order)
	if order != OrderAsc {
		order = OrderDesc
	}
	return map[string]any{field: map[string]any{"order": order}}
}

func buildAggregations(facets map[string]Facet) (map[string]any, error) {
	aggs := map[string]any{}
	for label, facet := range facets {
		if err := ValidateFacet(facet); err != nil {
			return nil, fmt.Errorf("facet %s: %w", label, err)
		}

		switch facet.Type {
		case FacetTaxonomy:
			aggs[label] = termsAggregation("terms."+facet.Taxonomy+".slug", facet.Size())
		case FacetPostType:
			aggs[label] = termsAggregation("post_type.raw", facet.Size())
		case FacetAuthor:
			aggs[label] = termsAggregation("post_author.login", facet.Size())
		case FacetDateHistogram:
			aggs[label] = map[string]any{
				"date_histogram": map[string]any{
					"field":             facet.DateField() + ".date",
					"calendar_interval": facet.Interval,
					"min_doc_count":     1,
					"order":             map[string]any{"_key": OrderDesc},
				},
			}
		}
	}
	return aggs, nil
}

// termsAggregation breaks count ties by key so bucket order is stable.
func termsAggregation(field string, size int) map[string]any {
	return map[string]any{
		"terms": map[string]any{
			"field": field,
			"size":  size,
			"order": []any{
				map[string]any{"_count": OrderDesc},
				map[string]any{"_key": OrderAsc},
			},
		},
	}
}

func termClause(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func termsClause[T any](field string, values []T) map[string]any {
	return map[string]any{"terms": map[string]any{field: values}}
}
