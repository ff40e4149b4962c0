package handlers

import (
	"net/http"
	"time"

	"github.com/meghashyamc/presssync/content"
)

var testPostDate = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

var testPosts = []*content.Record{
	{ID: 1, Type: "post", Status: content.StatusPublish, Title: "Hello world", Content: "<p>First post</p>", Name: "hello-world", Date: testPostDate},
	{ID: 2, Type: "post", Status: content.StatusPublish, Title: "Second", Content: "Another post", Name: "second", Date: testPostDate.Add(time.Hour)},
	{ID: 3, Type: "page", Status: content.StatusPublish, Title: "About", Content: "About us", Name: "about", Date: testPostDate.Add(2 * time.Hour)},
	{ID: 4, Type: "post", Status: "draft", Title: "Draft", Content: "Not yet", Name: "draft", Date: testPostDate.Add(3 * time.Hour)},
	{ID: 5, Type: "post", Status: content.StatusPublish, Title: "Fifth", Content: "Last one", Name: "fifth", Date: testPostDate.Add(4 * time.Hour)},
}

const testSearchResponse = `{
	"took": 3,
	"timed_out": false,
	"hits": {
		"total": {"value": 42, "relation": "eq"},
		"max_score": 1.5,
		"hits": [
			{"_index": "posts", "_id": "1", "_score": 1.5, "_source": {"post_id": 1, "post_title": "Hello world"}},
			{"_index": "posts", "_id": "2", "_score": 0.7, "_source": {"post_id": 2, "post_title": "Second"}}
		]
	},
	"aggregations": {
		"Types": {"buckets": [{"key": "post", "doc_count": 40}, {"key": "page", "doc_count": 2}]}
	}
}`

var searchValidationTestCases = []testCase{
	{
		name:           "UnknownOrderBy",
		queryParams:    map[string]string{"s": "hello", "orderby": "rand"},
		expectedStatus: http.StatusNotAcceptable,
		expectedResponse: map[string]any{
			"data":   nil,
			"errors": []any{"invalid orderby"},
		},
	},
	{
		name:           "InvalidOrder",
		queryParams:    map[string]string{"s": "hello", "order": "sideways"},
		expectedStatus: http.StatusNotAcceptable,
		expectedResponse: map[string]any{
			"data":   nil,
			"errors": []any{"invalid order, expected asc or desc"},
		},
	},
	{
		name:           "PageSizeTooLarge",
		queryParams:    map[string]string{"s": "hello", "posts_per_page": "500"},
		expectedStatus: http.StatusNotAcceptable,
	},
	{
		name:           "NegativeOffset",
		queryParams:    map[string]string{"s": "hello", "offset": "-5"},
		expectedStatus: http.StatusNotAcceptable,
	},
	{
		name:           "TaxonomyFacetWithoutTaxonomy",
		queryParams:    map[string]string{"facets.0.label": "Tags", "facets.0.type": "taxonomy"},
		expectedStatus: http.StatusNotAcceptable,
		expectedResponse: map[string]any{
			"data":   nil,
			"errors": []any{"invalid facets"},
		},
	},
	{
		name:           "OffsetNotANumber",
		queryParams:    map[string]string{"s": "hello", "offset": "abc"},
		expectedStatus: http.StatusUnprocessableEntity,
	},
	{
		name:           "AuthorNotANumber",
		queryParams:    map[string]string{"author": "bob"},
		expectedStatus: http.StatusUnprocessableEntity,
	},
}
