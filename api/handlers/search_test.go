package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleSearchValidation(t *testing.T) {
	assert := require.New(t)
	server := setupTestServer(t, assert)

	for _, testCase := range searchValidationTestCases {

		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			w := makeTestHTTPRequest(server.router, assert, http.MethodGet, "/search", testCase.requestHeaders, testCase.queryParams)
			assert.Equal(testCase.expectedStatus, w.Code, fmt.Sprintf("response gotten was %s", w.Body.String()))
			if testCase.expectedResponse != nil {
				assert.Equal(testCase.expectedResponse, decodeResponse(assert, w))
			}
		})
	}
	assert.Empty(server.engine.searchBodies(), "invalid requests never reach the engine")
}

func TestHandleSearchRefusesUnavailableEngine(t *testing.T) {
	testCases := []struct {
		name          string
		active        bool
		clusterStatus string
	}{
		{name: "Inactive", active: false, clusterStatus: "green"},
		{name: "NeverVerified", active: true, clusterStatus: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := require.New(t)
			server := setupTestServer(t, assert)
			server.engine.setClusterStatus(tc.clusterStatus)
			assert.NoError(server.settings.SetActive(t.Context(), tc.active))
			server.monitor.Check(t.Context(), true)

			w := makeTestHTTPRequest(server.router, assert, http.MethodGet, "/search", nil, map[string]string{"s": "hello"})
			assert.Equal(http.StatusServiceUnavailable, w.Code, fmt.Sprintf("response gotten was %s", w.Body.String()))
			assert.Empty(server.engine.searchBodies())
		})
	}
}

func TestHandleSearch(t *testing.T) {
	assert := require.New(t)
	server := setupTestServer(t, assert)
	assert.NoError(server.settings.SetActive(t.Context(), true))
	assert.True(server.monitor.Check(t.Context(), true))

	w := makeTestHTTPRequest(server.router, assert, http.MethodGet, "/search", nil, map[string]string{
		"s":              "hello",
		"paged":          "2",
		"facets.0.label": "Types",
		"facets.0.type":  "post_type",
	})
	assert.Equal(http.StatusOK, w.Code, fmt.Sprintf("response gotten was %s", w.Body.String()))
	assert.Equal("42", w.Header().Get(HeaderPaginationTotalCount))

	type searchResponse struct {
		Data   SearchResponse `json:"data"`
		Errors []string       `json:"errors"`
	}
	var actual searchResponse
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &actual))
	assert.Empty(actual.Errors)

	assert.Len(actual.Data.Results, 2)
	assert.Equal("1", actual.Data.Results[0].ID)
	assert.JSONEq(`{"post_id": 1, "post_title": "Hello world"}`, string(actual.Data.Results[0].Source))

	assert.Equal(Pagination{
		CurrentPage:  2,
		PageSize:     10,
		TotalPages:   5,
		HasNextPage:  true,
		HasPrevPage:  true,
		TotalResults: 42,
	}, actual.Data.PageDetails)

	types := actual.Data.Facets["Types"]
	assert.Len(types.Items, 2)
	assert.Equal("Post", types.Items[0].Name)
	assert.Equal(int64(40), types.Items[0].Count)
	assert.Equal(map[string]string{"post_type": "post"}, types.Items[0].QueryVars)

	bodies := server.engine.searchBodies()
	assert.Len(bodies, 1)
	var sent map[string]any
	assert.NoError(json.Unmarshal([]byte(bodies[0]), &sent))
	assert.Equal(float64(10), sent["from"])
	assert.Equal(float64(10), sent["size"])
	assert.Contains(sent, "aggs")
}
