package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/meghashyamc/presssync/services/facets"
	"github.com/meghashyamc/presssync/services/query"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logger.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

const engineResponse = `{
	"took": 4,
	"hits": {
		"total": {"value": 42, "relation": "eq"},
		"hits": [
			{"_id": "1", "_score": 1.5, "_source": {"post_id": 1, "post_title": "Hello"}},
			{"_id": "2", "_score": 0.5, "_source": {"post_id": 2, "post_title": "World"}}
		]
	},
	"aggregations": {
		"Types": {"buckets": [{"key": "post", "doc_count": 40}, {"key": "page", "doc_count": 2}]}
	}
}`

type fakeEngine struct {
	query any
	err   error
}

func (f *fakeEngine) Search(ctx context.Context, q any) (*searchdb.SearchResponse, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	var response searchdb.SearchResponse
	if err := json.Unmarshal([]byte(engineResponse), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

type fakeFlag struct {
	active bool
	err    error
}

func (f fakeFlag) IsActive(ctx context.Context) (bool, error) {
	return f.active, f.err
}

type fakePulse bool

func (f fakePulse) HasPulse(ctx context.Context, threshold string) bool {
	return bool(f)
}

type noLookup struct{}

func (noLookup) GetUserByLogin(ctx context.Context, login string) (*content.Author, error) {
	return nil, content.ErrNotFound
}

func (noLookup) GetTermBySlug(ctx context.Context, taxonomy string, slug string) (*content.Term, error) {
	return nil, content.ErrNotFound
}

func setupTestService(flag fakeFlag, pulse fakePulse, engine *fakeEngine) (*Service, *metrics.Metrics) {
	m := metrics.New()
	resolver := facets.New(newTestLogger(), content.DefaultRegistry(), noLookup{})
	service := New(newTestLogger(), engine, flag, pulse, resolver, m, Defaults{PerPage: 20, FacetCount: 7, Fields: []string{"post_title"}})
	return service, m
}

func TestSearch(t *testing.T) {
	assert := require.New(t)
	engine := &fakeEngine{}
	service, m := setupTestService(fakeFlag{active: true}, true, engine)

	request := &query.Request{
		Query:  "hello",
		Paged:  2,
		Facets: map[string]query.Facet{"Types": {Type: query.FacetPostType}},
	}
	response, err := service.Search(t.Context(), request)
	assert.NoError(err)

	assert.Equal(int64(42), response.Total)
	assert.Equal(20, response.From)
	assert.Equal(20, response.Size)
	assert.Equal(4, response.Took)
	assert.Len(response.Results, 2)
	assert.Equal("1", response.Results[0].ID)
	assert.Equal(1.5, *response.Results[0].Score)
	assert.JSONEq(`{"post_id": 1, "post_title": "Hello"}`, string(response.Results[0].Source))

	types := response.Facets["Types"]
	assert.Equal(7, types.Count)
	assert.Equal([]string{"Post", "Page"}, []string{types.Items[0].Name, types.Items[1].Name})

	dsl := engine.query.(query.DSL)
	assert.Equal(20, dsl["size"])
	assert.Equal(0, request.PostsPerPage, "the caller's request is not modified")
	assert.Equal(0, request.Facets["Types"].Count)
	assert.Equal(1.0, testutil.ToFloat64(m.SearchRequestsTotal.WithLabelValues(outcomeSuccess)))
}

func TestSearchRefusals(t *testing.T) {
	testCases := []struct {
		name        string
		flag        fakeFlag
		pulse       fakePulse
		engineErr   error
		wantErr     error
		wantOutcome string
	}{
		{name: "inactive", flag: fakeFlag{active: false}, pulse: true, wantErr: ErrInactive, wantOutcome: outcomeInactive},
		{name: "no pulse", flag: fakeFlag{active: true}, pulse: false, wantErr: ErrNoPulse, wantOutcome: outcomeNoPulse},
		{
			name:        "engine failure",
			flag:        fakeFlag{active: true},
			pulse:       true,
			engineErr:   &searchdb.EngineError{StatusCode: 500, Reason: "boom"},
			wantOutcome: outcomeError,
		},
		{name: "flag unreadable", flag: fakeFlag{err: errors.New("bolt closed")}, pulse: true, wantOutcome: outcomeError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := require.New(t)
			engine := &fakeEngine{err: tc.engineErr}
			service, m := setupTestService(tc.flag, tc.pulse, engine)

			_, err := service.Search(t.Context(), &query.Request{Query: "hello"})
			assert.Error(err)
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				assert.Nil(engine.query, "refused searches never reach the engine")
			}
			if tc.engineErr != nil {
				var engineErr *searchdb.EngineError
				assert.ErrorAs(err, &engineErr)
			}
			assert.Equal(1.0, testutil.ToFloat64(m.SearchRequestsTotal.WithLabelValues(tc.wantOutcome)))
		})
	}
}

func TestSearchPostProcessor(t *testing.T) {
	assert := require.New(t)
	engine := &fakeEngine{}
	service, _ := setupTestService(fakeFlag{active: true}, true, engine)

	service.SetPostProcessor(QueryPostProcessorFunc(func(ctx context.Context, req *query.Request, dsl query.DSL) (query.DSL, error) {
		dsl["min_score"] = 0.5
		return dsl, nil
	}))
	_, err := service.Search(t.Context(), &query.Request{})
	assert.NoError(err)
	assert.Equal(0.5, engine.query.(query.DSL)["min_score"])

	service.SetPostProcessor(QueryPostProcessorFunc(func(ctx context.Context, req *query.Request, dsl query.DSL) (query.DSL, error) {
		return nil, fmt.Errorf("rejected")
	}))
	_, err = service.Search(t.Context(), &query.Request{})
	assert.Error(err)
}

func TestSearchInvalidFacet(t *testing.T) {
	assert := require.New(t)
	service, _ := setupTestService(fakeFlag{active: true}, true, &fakeEngine{})

	_, err := service.Search(t.Context(), &query.Request{Facets: map[string]query.Facet{"x": {Type: "color"}}})
	assert.ErrorIs(err, query.ErrInvalidFacet)
}
