package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/meghashyamc/presssync/services/facets"
	"github.com/meghashyamc/presssync/services/health"
	"github.com/meghashyamc/presssync/services/query"
)

var (
	// ErrInactive and ErrNoPulse tell callers to fall back to the content
	// store's own search.
	ErrInactive = errors.New("search engine is not active")
	ErrNoPulse  = errors.New("search engine has no pulse")
)

const (
	outcomeSuccess  = "success"
	outcomeInactive = "inactive"
	outcomeNoPulse  = "no_pulse"
	outcomeError    = "error"
)

type Engine interface {
	Search(ctx context.Context, query any) (*searchdb.SearchResponse, error)
}

type ActiveFlag interface {
	IsActive(ctx context.Context) (bool, error)
}

type PulseChecker interface {
	HasPulse(ctx context.Context, threshold string) bool
}

// QueryPostProcessor may rewrite the engine query before it is sent.
type QueryPostProcessor interface {
	Process(ctx context.Context, req *query.Request, dsl query.DSL) (query.DSL, error)
}

type QueryPostProcessorFunc func(ctx context.Context, req *query.Request, dsl query.DSL) (query.DSL, error)

func (f QueryPostProcessorFunc) Process(ctx context.Context, req *query.Request, dsl query.DSL) (query.DSL, error) {
	return f(ctx, req, dsl)
}

type Defaults struct {
	PerPage    int
	FacetCount int
	Fields     []string
}

func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		PerPage:    cfg.GetDefaultResultsPerPage(),
		FacetCount: cfg.GetDefaultFacetCount(),
		Fields:     cfg.GetSearchFields(),
	}
}

type Result struct {
	ID     string          `json:"id"`
	Score  *float64        `json:"score,omitempty"`
	Source json.RawMessage `json:"source"`
}

type Response struct {
	Results []Result      `json:"results"`
	Total   int64         `json:"total"`
	From    int           `json:"from"`
	Size    int           `json:"size"`
	Took    int           `json:"took"`
	Facets  facets.Result `json:"facets,omitempty"`
}

type Service struct {
	logger    logger.Logger
	engine    Engine
	active    ActiveFlag
	pulse     PulseChecker
	resolver  *facets.Resolver
	processor QueryPostProcessor
	metrics   *metrics.Metrics
	defaults  Defaults
}

func New(logger logger.Logger, engine Engine, active ActiveFlag, pulse PulseChecker, resolver *facets.Resolver, m *metrics.Metrics, defaults Defaults) *Service {
	return &Service{
		logger:   logger,
		engine:   engine,
		active:   active,
		pulse:    pulse,
		resolver: resolver,
		metrics:  m,
		defaults: defaults,
	}
}

func (s *Service) SetPostProcessor(processor QueryPostProcessor) {
	s.processor = processor
}

// Search runs a request against the engine. It refuses with ErrInactive or
// ErrNoPulse when the engine should not be trusted with searches.
func (s *Service) Search(ctx context.Context, req *query.Request) (*Response, error) {
	active, err := s.active.IsActive(ctx)
	if err != nil {
		s.metrics.ObserveSearch(outcomeError)
		return nil, fmt.Errorf("failed to read active flag: %w", err)
	}
	if !active {
		s.metrics.ObserveSearch(outcomeInactive)
		return nil, ErrInactive
	}
	if s.pulse != nil && !s.pulse.HasPulse(ctx, health.StatusShutdown) {
		s.metrics.ObserveSearch(outcomeNoPulse)
		return nil, ErrNoPulse
	}

	req = s.withDefaults(req)

	dsl, err := query.Translate(req)
	if err != nil {
		s.metrics.ObserveSearch(outcomeError)
		return nil, err
	}
	if s.processor != nil {
		if dsl, err = s.processor.Process(ctx, req, dsl); err != nil {
			s.metrics.ObserveSearch(outcomeError)
			return nil, fmt.Errorf("query post-processing failed: %w", err)
		}
	}

	engineResponse, err := s.engine.Search(ctx, dsl)
	if err != nil {
		s.logger.Error("search request failed", "err", err.Error())
		s.metrics.ObserveSearch(outcomeError)
		return nil, err
	}

	response := &Response{
		Results: extractHits(engineResponse),
		Total:   engineResponse.Hits.Total.Value,
		From:    req.From(),
		Size:    req.Size(),
		Took:    engineResponse.Took,
	}
	if len(req.Facets) > 0 && s.resolver != nil {
		response.Facets = s.resolver.Resolve(ctx, engineResponse.Aggregations, req.Facets, facets.CurrentFromRequest(req), facets.Options{})
	}

	s.metrics.ObserveSearch(outcomeSuccess)
	return response, nil
}

// withDefaults returns a copy of req with configured defaults filled in.
func (s *Service) withDefaults(req *query.Request) *query.Request {
	r := *req
	if r.PostsPerPage == 0 && s.defaults.PerPage > 0 {
		r.PostsPerPage = s.defaults.PerPage
	}
	if len(r.Fields) == 0 && len(s.defaults.Fields) > 0 {
		r.Fields = s.defaults.Fields
	}
	if len(r.Facets) > 0 && s.defaults.FacetCount > 0 {
		r.Facets = maps.Clone(r.Facets)
		for label, facet := range r.Facets {
			if facet.Count == 0 {
				facet.Count = s.defaults.FacetCount
				r.Facets[label] = facet
			}
		}
	}
	return &r
}

func extractHits(response *searchdb.SearchResponse) []Result {
	results := make([]Result, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		results = append(results, Result{
			ID:     hit.ID,
			Score:  hit.Score,
			Source: hit.Source,
		})
	}
	return results
}
