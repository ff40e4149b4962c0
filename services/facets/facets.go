// Package facets turns engine aggregation buckets into facet items that link
// back to filtered searches.
package facets

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/services/query"
)

// Lookup resolves bucket keys back to content.
type Lookup interface {
	GetUserByLogin(ctx context.Context, login string) (*content.Author, error)
	GetTermBySlug(ctx context.Context, taxonomy string, slug string) (*content.Term, error)
}

type Result map[string]Facet

// Facet echoes the requested facet alongside its items.
type Facet struct {
	query.Facet
	Items []Item `json:"items"`
}

type Item struct {
	QueryVars map[string]string `json:"query_vars"`
	Name      string            `json:"name"`
	Count     int64             `json:"count"`
	Selected  bool              `json:"selected"`
}

// Current is what the active search already filters on.
type Current struct {
	Terms     map[string][]string
	PostTypes []string
	Authors   []int64
	Year      int
	Month     int
	Day       int
}

// CurrentFromRequest reads the active selection off a search request.
func CurrentFromRequest(req *query.Request) Current {
	current := Current{
		PostTypes: req.PostType,
		Authors:   req.Author,
		Year:      req.Year,
		Month:     req.MonthNum,
		Day:       req.Day,
	}
	for taxonomy, value := range req.Terms {
		slugs := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == '+' || r == ' ' })
		if len(slugs) == 0 {
			continue
		}
		if current.Terms == nil {
			current.Terms = map[string][]string{}
		}
		current.Terms[taxonomy] = slugs
	}
	return current
}

// Options apply to every facet of one Resolve call, on top of each facet's
// own flags.
type Options struct {
	ExcludeCurrent    bool
	JoinExistingTerms bool
}

type Resolver struct {
	logger   logger.Logger
	registry *content.Registry
	lookup   Lookup
}

func New(logger logger.Logger, registry *content.Registry, lookup Lookup) *Resolver {
	if registry == nil {
		registry = content.DefaultRegistry()
	}
	return &Resolver{
		logger:   logger,
		registry: registry,
		lookup:   lookup,
	}
}

type bucket struct {
	Key      json.RawMessage `json:"key"`
	DocCount int64           `json:"doc_count"`
}

type aggregation struct {
	Buckets []bucket `json:"buckets"`
}

// Resolve builds the facet result for every requested facet. Facets with no
// aggregation in the response get an empty item list. Buckets that cannot be
// resolved are skipped.
func (r *Resolver) Resolve(ctx context.Context, aggs map[string]json.RawMessage, facets map[string]query.Facet, current Current, opts Options) Result {
	result := make(Result, len(facets))

	for label, facet := range facets {
		resolved := Facet{Facet: facet, Items: []Item{}}

		raw, ok := aggs[label]
		if !ok {
			result[label] = resolved
			continue
		}
		var agg aggregation
		if err := json.Unmarshal(raw, &agg); err != nil {
			r.logger.Warn("could not parse aggregation", "facet", label, "err", err.Error())
			result[label] = resolved
			continue
		}

		buckets := agg.Buckets
		if len(buckets) > facet.Size() {
			buckets = buckets[:facet.Size()]
		}

		switch facet.Type {
		case query.FacetTaxonomy:
			resolved.Items = r.taxonomyItems(ctx, facet, buckets, current, opts)
		case query.FacetPostType:
			resolved.Items = r.postTypeItems(buckets, current)
		case query.FacetAuthor:
			resolved.Items = r.authorItems(ctx, buckets, current)
		case query.FacetDateHistogram:
			resolved.Items = dateItems(facet, buckets, current)
		default:
			r.logger.Warn("unknown facet type", "facet", label, "type", facet.Type)
		}

		result[label] = resolved
	}

	return result
}

func (r *Resolver) taxonomyItems(ctx context.Context, facet query.Facet, buckets []bucket, current Current, opts Options) []Item {
	items := []Item{}
	taxonomy, ok := r.registry.Taxonomy(facet.Taxonomy)
	if !ok {
		r.logger.Warn("facet taxonomy is not registered", "taxonomy", facet.Taxonomy)
		return items
	}

	selected := current.Terms[taxonomy.Name]
	excludeCurrent := facet.ExcludeCurrent || opts.ExcludeCurrent
	join := facet.JoinExistingTerms || opts.JoinExistingTerms

	for _, b := range buckets {
		slug, ok := stringKey(b.Key)
		if !ok {
			continue
		}
		term, err := r.lookup.GetTermBySlug(ctx, taxonomy.Name, slug)
		if err != nil {
			if !errors.Is(err, content.ErrNotFound) {
				r.logger.Warn("could not look up facet term", "taxonomy", taxonomy.Name, "slug", slug, "err", err.Error())
			}
			continue
		}

		isSelected := slices.Contains(selected, slug)
		if isSelected && excludeCurrent {
			continue
		}

		value := slug
		if join {
			// selecting an item adds it to the selection, a selected item removes itself
			var slugs []string
			if isSelected {
				slugs = slices.DeleteFunc(slices.Clone(selected), func(s string) bool { return s == slug })
			} else {
				slugs = append(slices.Clone(selected), slug)
			}
			value = strings.Join(slugs, taxonomy.JoinSeparator())
		}

		// deselecting the last joined term clears the filter
		queryVars := map[string]string{}
		if value != "" {
			queryVars[taxonomy.QueryVar] = value
		}

		items = append(items, Item{
			QueryVars: queryVars,
			Name:      term.Name,
			Count:     b.DocCount,
			Selected:  isSelected,
		})
	}
	return items
}

func (r *Resolver) postTypeItems(buckets []bucket, current Current) []Item {
	items := []Item{}
	for _, b := range buckets {
		name, ok := stringKey(b.Key)
		if !ok {
			continue
		}
		postType, ok := r.registry.PostType(name)
		if !ok || postType.ExcludeFromSearch {
			continue
		}
		label := postType.SingularLabel
		if label == "" {
			label = postType.Name
		}
		items = append(items, Item{
			QueryVars: map[string]string{"post_type": name},
			Name:      label,
			Count:     b.DocCount,
			Selected:  slices.Contains(current.PostTypes, name),
		})
	}
	return items
}

func (r *Resolver) authorItems(ctx context.Context, buckets []bucket, current Current) []Item {
	items := []Item{}
	for _, b := range buckets {
		login, ok := stringKey(b.Key)
		if !ok {
			continue
		}
		author, err := r.lookup.GetUserByLogin(ctx, login)
		if err != nil {
			if !errors.Is(err, content.ErrNotFound) {
				r.logger.Warn("could not look up facet author", "login", login, "err", err.Error())
			}
			continue
		}
		items = append(items, Item{
			QueryVars: map[string]string{"author": strconv.FormatInt(author.ID, 10)},
			Name:      author.DisplayName,
			Count:     b.DocCount,
			Selected:  slices.Contains(current.Authors, author.ID),
		})
	}
	return items
}

func dateItems(facet query.Facet, buckets []bucket, current Current) []Item {
	items := []Item{}
	for _, b := range buckets {
		var millis int64
		if err := json.Unmarshal(b.Key, &millis); err != nil {
			continue
		}
		date := time.UnixMilli(millis).UTC()
		year := strconv.Itoa(date.Year())
		month := strconv.Itoa(int(date.Month()))

		item := Item{Count: b.DocCount}
		switch facet.Interval {
		case query.IntervalYear:
			item.QueryVars = map[string]string{"year": year}
			item.Name = date.Format("2006")
			item.Selected = current.Year == date.Year()
		case query.IntervalMonth:
			item.QueryVars = map[string]string{"year": year, "monthnum": month}
			item.Name = date.Format("January 2006")
			item.Selected = current.Year == date.Year() && current.Month == int(date.Month())
		case query.IntervalDay:
			item.QueryVars = map[string]string{"year": year, "monthnum": month, "day": strconv.Itoa(date.Day())}
			item.Name = date.Format("January 2, 2006")
			item.Selected = current.Year == date.Year() && current.Month == int(date.Month()) && current.Day == date.Day()
		default:
			continue
		}
		items = append(items, item)
	}
	return items
}

func stringKey(raw json.RawMessage) (string, bool) {
	var key string
	if err := json.Unmarshal(raw, &key); err != nil || key == "" {
		return "", false
	}
	return key, true
}
