package document

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/logger"
	"github.com/microcosm-cc/bluemonday"
)

type Options struct {
	TokenLimit   int
	StringLimit  int
	SiteURL      string
	PostTypes    []string
	PostStatuses []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TokenLimit:   cfg.GetTokenLimit(),
		StringLimit:  cfg.GetStringLimit(),
		SiteURL:      cfg.GetSiteURL(),
		PostTypes:    cfg.GetSyncedPostTypes(),
		PostStatuses: cfg.GetSyncedPostStatuses(),
	}
}

// Mapper turns content records into engine documents.
type Mapper struct {
	logger       logger.Logger
	store        content.Store
	registry     *content.Registry
	allowList    MetaAllowList
	policy       *Policy
	stripper     *bluemonday.Policy
	tokenLimit   int
	stringLimit  int
	siteURL      string
	postTypes    []string
	postStatuses []string
}

func New(logger logger.Logger, store content.Store, registry *content.Registry, allowList MetaAllowList, policy *Policy, opts Options) *Mapper {
	if registry == nil {
		registry = content.DefaultRegistry()
	}
	if allowList == nil {
		allowList = StaticAllowList{}
	}
	if len(opts.PostStatuses) == 0 {
		opts.PostStatuses = []string{content.StatusPublish}
	}

	return &Mapper{
		logger:       logger,
		store:        store,
		registry:     registry,
		allowList:    allowList,
		policy:       policy,
		stripper:     bluemonday.StrictPolicy(),
		tokenLimit:   opts.TokenLimit,
		stringLimit:  opts.StringLimit,
		siteURL:      strings.TrimRight(opts.SiteURL, "/"),
		postTypes:    opts.PostTypes,
		postStatuses: opts.PostStatuses,
	}
}

// Map builds the document for record. A nil record maps to a nil document.
// Mapping the same record twice yields the same document.
func (m *Mapper) Map(ctx context.Context, record *content.Record) (*Post, error) {
	if record == nil {
		return nil, nil
	}

	post := &Post{
		ID:           record.ID,
		Date:         NewDate(record.Date),
		DateGMT:      NewDate(record.DateGMT),
		Modified:     NewDate(record.Modified),
		ModifiedGMT:  NewDate(record.ModifiedGMT),
		Title:        m.limitText(record.Title, true),
		Excerpt:      m.limitText(m.plainText(record.Excerpt), true),
		Content:      m.limitText(m.plainText(record.Content), false),
		Status:       record.Status,
		Parent:       record.Parent,
		Type:         record.Type,
		Name:         record.Name,
		MimeType:     record.MimeType,
		MenuOrder:    record.MenuOrder,
		CommentCount: record.CommentCount,
		Permalink:    m.permalink(record),
		Terms:        map[string][]Term{},
		Meta:         map[string][]MetaValue{},
	}

	author, err := m.author(ctx, record.AuthorID)
	if err != nil {
		return nil, err
	}
	post.Author = author

	if record.Parent > 0 {
		parentStatus, err := m.store.GetPostStatus(ctx, record.Parent)
		if err != nil && !errors.Is(err, content.ErrNotFound) {
			m.logger.Error("could not get parent status", "post_id", record.ID, "parent", record.Parent, "err", err.Error())
			return nil, fmt.Errorf("failed to get parent status of post %d: %w", record.ID, err)
		}
		post.ParentStatus = parentStatus
	}

	if taxonomies := m.registry.TaxonomiesFor(record.Type); len(taxonomies) > 0 {
		terms, err := m.store.GetTerms(ctx, record, taxonomies)
		if err != nil {
			m.logger.Error("could not get terms", "post_id", record.ID, "err", err.Error())
			return nil, fmt.Errorf("failed to get terms of post %d: %w", record.ID, err)
		}
		for taxonomy, list := range terms {
			for _, term := range list {
				post.Terms[taxonomy] = append(post.Terms[taxonomy], Term{TermID: term.ID, Slug: term.Slug, Name: term.Name, Parent: term.Parent})
			}
		}
	}

	meta, err := m.store.GetMetadata(ctx, record.ID)
	if err != nil {
		m.logger.Error("could not get meta", "post_id", record.ID, "err", err.Error())
		return nil, fmt.Errorf("failed to get meta of post %d: %w", record.ID, err)
	}
	post.Meta = m.mapMeta(record.Type, meta)

	return post, nil
}

// ShouldIndex reports whether post belongs in the index. Attachments and
// other children with status inherit take their parent's status.
func (m *Mapper) ShouldIndex(post *Post) bool {
	if post == nil {
		return false
	}
	if len(m.postTypes) > 0 && !slices.Contains(m.postTypes, post.Type) {
		return false
	}
	if !slices.Contains(m.postStatuses, EffectiveStatus(post)) {
		return false
	}

	allowed, err := m.policy.Allows(post)
	if err != nil {
		m.logger.Warn("index filter failed, not indexing post", "post_id", post.ID, "err", err.Error())
		return false
	}
	return allowed
}

// EffectiveStatus is the post's own status, or its parent's when the post
// inherits. An inheriting post with no parent status counts as published.
func EffectiveStatus(post *Post) string {
	if post.Status != content.StatusInherit {
		return post.Status
	}
	if post.ParentStatus == "" {
		return content.StatusPublish
	}
	return post.ParentStatus
}

func (m *Mapper) author(ctx context.Context, id int64) (*Author, error) {
	if id <= 0 {
		return nil, nil
	}

	found, err := m.store.GetAuthor(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		return &Author{UserID: id}, nil
	}
	if err != nil {
		m.logger.Error("could not get author", "author_id", id, "err", err.Error())
		return nil, fmt.Errorf("failed to get author %d: %w", id, err)
	}

	return &Author{
		UserID:      found.ID,
		Login:       found.Login,
		DisplayName: found.DisplayName,
		Nicename:    found.Nicename,
	}, nil
}

func (m *Mapper) mapMeta(postType string, meta map[string][]any) map[string][]MetaValue {
	result := map[string][]MetaValue{}

	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		casts, ok := m.allowList.Casts(postType, key)
		if !ok || len(casts) == 0 {
			continue
		}
		for _, value := range meta[key] {
			cast := m.castMeta(value, casts)
			if cast.isEmpty() {
				continue
			}
			result[key] = append(result[key], cast)
		}
	}

	return result
}

func (m *Mapper) plainText(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m.stripper.Sanitize(text)))
}

func (m *Mapper) limitText(text string, truncateToLimit bool) string {
	if truncateToLimit {
		text = truncate(text, m.stringLimit)
	}
	return limitWordLength(text, m.tokenLimit)
}

func (m *Mapper) permalink(record *content.Record) string {
	if m.siteURL == "" {
		return ""
	}
	id := strconv.FormatInt(record.ID, 10)
	switch {
	case record.Type == "attachment":
		return m.siteURL + "/?attachment_id=" + id
	case record.Name == "":
		return m.siteURL + "/?p=" + id
	case record.Type == "post", record.Type == "page":
		return m.siteURL + "/" + record.Name + "/"
	default:
		return m.siteURL + "/" + record.Type + "/" + record.Name + "/"
	}
}
