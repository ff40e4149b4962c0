// Package content describes the records the content store hands to the sync
// pipeline and the site registry (taxonomies and post types) the search side
// needs to turn engine buckets back into links.
package content

import (
	"context"
	"errors"
	"time"
)

const StatusInherit = "inherit"
const StatusPublish = "publish"

var ErrNotFound = errors.New("content not found")

// Record is a post as stored by the content store.
type Record struct {
	ID           int64
	AuthorID     int64
	Date         time.Time
	DateGMT      time.Time
	Modified     time.Time
	ModifiedGMT  time.Time
	Title        string
	Excerpt      string
	Content      string
	Status       string
	Name         string
	Type         string
	MimeType     string
	Parent       int64
	MenuOrder    int
	CommentCount int
	Password     string
}

type Author struct {
	ID          int64
	Login       string
	DisplayName string
	Nicename    string
}

type Term struct {
	ID       int64
	Taxonomy string
	Slug     string
	Name     string
	Parent   int64
}

// Store is the content-store collaborator. Records must come back ordered by
// id ascending so that offset paging is stable across batches.
type Store interface {
	Count(ctx context.Context) (int, error)
	GetRecords(ctx context.Context, offset int, limit int) ([]*Record, error)
	GetRecord(ctx context.Context, id int64) (*Record, error)
	GetPostStatus(ctx context.Context, id int64) (string, error)
	GetMetadata(ctx context.Context, id int64) (map[string][]any, error)
	GetTerms(ctx context.Context, record *Record, taxonomies []string) (map[string][]Term, error)
	GetAuthor(ctx context.Context, id int64) (*Author, error)
	GetUserByLogin(ctx context.Context, login string) (*Author, error)
	GetTermBySlug(ctx context.Context, taxonomy string, slug string) (*Term, error)
	Close() error
}
