package searchdb

import (
	"context"
	"encoding/json"
)

// DB is the engine surface the sync and search services depend on.
type DB interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
	Put(ctx context.Context, path string, body any) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)

	BulkIndex(ctx context.Context, documents []BulkDocument) (*BulkResult, error)
	DeleteDocument(ctx context.Context, id string) error
	Search(ctx context.Context, query any) (*SearchResponse, error)
	ClusterHealth(ctx context.Context) (*ClusterHealth, error)
	Count(ctx context.Context) (int64, error)

	IndexExists(ctx context.Context) (bool, error)
	CreateIndex(ctx context.Context, settings any) error
	DeleteIndex(ctx context.Context) error

	LastRequest() LastRequest
}

// BulkDocument is one entry handed to BulkIndex. Documents with Skip set are
// removed from the index with an individual delete instead of being indexed.
type BulkDocument struct {
	ID     string
	Source any
	Skip   bool
}

type BulkItem struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Result string          `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// Succeeded reports whether the engine accepted the document.
func (i BulkItem) Succeeded() bool {
	return i.Status == 200 || i.Status == 201
}

type BulkResult struct {
	StatusCode int
	Took       int
	Errors     bool
	Items      []BulkItem
	Skipped    []string
}
