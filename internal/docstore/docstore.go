// Package docstore is the document store shiplog writes build reports
// into: opaque JSON documents keyed by (index, id), where indices are
// created from templates and report their size for rotation decisions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrIndexNotFound = errors.New("index not found")
	ErrIndexExists   = errors.New("index already exists")
)

// Template is the settings/mapping payload applied when an index is created.
type Template struct {
	Settings map[string]string `json:"settings"`
	Mapping  json.RawMessage   `json:"mapping"`
}

// IndexInfo describes one index and its settings. Settings always
// include "creation_date", the index creation time in epoch millis,
// stamped by the store.
type IndexInfo struct {
	Name     string
	Settings map[string]string
}

// IndexStats reports per-index storage numbers. SizeBytes is nil when
// the store cannot report a size for the index.
type IndexStats struct {
	Docs      int64
	SizeBytes *int64
}

// Query is a structured search: exact-match terms ANDed together,
// optionally sorted ascending by a numeric field and limited.
// Term and sort fields address document fields, nested via ".".
type Query struct {
	Terms     map[string]string
	SortField string
	Limit     int
}

// Hit is one search result.
type Hit struct {
	Index  string
	ID     string
	Source json.RawMessage
}

// Doc is one document in a bulk write.
type Doc struct {
	ID   string
	Body json.RawMessage
}

// Store defines the interface for all document store operations.
// Index search patterns support a single trailing "*" wildcard; a
// pattern matching no index yields ErrIndexNotFound. Put's refresh
// flag asks for the write to be searchable before the call returns;
// the relational backends are always read-after-write consistent.
type Store interface {
	// Indices
	ListIndices(ctx context.Context, pattern string) ([]IndexInfo, error)
	CreateIndex(ctx context.Context, name string, tmpl Template) error
	DeleteIndex(ctx context.Context, name string) error
	Stats(ctx context.Context, index string) (*IndexStats, error)

	// Documents
	Put(ctx context.Context, index, id string, body json.RawMessage, refresh bool) error
	Get(ctx context.Context, index, id string) (json.RawMessage, error)
	Search(ctx context.Context, pattern string, q Query) ([]Hit, error)
	Count(ctx context.Context, pattern string, q Query) (int64, error)
	Bulk(ctx context.Context, index string, docs []Doc) error

	// Lifecycle
	Close() error
}

// matchesPattern reports whether an index name matches a search pattern.
// A trailing "*" matches any suffix; anything else is an exact match.
func matchesPattern(name, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern
}

// fieldSegments splits a query field like "ord.total" into path segments.
func fieldSegments(field string) []string {
	return strings.Split(field, ".")
}
