// Package docstore defines the document-store contract the rest of
// Vigil is written against, plus two implementations: an in-memory
// store for tests and mock runs, and a Postgres-backed store (jsonb
// documents with per-document sequence numbers) for deployments.
package docstore

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a conditional create hits an
	// existing document, or a compare-and-swap update loses the race.
	ErrConflict = errors.New("version conflict")
)

// Document is a stored document plus its concurrency metadata.
type Document struct {
	Index       string
	ID          string
	Source      map[string]any
	SeqNo       int64
	PrimaryTerm int64
}

// SortField orders search results by a source field.
type SortField struct {
	Field string
	Desc  bool
}

// Query is the simplified query model the store supports: exact-match
// terms, range bounds, and an optional free-text match, combined
// conjunctively. Index arguments may be patterns ("vigil-actions-*").
type Query struct {
	// Terms are exact-match filters on source fields.
	Terms map[string]any
	// Ranges are per-field bounds.
	Ranges map[string]Range
	// Match is a free-text query scored across MatchFields (or the
	// whole document when MatchFields is empty).
	Match       string
	MatchFields []string
	// MinScore drops weakly matching hits (free-text only).
	MinScore float64
	Sort     []SortField
	Size     int
}

// Range bounds a numeric or time-valued field. Nil bounds are open.
type Range struct {
	GTE any
	LTE any
}

// Hit is one search result.
type Hit struct {
	ID     string
	Score  float64
	Source map[string]any
}

// SearchResult carries hits plus the total match count.
type SearchResult struct {
	Hits   []Hit
	Total  int
	TookMS int64
}

// BulkOp is one operation in a bulk write.
type BulkOp struct {
	Index string
	ID    string // empty → generated
	Doc   any
}

// Store is the document-store contract. All implementations provide
// optimistic concurrency on Update via seq_no + primary_term, and
// conditional create semantics on Create.
type Store interface {
	// Get fetches one document. ErrNotFound if absent.
	Get(ctx context.Context, index, id string) (*Document, error)

	// Index writes a document, overwriting any existing version.
	// An empty id lets the store generate one.
	Index(ctx context.Context, index, id string, doc any) (*Document, error)

	// Create writes a document only if the id does not already
	// exist. ErrConflict if it does. This is the claim primitive.
	Create(ctx context.Context, index, id string, doc any) (*Document, error)

	// Update replaces a document iff the stored seq_no and
	// primary_term still match. ErrConflict on a lost race.
	Update(ctx context.Context, index, id string, doc any, seqNo, primaryTerm int64) (*Document, error)

	// Search runs a query against an index or index pattern.
	Search(ctx context.Context, index string, q Query) (*SearchResult, error)

	// Count returns the number of documents matching the query.
	Count(ctx context.Context, index string, q Query) (int, error)

	// DeleteByQuery removes matching documents, returning the count.
	DeleteByQuery(ctx context.Context, index string, q Query) (int, error)

	// Bulk applies a batch of index operations.
	Bulk(ctx context.Context, ops []BulkOp) error
}
