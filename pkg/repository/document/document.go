// Package document is the store adapter behind the query engine: CRUD and
// predicate queries over named collections of opaque JSON documents.
package document

import (
	"context"
	"errors"

	"github.com/nimburion/mds/pkg/query"
)

// Document is a stored payload. The engine only reads its reference fields.
type Document map[string]interface{}

var (
	// ErrNotFound is returned when no document has the requested key.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when inserting a key that already exists.
	ErrDuplicate = errors.New("document already exists")
	// ErrMissingKey is returned when a document lacks its primary key.
	ErrMissingKey = errors.New("document has no primary key")
)

// SortOrder defines the direction of sorting.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Sort specifies field and direction for sorting results.
type Sort struct {
	Field query.Field
	Order SortOrder
}

// Page bounds a Find. After, when set, restricts results to keys strictly
// greater than After in the sort field; it is applied before Offset.
// Limit <= 0 means no limit.
type Page struct {
	Offset int
	Limit  int
	After  string
}

// Reader provides read operations over collections.
type Reader interface {
	Find(ctx context.Context, c query.Collection, p query.Predicate, sort Sort, page Page) ([]Document, error)
	Count(ctx context.Context, c query.Collection, p query.Predicate) (int64, error)
	Get(ctx context.Context, c query.Collection, id string) (Document, error)
	// CountBy groups the collection by field and counts each value.
	CountBy(ctx context.Context, c query.Collection, field query.Field) (map[string]int64, error)
}

// Writer provides write operations over collections.
type Writer interface {
	// Insert stores a new document and returns its primary key.
	Insert(ctx context.Context, c query.Collection, doc Document) (string, error)
	// Put replaces the document stored under id.
	Put(ctx context.Context, c query.Collection, id string, doc Document) error
	Delete(ctx context.Context, c query.Collection, id string) error
}

// Store combines Reader and Writer with lifecycle hooks.
type Store interface {
	Reader
	Writer
	HealthCheck(ctx context.Context) error
	Close() error
}

// DefaultSort orders a collection by its primary key ascending.
func DefaultSort(c query.Collection) Sort {
	return Sort{Field: c.PrimaryKey(), Order: SortAsc}
}
