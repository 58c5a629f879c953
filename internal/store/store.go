// Package store persists collaborative documents.
package store

import (
	"context"
	"errors"

	"github.com/manpreetbhatti/synclink/internal/document"
)

// ErrNotFound is returned when a document id is empty, telling the caller to
// skip hydration.
var ErrNotFound = errors.New("store: document not found")

// DocumentStore is durable keyed storage for documents.
type DocumentStore interface {
	// GetOrCreate returns the stored document, creating an empty one if absent.
	GetOrCreate(ctx context.Context, id string) (*document.Document, error)
	// Upsert replaces every field of the document, creating it if needed.
	Upsert(ctx context.Context, doc *document.Document) error
	Count(ctx context.Context) (int64, error)
	Close() error
}
