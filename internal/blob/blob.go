// Package blob keeps the raw bytes of uploaded demo documents.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for unknown document ids.
var ErrNotFound = errors.New("document not found")

// Store holds opaque document payloads keyed by a generated id.
// Delete is idempotent: removing a missing document is not an error.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
