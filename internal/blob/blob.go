// Package blob stores and fetches artifact bytes by key.
package blob

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

// Store is the blob storage interface. Admission writes artifacts with Put;
// the worker reads them back with Get before dispatching to the scanner.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}
