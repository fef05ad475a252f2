// Package docstore provides a minimal per-key JSON document store with
// several interchangeable backends.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no document exists at the given key.
var ErrNotFound = errors.New("document not found")

// UpdateFunc receives the current body of a document (nil when the document
// does not exist) and returns the body to store. Returning a nil body leaves
// the document untouched.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store persists JSON documents addressed by collection and id.
type Store interface {
	// Get returns the raw document body or ErrNotFound.
	Get(ctx context.Context, collection, id string) ([]byte, error)

	// Put creates or replaces a document.
	Put(ctx context.Context, collection, id string, body []byte) error

	// Update performs an atomic read-modify-write of a single document.
	Update(ctx context.Context, collection, id string, fn UpdateFunc) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresURL   string
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "sqlite", "":
		return NewSQLite(opts.SQLitePath)
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	case "postgres":
		return NewPostgres(ctx, opts.PostgresURL)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown docstore backend %q", opts.Backend)
	}
}
