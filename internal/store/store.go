// Package store provides the durable key-value collaborator used to
// persist trust records, role assignments, and vote records across
// restarts. The control plane only requires the primitive operations
// below and best-effort durability; three backends implement them:
// Redis for shared deployments, SQLite for single-node installs, and an
// in-memory map for tests.
package store

import "context"

// Store is the abstract persistence interface. Pattern syntax for Keys
// follows Redis glob matching ('*' and '?').
type Store interface {
	// Get returns the value at key, or errdefs.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes the value at key, overwriting any prior value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// HGet returns a single hash field, or errdefs.ErrNotFound.
	HGet(ctx context.Context, key, field string) (string, error)

	// HSet writes a single hash field.
	HSet(ctx context.Context, key, field, value string) error

	// HGetAll returns all fields of a hash. Missing hashes yield an
	// empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// ListPush prepends value to the list at key.
	ListPush(ctx context.Context, key, value string) error

	// ListTrim keeps only the elements between start and stop
	// (inclusive, zero-based from the head).
	ListTrim(ctx context.Context, key string, start, stop int64) error

	// ListRange returns the elements between start and stop. A stop of
	// -1 means the end of the list.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Close releases backend resources.
	Close() error
}
