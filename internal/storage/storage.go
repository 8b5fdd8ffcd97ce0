package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists under the key.
var ErrNotFound = errors.New("storage: key not found")

// KV is the durable key-value store backing the answer sheets, exam
// snapshots and the pending-submission log. Implementations must make a
// completed Set immediately visible to a subsequent Get; the engine relies
// on this to survive abrupt process death right after a write.
type KV interface {
	// Get returns the raw value under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases the underlying resources.
	Close() error
}
