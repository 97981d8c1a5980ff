package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrEntryNotFound is returned by Store.Load when no entry exists for a key.
var ErrEntryNotFound = errors.New("idempotency entry not found")

// Entry is the cached outcome of an operation keyed by "{operation}:{key}".
type Entry struct {
	InProgress bool      `json:"in_progress"`
	Operation  string    `json:"operation"`
	Response   []byte    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store interface {
	// Reserve places an in-progress marker; false means the key already exists.
	Reserve(ctx context.Context, key string, entry Entry) (bool, error)
	Load(ctx context.Context, key string) (Entry, error)
	// Complete stores the final response under key for ttl.
	Complete(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// Release drops an in-progress marker after a failed execution so the
	// caller can retry.
	Release(ctx context.Context, key string) error
}
