// Package lock serializes critical sections by key, either across
// processes through Redis or within one process.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// caller's wait budget ran out. When the caller's context ended the wait,
// the returned error also wraps the context error.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding the lock named key. fn receives a context
// that is cancelled if the lock's lease expires.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
