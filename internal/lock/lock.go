// Package lock provides a best-effort, per-event advisory lock shared across
// service instances. It narrows the window in which two deliveries of the
// same event run their mutators concurrently; correctness still rests on the
// ledger's unique constraint and idempotent mutators.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when another owner currently holds the key.
var ErrNotAcquired = errors.New("lock: held by another owner")

// Locker acquires a named lock. The returned release func is safe to call
// once and must be called when err is nil.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Noop always succeeds. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
