// Package lockfile wraps gofrs/flock for the supervisor's advisory lock
// that enforces a single live supervisor instance per database.
package lockfile

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrHeld is returned by TryLock when another process already holds the lock.
var ErrHeld = fmt.Errorf("lock already held by another process")

// Lock is a named advisory file lock.
type Lock struct {
	f *flock.Flock
}

// New returns a Lock backed by the file at path. The file is created if
// absent and never removed -- only its lock state matters.
func New(path string) *Lock {
	return &Lock{f: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking, returning ErrHeld
// if another process holds it.
func (l *Lock) TryLock() error {
	ok, err := l.f.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", l.f.Path(), err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Lock blocks, polling every 100ms, until the lock is acquired or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	ok, err := l.f.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("locking %s: %w", l.f.Path(), err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Unlock releases the lock. Safe to call even if the lock was never acquired.
func (l *Lock) Unlock() error {
	return l.f.Unlock()
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool {
	return l.f.Locked()
}
