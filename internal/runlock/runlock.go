// Package runlock keeps one integration run per site database at a time.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by Run when another holder owns the lock.
var ErrLocked = errors.New("run lock held by another process")

// Locker is a named, expiring mutual-exclusion lock.
type Locker interface {
	// Acquire takes the lock for ttl. It returns false if another owner
	// holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release drops the lock if this owner holds it.
	Release(ctx context.Context, name string) error
}

// Run acquires name, runs fn and releases it. It returns ErrLocked without
// calling fn if the lock is taken.
func Run(ctx context.Context, l Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ok, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrLocked)
	}
	defer func() {
		// Release even when ctx was cancelled during fn.
		_ = l.Release(context.WithoutCancel(ctx), name)
	}()
	return fn(ctx)
}

// newOwnerID identifies a lock holder as hostname:pid:uuid.
func newOwnerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString())
}

// Local is an in-process Locker, for single-process deployments and tests.
type Local struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

var _ Locker = (*Local)(nil)

// NewLocal creates an in-process lock table.
func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), clock: time.Now}
}

func (l *Local) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expiry, ok := l.held[name]; ok && now.Before(expiry) {
		return false, nil
	}
	l.held[name] = now.Add(ttl)
	return true, nil
}

func (l *Local) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}
