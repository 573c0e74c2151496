// Package lock provides a keyed mutex that serializes moderation actions per subject.
package lock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Unlock releases a held subject lock. Calling it more than once is a no-op.
type Unlock func()

type entry struct {
	sem  chan struct{}
	refs int // guarded by the map's per-key Compute
}

// SubjectLocker hands out one exclusive lock per subject id. Entries are
// reference counted and removed once nobody holds or waits for them.
type SubjectLocker struct {
	entries *xsync.MapOf[uint64, *entry]
}

// New creates an empty SubjectLocker.
func New() *SubjectLocker {
	return &SubjectLocker{
		entries: xsync.NewMapOf[uint64, *entry](),
	}
}

// Lock blocks until the subject's lock is held or ctx is done.
func (l *SubjectLocker) Lock(ctx context.Context, subject uint64) (Unlock, error) {
	e := l.retain(subject)

	select {
	case e.sem <- struct{}{}:
		return l.unlocker(subject, e), nil
	case <-ctx.Done():
		l.release(subject)
		return nil, ctx.Err()
	}
}

// TryLock acquires the subject's lock only if it is free.
func (l *SubjectLocker) TryLock(subject uint64) (Unlock, bool) {
	e := l.retain(subject)

	select {
	case e.sem <- struct{}{}:
		return l.unlocker(subject, e), true
	default:
		l.release(subject)
		return nil, false
	}
}

// Len returns the number of subjects currently held or waited on.
func (l *SubjectLocker) Len() int {
	return l.entries.Size()
}

func (l *SubjectLocker) unlocker(subject uint64, e *entry) Unlock {
	var once sync.Once

	return func() {
		once.Do(func() {
			<-e.sem
			l.release(subject)
		})
	}
}

func (l *SubjectLocker) retain(subject uint64) *entry {
	e, _ := l.entries.Compute(subject, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{sem: make(chan struct{}, 1)}
		}

		old.refs++

		return old, false
	})

	return e
}

func (l *SubjectLocker) release(subject uint64) {
	l.entries.Compute(subject, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}

		old.refs--

		return old, old.refs <= 0
	})
}
