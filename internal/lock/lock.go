package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// Locker provides named mutual exclusion. Lock blocks until the lock is
// held or ctx is done; TryLock returns immediately. The returned unlock
// function is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), acquired bool, err error)
}

// SweepKey guards the knowledge-gap sweep across instances.
const SweepKey = "gaps:sweep"

// SourceKey serialises ingestion of one source.
func SourceKey(id uuid.UUID) string {
	return "ingest:source:" + id.String()
}

// Local is an in-process Locker keyed by name. Entries are dropped once no
// goroutine holds or waits for them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

func (l *Local) acquireRef(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) releaseRef(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Local) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.releaseRef(key, e)
		})
	}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquireRef(key)
	select {
	case e.sem <- struct{}{}:
		return l.unlocker(key, e), nil
	case <-ctx.Done():
		l.releaseRef(key, e)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, ctx.Err())
	}
}

// TryLock ignores ttl; an in-process lock lives until unlocked.
func (l *Local) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	e := l.acquireRef(key)
	select {
	case e.sem <- struct{}{}:
		return l.unlocker(key, e), true, nil
	default:
		l.releaseRef(key, e)
		return nil, false, nil
	}
}

// held reports the number of tracked keys.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
