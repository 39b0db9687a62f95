// Package lock guards a collection cycle so only one runs per integration at a time.
package lock

import (
	"context"
	"sync"
)

// Locker hands out non-blocking, per-key exclusive locks
type Locker interface {
	// TryAcquire returns acquired=false without error when the key is already held.
	// release is non-nil only when the lock was acquired and is safe to call once.
	TryAcquire(ctx context.Context, key string) (release func(), acquired bool, err error)
	Close() error
}

// Local is an in-process Locker
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process Locker
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

func (l *Local) Close() error {
	return nil
}
