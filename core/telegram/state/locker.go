package state

import (
	"context"
	"sync"
)

// Locker hands out one mutex per session id. Entries are dropped once
// nobody holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker constructs an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*keyLock)}
}

// Lock blocks until the session lock for id is acquired or ctx is done.
// The returned function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, id int64) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[id]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[id] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(id, kl)
		})
	}, nil
}

func (l *Locker) release(id int64, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, id)
	}
}

// Len reports how many session ids currently have holders or waiters.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
