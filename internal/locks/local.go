package locks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates a locker. timeout <= 0 waits as long as ctx allows.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot), timeout: timeout}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	keys = normalize(keys)
	acquired := make([]string, 0, len(keys))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			l.release(acquired[i])
		}
	}

	for _, k := range keys {
		s := l.ref(k)
		select {
		case s.ch <- struct{}{}:
			acquired = append(acquired, k)
		case <-ctx.Done():
			l.unref(k)
			release()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrLockTimeout
			}
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *LocalLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.unref(key)
}
