package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"spadesk/internal/metrics"
)

// recoveryInterval is how long the fallback serves before the primary is retried.
const recoveryInterval = time.Minute

// FailoverLocker uses primary until it fails with a transport error, then serves
// from fallback and retries primary once per recoveryInterval.
type FailoverLocker struct {
	primary  Locker
	fallback Locker
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

var _ Locker = (*FailoverLocker)(nil)

// NewFailoverLocker creates a failover locker.
func NewFailoverLocker(primary, fallback Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{primary: primary, fallback: fallback, logger: logger}
}

func (f *FailoverLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	if f.usePrimary() {
		unlock, err := f.primary.Lock(ctx, keys...)
		if err == nil {
			f.markUp()
			return unlock, nil
		}
		// Contention and caller cancellation are not outages.
		if errors.Is(err, ErrLockTimeout) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		f.markDown(err)
	}
	return f.fallback.Lock(ctx, keys...)
}

func (f *FailoverLocker) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) > recoveryInterval {
		f.lastCheck = time.Now()
		return true
	}
	return false
}

func (f *FailoverLocker) markDown(err error) {
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
	if !f.isDown.Swap(true) {
		f.logger.Warn().Err(err).Msg("primary locker failed, switching to local fallback")
		metrics.SetLockFallback(true)
	}
}

func (f *FailoverLocker) markUp() {
	if f.isDown.Swap(false) {
		f.logger.Info().Msg("primary locker recovered")
		metrics.SetLockFallback(false)
	}
}

// Degraded reports whether the fallback is serving.
func (f *FailoverLocker) Degraded() bool {
	return f.isDown.Load()
}
