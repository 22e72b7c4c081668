package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_Serializes(t *testing.T) {
	l := NewLocalLocker(0)
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), ResourceKey("s1"), LocationKey("room-1"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.slots)
}

func TestLocalLocker_Timeout(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	unlock, err := l.Lock(context.Background(), "a", "b")
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), "b", "c")
	assert.ErrorIs(t, err, ErrLockTimeout)

	// "c" must not stay held by the failed attempt.
	unlockC, err := l.Lock(context.Background(), "c")
	require.NoError(t, err)
	unlockC()

	unlock()
	unlock() // idempotent

	unlock, err = l.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlock()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker(0)
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"location:r", "resource:s"}, normalize([]string{"resource:s", "", "location:r", "resource:s"}))
}
