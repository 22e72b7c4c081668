// Package locks serializes mutations on the same resource or location.
package locks

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrLockTimeout is returned when a key could not be acquired in time.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker acquires a set of keys at once. The returned function releases all of them.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// ResourceKey and LocationKey build lock keys.
func ResourceKey(ref string) string { return "resource:" + ref }
func LocationKey(ref string) string { return "location:" + ref }

// normalize sorts and deduplicates keys so every caller acquires in the same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// withTimeout bounds ctx by d when d > 0.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
