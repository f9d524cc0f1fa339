// Package pending tracks in-flight ad unlocks so that at most one reward flow
// runs per (user, story) pair.
package pending

import (
	"context"
	"sync"
)

// Key returns the marker key for a (user, story) pair.
func Key(userID, storyID string) string {
	return userID + "/" + storyID
}

// Local is an in-process tracker. Safe for concurrent use.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty in-process tracker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryAcquire claims key. Returns false if it is already held.
func (l *Local) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

// Release frees key. Releasing a key that is not held is a no-op.
func (l *Local) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// Held reports whether key is currently claimed.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
