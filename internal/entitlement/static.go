package entitlement

import (
	"context"
	"sync"

	"github.com/roach88/storygate/internal/access"
)

// Static answers from a fixed table. Unknown users are not subscribed.
type Static struct {
	mu    sync.RWMutex
	users map[string]bool
	err   error
}

// NewStatic creates a Static source with the given subscribed users.
func NewStatic(subscribed ...string) *Static {
	s := &Static{users: make(map[string]bool)}
	for _, u := range subscribed {
		s.users[u] = true
	}
	return s
}

// Set changes a user's subscription state.
func (s *Static) Set(userID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = active
}

// Fail makes every fetch return err until called with nil.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FetchEntitlement implements access.EntitlementSource.
func (s *Static) FetchEntitlement(_ context.Context, userID string) (access.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return access.Entitlement{}, s.err
	}
	return access.Entitlement{Active: s.users[userID]}, nil
}
