package access

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/storygate/internal/story"
)

// Session is the state of one reader screen for one user.
//
// It owns the loaded cohort and the grants made while the screen is up. A
// grant made in this session keeps its story revealed even if the ledger
// write behind it failed. Once Close is called, results of operations that
// were still in flight are discarded and reported as ErrSessionClosed.
//
// Thread-safety: Session is safe for concurrent use.
type Session struct {
	userID   string
	resolver *Resolver
	catalog  Catalog
	rewards  RewardSource

	mu      sync.Mutex
	cohort  story.Cohort
	granted map[string]story.Method
	closed  bool
}

// NewSession creates a session for userID.
func NewSession(userID string, resolver *Resolver, catalog Catalog, rewards RewardSource) *Session {
	return &Session{
		userID:   userID,
		resolver: resolver,
		catalog:  catalog,
		rewards:  rewards,
		granted:  make(map[string]story.Method),
	}
}

// UserID returns the session's user.
func (s *Session) UserID() string {
	return s.userID
}

// Load fetches the cohort for date and makes it the current lineup.
func (s *Session) Load(ctx context.Context, date string) (story.Cohort, error) {
	stories, err := s.catalog.ListForDate(ctx, date)
	if err != nil {
		return story.Cohort{}, newError(KindTransientFetch, "list stories", s.userID, "", err)
	}
	cohort, err := story.NewCohort(date, stories)
	if err != nil {
		return story.Cohort{}, fmt.Errorf("load cohort: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return story.Cohort{}, ErrSessionClosed
	}
	s.cohort = cohort
	return cohort, nil
}

// Refresh re-fetches the current cohort's date. In-session grants survive.
func (s *Session) Refresh(ctx context.Context) (story.Cohort, error) {
	s.mu.Lock()
	date := s.cohort.Date
	s.mu.Unlock()
	if date == "" {
		return story.Cohort{}, fmt.Errorf("refresh: no cohort loaded")
	}
	return s.Load(ctx, date)
}

// Cohort returns the current lineup.
func (s *Session) Cohort() story.Cohort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cohort
}

// Open resolves the story at position in the current cohort.
func (s *Session) Open(ctx context.Context, position int) (Resolution, error) {
	st, granted, err := s.lookup(position)
	if err != nil {
		return Resolution{}, err
	}

	res, err := s.resolver.Resolve(ctx, Request{UserID: s.userID, Story: st, Granted: granted})
	if applyErr := s.apply(res, err); applyErr != nil {
		return Resolution{}, applyErr
	}
	return res, err
}

// WatchAd runs the reward flow for the story at position.
func (s *Session) WatchAd(ctx context.Context, position int) (Resolution, error) {
	st, granted, err := s.lookup(position)
	if err != nil {
		return Resolution{}, err
	}

	res, err := s.resolver.UnlockWithAd(ctx, Request{UserID: s.userID, Story: st, Granted: granted}, s.rewards)
	if applyErr := s.apply(res, err); applyErr != nil {
		return Resolution{}, applyErr
	}
	return res, err
}

// Granted returns the method of an in-session grant for storyID.
func (s *Session) Granted(storyID string) (story.Method, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.granted[storyID]
	return m, ok
}

// Close tears the session down. Later results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) lookup(position int) (story.Story, story.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return story.Story{}, "", ErrSessionClosed
	}
	st, ok := s.cohort.At(position)
	if !ok {
		return story.Story{}, "", fmt.Errorf("position %d: %w", position, ErrUnknownStory)
	}
	return st, s.granted[st.ID], nil
}

// apply records a revealed result as an in-session grant, unless the
// session closed while the operation was in flight.
func (s *Session) apply(res Resolution, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if res.Revealed() && res.Method.Valid() && (err == nil || IsTransient(err)) {
		s.granted[res.Story.ID] = res.Method
	}
	return nil
}
