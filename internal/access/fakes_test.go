package access

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/storygate/internal/story"
)

var errBoom = errors.New("boom")

type fakeLedger struct {
	mu       sync.Mutex
	records  map[string]map[string]story.Unlock
	writes   []story.Unlock
	readErr  error
	writeErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]map[string]story.Unlock)}
}

func (l *fakeLedger) Unlocks(_ context.Context, userID string) (map[string]story.Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	out := make(map[string]story.Unlock, len(l.records[userID]))
	for k, v := range l.records[userID] {
		out[k] = v
	}
	return out, nil
}

func (l *fakeLedger) RecordUnlock(_ context.Context, u story.Unlock) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, u)
	if l.writeErr != nil {
		return l.writeErr
	}
	if l.records[u.UserID] == nil {
		l.records[u.UserID] = make(map[string]story.Unlock)
	}
	if _, ok := l.records[u.UserID][u.StoryID]; !ok {
		l.records[u.UserID][u.StoryID] = u
	}
	return nil
}

func (l *fakeLedger) seed(u story.Unlock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records[u.UserID] == nil {
		l.records[u.UserID] = make(map[string]story.Unlock)
	}
	l.records[u.UserID][u.StoryID] = u
}

func (l *fakeLedger) writeLog() []story.Unlock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]story.Unlock(nil), l.writes...)
}

func (l *fakeLedger) record(userID, storyID string) (story.Unlock, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.records[userID][storyID]
	return u, ok
}

func (l *fakeLedger) setWriteErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = err
}

type fakeEntitlements struct {
	mu     sync.Mutex
	active map[string]bool
	err    error
	calls  int
}

func newFakeEntitlements() *fakeEntitlements {
	return &fakeEntitlements{active: make(map[string]bool)}
}

func (e *fakeEntitlements) FetchEntitlement(_ context.Context, userID string) (Entitlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return Entitlement{}, e.err
	}
	return Entitlement{Active: e.active[userID]}, nil
}

func (e *fakeEntitlements) set(userID string, active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[userID] = active
}

func (e *fakeEntitlements) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeRewards returns a fixed grant. If gate is non-nil, RequestGrant
// signals started and then blocks until gate is closed.
type fakeRewards struct {
	mu      sync.Mutex
	earned  bool
	err     error
	calls   int
	gate    chan struct{}
	started chan struct{}
}

func (r *fakeRewards) RequestGrant(ctx context.Context, _, _ string) (Grant, error) {
	r.mu.Lock()
	r.calls++
	gate, started := r.gate, r.started
	earned, err := r.earned, r.err
	r.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
	return Grant{Earned: earned}, err
}

func (r *fakeRewards) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeCatalog struct {
	stories map[string][]story.Story
	err     error
}

func (c *fakeCatalog) ListForDate(_ context.Context, date string) ([]story.Story, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.stories[date], nil
}

type recordingObserver struct {
	mu        sync.Mutex
	decisions []Decision
	failures  []Kind
	grants    []bool
}

func (o *recordingObserver) ObserveDecision(d Decision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
}

func (o *recordingObserver) ObserveFailure(k Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, k)
}

func (o *recordingObserver) ObserveGrant(earned bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.grants = append(o.grants, earned)
}

func (o *recordingObserver) failureKinds() []Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Kind(nil), o.failures...)
}

var fixedNow = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResolver(ent EntitlementSource, ledger Ledger, opts ...Option) *Resolver {
	base := []Option{
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return fixedNow }),
	}
	return New(ent, ledger, append(base, opts...)...)
}

// testCohort builds a five-story cohort with stable IDs "<date>#<pos>".
func testCohort(date string) []story.Story {
	stories := make([]story.Story, story.CohortSize)
	for i := range stories {
		stories[i] = story.Story{
			ID:          fmt.Sprintf("%s#%d", date, i),
			PublishDate: date,
			Position:    i,
			Title:       fmt.Sprintf("Story %d", i),
			Content:     fmt.Sprintf("Body %d", i),
		}
	}
	return stories
}
