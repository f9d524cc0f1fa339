package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storygate/internal/story"
)

func newTestSession(t *testing.T, ent *fakeEntitlements, ledger *fakeLedger, rewards RewardSource) (*Session, *Resolver) {
	t.Helper()
	catalog := &fakeCatalog{stories: map[string][]story.Story{"2024-01-01": testCohort("2024-01-01")}}
	r := newTestResolver(ent, ledger)
	s := NewSession("anon-1", r, catalog, rewards)
	_, err := s.Load(context.Background(), "2024-01-01")
	require.NoError(t, err)
	t.Cleanup(r.Wait)
	return s, r
}

func TestSession_AdUnlockThenRetap(t *testing.T) {
	ledger := newFakeLedger()
	rewards := &fakeRewards{earned: true}
	s, _ := newTestSession(t, newFakeEntitlements(), ledger, rewards)
	ctx := context.Background()

	res, err := s.Open(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, RequireAdThenReveal, res.Outcome)

	res, err = s.WatchAd(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Reveal, res.Outcome)

	u, ok := ledger.record("anon-1", "2024-01-01#2")
	require.True(t, ok)
	assert.Equal(t, story.MethodAd, u.Method)

	res, err = s.Open(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Reveal, res.Outcome)
	assert.Equal(t, 1, rewards.callCount(), "re-tap must not prompt another ad")
}

func TestSession_SubscriptionUnlockSurvivesLapse(t *testing.T) {
	ledger := newFakeLedger()
	ent := newFakeEntitlements()
	ent.set("anon-1", true)
	s, r := newTestSession(t, ent, ledger, &fakeRewards{})
	ctx := context.Background()

	res, err := s.Open(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, Reveal, res.Outcome)
	r.Wait()

	u, ok := ledger.record("anon-1", "2024-01-01#4")
	require.True(t, ok)
	assert.Equal(t, story.MethodSubscription, u.Method)

	ent.set("anon-1", false)

	// A fresh screen has no in-session grants; the ledger alone keeps it open.
	fresh := NewSession("anon-1", r, &fakeCatalog{stories: map[string][]story.Story{"2024-01-01": testCohort("2024-01-01")}}, &fakeRewards{})
	_, err = fresh.Load(ctx, "2024-01-01")
	require.NoError(t, err)

	res, err = fresh.Open(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, Reveal, res.Outcome)
	assert.Equal(t, story.MethodSubscription, res.Method)
}

func TestSession_InSessionGrantSurvivesWriteFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.setWriteErr(errBoom)
	s, _ := newTestSession(t, newFakeEntitlements(), ledger, &fakeRewards{earned: true})
	ctx := context.Background()

	res, err := s.WatchAd(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Unrecorded)

	_, ok := ledger.record("anon-1", "2024-01-01#1")
	assert.False(t, ok)

	res, err = s.Open(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Reveal, res.Outcome)
	assert.Equal(t, story.MethodAd, res.Method)

	m, ok := s.Granted("2024-01-01#1")
	assert.True(t, ok)
	assert.Equal(t, story.MethodAd, m)
}

func TestSession_RetapWritesUnrecordedGrant(t *testing.T) {
	ledger := newFakeLedger()
	ledger.setWriteErr(errBoom)
	rewards := &fakeRewards{earned: true}
	s, r := newTestSession(t, newFakeEntitlements(), ledger, rewards)
	ctx := context.Background()

	res, err := s.WatchAd(ctx, 2)
	require.NoError(t, err)
	assert.True(t, res.Unrecorded)

	ledger.setWriteErr(nil)
	res, err = s.Open(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Reveal, res.Outcome)
	r.Wait()

	u, ok := ledger.record("anon-1", "2024-01-01#2")
	require.True(t, ok, "the retap must write the grant")
	assert.Equal(t, story.MethodAd, u.Method)
	assert.Equal(t, 1, rewards.callCount())

	res, err = s.Open(ctx, 2)
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	r.Wait()
	assert.Len(t, ledger.writeLog(), 2, "a backed grant is not written again")
}

func TestSession_RetapWritesUnrecordedFreeReveal(t *testing.T) {
	ledger := newFakeLedger()
	ledger.setWriteErr(errBoom)
	s, r := newTestSession(t, newFakeEntitlements(), ledger, &fakeRewards{})
	ctx := context.Background()

	_, err := s.Open(ctx, 0)
	require.NoError(t, err)
	r.Wait()
	_, ok := ledger.record("anon-1", "2024-01-01#0")
	require.False(t, ok)

	ledger.setWriteErr(nil)
	_, err = s.Open(ctx, 0)
	require.NoError(t, err)
	r.Wait()

	u, ok := ledger.record("anon-1", "2024-01-01#0")
	require.True(t, ok)
	assert.Equal(t, story.MethodFree, u.Method)
}

func TestSession_CloseDiscardsInFlightAd(t *testing.T) {
	ledger := newFakeLedger()
	rewards := &fakeRewards{earned: true, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s, _ := newTestSession(t, newFakeEntitlements(), ledger, rewards)

	done := make(chan error, 1)
	go func() {
		_, err := s.WatchAd(context.Background(), 3)
		done <- err
	}()

	select {
	case <-rewards.started:
	case <-time.After(2 * time.Second):
		t.Fatal("ad flow never started")
	}
	s.Close()
	close(rewards.gate)

	err := <-done
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, ok := s.Granted("2024-01-01#3")
	assert.False(t, ok, "late result must not be applied to a closed view")

	_, ok = ledger.record("anon-1", "2024-01-01#3")
	assert.True(t, ok, "the grant itself still completes in the background")
}

func TestSession_ClosedRejectsNewWork(t *testing.T) {
	s, _ := newTestSession(t, newFakeEntitlements(), newFakeLedger(), &fakeRewards{})
	s.Close()

	assert.True(t, s.Closed())
	_, err := s.Open(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Load(context.Background(), "2024-01-01")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_UnknownPosition(t *testing.T) {
	s, _ := newTestSession(t, newFakeEntitlements(), newFakeLedger(), &fakeRewards{})

	_, err := s.Open(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUnknownStory)
}

func TestSession_LoadFailureIsTransient(t *testing.T) {
	r := newTestResolver(newFakeEntitlements(), newFakeLedger())
	s := NewSession("anon-1", r, &fakeCatalog{err: errBoom}, &fakeRewards{})

	_, err := s.Load(context.Background(), "2024-01-01")
	assert.True(t, IsTransient(err))
	assert.Empty(t, s.Cohort().Stories)
}

func TestSession_RefreshKeepsGrants(t *testing.T) {
	ledger := newFakeLedger()
	s, r := newTestSession(t, newFakeEntitlements(), ledger, &fakeRewards{earned: true})
	ctx := context.Background()

	_, err := s.WatchAd(ctx, 1)
	require.NoError(t, err)
	r.Wait()

	cohort, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", cohort.Date)

	m, ok := s.Granted("2024-01-01#1")
	require.True(t, ok)
	assert.Equal(t, story.MethodAd, m)
}

func TestSession_RefreshWithoutCohort(t *testing.T) {
	r := newTestResolver(newFakeEntitlements(), newFakeLedger())
	s := NewSession("anon-1", r, &fakeCatalog{}, &fakeRewards{})

	_, err := s.Refresh(context.Background())
	require.Error(t, err)
}
