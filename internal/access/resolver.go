package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/storygate/internal/pending"
	"github.com/roach88/storygate/internal/story"
)

// Entitlement is the most recently fetched subscription state of a user.
type Entitlement struct {
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// EntitlementSource answers whether a user is currently subscribed.
// Answers are not assumed fresh.
type EntitlementSource interface {
	FetchEntitlement(ctx context.Context, userID string) (Entitlement, error)
}

// Ledger is the durable per-user record of granted unlocks.
type Ledger interface {
	// Unlocks returns every unlock of userID keyed by story ID.
	Unlocks(ctx context.Context, userID string) (map[string]story.Unlock, error)
	// RecordUnlock appends an unlock. A duplicate need not be rejected.
	RecordUnlock(ctx context.Context, u story.Unlock) error
}

// Catalog supplies a day's ordered lineup. A fresh call re-fetches the
// whole cohort.
type Catalog interface {
	ListForDate(ctx context.Context, date string) ([]story.Story, error)
}

// Grant is the result of one reward flow.
type Grant struct {
	Earned bool
}

// RewardSource runs one single-shot reward flow for a story.
type RewardSource interface {
	RequestGrant(ctx context.Context, userID, storyID string) (Grant, error)
}

// PendingTracker holds the at-most-one in-flight ad marker per pair.
type PendingTracker interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Observer receives decision and failure events (e.g. for metrics).
type Observer interface {
	ObserveDecision(d Decision)
	ObserveFailure(kind Kind)
	ObserveGrant(earned bool)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(Decision) {}
func (nopObserver) ObserveFailure(Kind)      {}
func (nopObserver) ObserveGrant(bool)        {}

// DefaultWriteTimeout bounds a background ledger write.
const DefaultWriteTimeout = 10 * time.Second

// Request is one resolution request.
type Request struct {
	UserID string
	Story  story.Story

	// Granted is an unlock the caller already knows about (for example an
	// in-session grant whose ledger write failed). It reveals the story even
	// if the ledger is unreadable. When the ledger has no record for it the
	// grant is written again.
	Granted story.Method
}

// Resolution is a decision bound to the story it was made for.
type Resolution struct {
	Story story.Story `json:"story"`
	Decision

	// Recorded is true when an Unlock Record already backed this reveal.
	Recorded bool `json:"recorded,omitempty"`

	// Unrecorded is true when the unlock write for this reveal failed.
	// The reveal stands; the next session will ask again.
	Unrecorded bool `json:"unrecorded,omitempty"`
}

// Resolver applies Decide against the live collaborators.
//
// Thread-safety: Resolver is safe for concurrent use. It holds no lock over
// collaborators; the pending tracker serializes ad flows per pair.
type Resolver struct {
	entitlements EntitlementSource
	ledger       Ledger
	pending      PendingTracker
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration

	writes sync.WaitGroup
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPending replaces the default in-process pending tracker.
func WithPending(p PendingTracker) Option {
	return func(r *Resolver) { r.pending = p }
}

// WithObserver installs an observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock sets the clock used for unlock timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithWriteTimeout bounds background ledger writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.writeTimeout = d }
}

// New creates a Resolver over the given collaborators.
func New(entitlements EntitlementSource, ledger Ledger, opts ...Option) *Resolver {
	r := &Resolver{
		entitlements: entitlements,
		ledger:       ledger,
		pending:      pending.NewLocal(),
		observer:     nopObserver{},
		logger:       slog.Default(),
		now:          time.Now,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve decides the outcome for req.
//
// If the entitlement or ledger read fails the flag is taken as false and the
// fail-locked Resolution is returned together with a TransientFetchFailure.
// Any other error means the Resolution is empty.
//
// When the outcome is Reveal and no Unlock Record exists, one is recorded in
// the background, including for a Granted reveal the ledger lost. Call Wait
// to drain pending writes.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if err := validate(req); err != nil {
		return Resolution{}, err
	}

	st := req.Story
	var fetchErr error

	unlocked, recorded, prior := false, false, story.Method("")
	ledgerRead := true
	unlocks, err := r.ledger.Unlocks(ctx, req.UserID)
	if err != nil {
		ledgerRead = false
		if req.Granted.Valid() {
			r.logger.Debug("ledger unreadable; using in-session grant",
				"user", req.UserID, "story", st.ID, "error", err)
		} else {
			fetchErr = newError(KindTransientFetch, "read unlock ledger", req.UserID, st.ID, err)
		}
	} else if u, ok := unlocks[st.ID]; ok {
		unlocked, recorded, prior = true, true, u.Method
	}
	if !unlocked && req.Granted.Valid() {
		unlocked, prior = true, req.Granted
	}

	// Entitlement cannot change the outcome of a free or unlocked story.
	subscribed := false
	if !unlocked && st.Position != 0 {
		ent, err := r.entitlements.FetchEntitlement(ctx, req.UserID)
		if err != nil {
			fetchErr = errors.Join(fetchErr, newError(KindTransientFetch, "fetch entitlement", req.UserID, st.ID, err))
		} else {
			subscribed = ent.Active
		}
	}

	d := Decide(st.Position, subscribed, unlocked)
	res := Resolution{Story: st, Decision: d}
	if d.Sticky {
		res.Method = prior
		res.Recorded = recorded
	}
	r.observer.ObserveDecision(res.Decision)

	if fetchErr != nil {
		r.observer.ObserveFailure(KindTransientFetch)
		r.logger.Warn("resolved fail-locked",
			"user", req.UserID,
			"story", st.ID,
			"outcome", d.Outcome.String(),
			"error", fetchErr,
		)
	}

	// An unbacked reveal is written once per resolution. A sticky reveal is
	// only rewritten when the ledger was read and had no record for it.
	if d.Revealed() && !res.Recorded && (!d.Sticky || ledgerRead) {
		r.recordAsync(ctx, story.Unlock{
			UserID:     req.UserID,
			StoryID:    st.ID,
			Method:     res.Method,
			UnlockedAt: r.now().UTC(),
		})
	}

	return res, fetchErr
}

// UnlockWithAd runs one reward flow for an ad-gated story.
//
// The story is resolved first. A story that already reveals is returned as
// is without prompting an ad; a subscription-gated one yields ErrNotAdGated.
// The ledger is checked again once the pending marker is held, so a tap that
// resolved while another flow was still running shows no second ad.
// A transient read failure aborts before any ad is shown. While the flow is
// outstanding a second call for the same pair fails with ErrAdInProgress.
//
// On an earned grant the ad unlock is written synchronously on a detached
// context so it lands even if ctx is cancelled. A write failure is logged
// and marks the Resolution Unrecorded; the reveal stands.
func (r *Resolver) UnlockWithAd(ctx context.Context, req Request, rewards RewardSource) (Resolution, error) {
	res, err := r.Resolve(ctx, req)
	if err != nil {
		return res, err
	}
	switch res.Outcome {
	case Reveal:
		return res, nil
	case RequireAdThenReveal:
	default:
		return res, ErrNotAdGated
	}

	key := pending.Key(req.UserID, req.Story.ID)
	ok, err := r.pending.TryAcquire(ctx, key)
	if err != nil {
		r.observer.ObserveFailure(KindTransientFetch)
		return res, newError(KindTransientFetch, "claim pending ad", req.UserID, req.Story.ID, err)
	}
	if !ok {
		return res, ErrAdInProgress
	}
	defer func() {
		if err := r.pending.Release(context.WithoutCancel(ctx), key); err != nil {
			r.logger.Warn("release pending ad marker", "key", key, "error", err)
		}
	}()

	// A flow that finished between Resolve and the claim may have unlocked
	// the story already.
	unlocks, err := r.ledger.Unlocks(ctx, req.UserID)
	if err != nil {
		r.observer.ObserveFailure(KindTransientFetch)
		return res, newError(KindTransientFetch, "recheck unlock ledger", req.UserID, req.Story.ID, err)
	}
	if u, ok := unlocks[req.Story.ID]; ok {
		res.Decision = Decision{Outcome: Reveal, Method: u.Method, Sticky: true}
		res.Recorded = true
		r.observer.ObserveDecision(res.Decision)
		return res, nil
	}

	grant, err := rewards.RequestGrant(ctx, req.UserID, req.Story.ID)
	if err != nil {
		r.observer.ObserveGrant(false)
		r.observer.ObserveFailure(KindGrant)
		return res, newError(KindGrant, "request reward grant", req.UserID, req.Story.ID, err)
	}
	r.observer.ObserveGrant(grant.Earned)
	if !grant.Earned {
		r.observer.ObserveFailure(KindGrant)
		return res, newError(KindGrant, "request reward grant", req.UserID, req.Story.ID, ErrNotEarned)
	}

	res.Decision = Decision{Outcome: Reveal, Method: story.MethodAd}
	r.observer.ObserveDecision(res.Decision)

	u := story.Unlock{
		UserID:     req.UserID,
		StoryID:    req.Story.ID,
		Method:     story.MethodAd,
		UnlockedAt: r.now().UTC(),
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()
	if err := r.ledger.RecordUnlock(wctx, u); err != nil {
		r.writeFailed(u, err)
		res.Unrecorded = true
		return res, nil
	}
	res.Recorded = true

	r.logger.Info("story unlocked by ad", "user", req.UserID, "story", req.Story.ID)
	return res, nil
}

// Wait blocks until every background ledger write has finished.
func (r *Resolver) Wait() {
	r.writes.Wait()
}

func (r *Resolver) recordAsync(ctx context.Context, u story.Unlock) {
	r.writes.Add(1)
	go func() {
		defer r.writes.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
		defer cancel()
		if err := r.ledger.RecordUnlock(wctx, u); err != nil {
			r.writeFailed(u, err)
			return
		}
		r.logger.Debug("unlock recorded", "user", u.UserID, "story", u.StoryID, "method", string(u.Method))
	}()
}

func (r *Resolver) writeFailed(u story.Unlock, err error) {
	werr := newError(KindWrite, "record unlock", u.UserID, u.StoryID, err)
	r.observer.ObserveFailure(KindWrite)
	r.logger.Error("unlock write failed; reveal kept",
		"user", u.UserID,
		"story", u.StoryID,
		"method", string(u.Method),
		"error", werr,
	)
}

func validate(req Request) error {
	if req.UserID == "" {
		return ErrMissingUser
	}
	if req.Story.ID == "" {
		return fmt.Errorf("resolve: %w: empty story id", ErrUnknownStory)
	}
	if req.Story.Position < 0 {
		return fmt.Errorf("resolve: %w: %d", ErrInvalidPosition, req.Story.Position)
	}
	return nil
}
