package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/catalog"
	"github.com/roach88/storygate/internal/entitlement"
	"github.com/roach88/storygate/internal/reward"
	"github.com/roach88/storygate/internal/store"
	"github.com/roach88/storygate/internal/story"
	"github.com/roach88/storygate/internal/testutil"
)

// errInjected is what a failed collaborator returns during an outage.
var errInjected = errors.New("injected outage")

// faultLedger wraps the store ledger with switchable read/write outages.
type faultLedger struct {
	access.Ledger

	mu         sync.Mutex
	failReads  bool
	failWrites bool
}

func (l *faultLedger) Unlocks(ctx context.Context, userID string) (map[string]story.Unlock, error) {
	l.mu.Lock()
	fail := l.failReads
	l.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return l.Ledger.Unlocks(ctx, userID)
}

func (l *faultLedger) RecordUnlock(ctx context.Context, u story.Unlock) error {
	l.mu.Lock()
	fail := l.failWrites
	l.mu.Unlock()
	if fail {
		return errInjected
	}
	return l.Ledger.RecordUnlock(ctx, u)
}

func (l *faultLedger) failRead(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failReads = fail
}

func (l *faultLedger) failWrite(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWrites = fail
}

// scriptedRewards plays whatever result the current ad step asks for.
type scriptedRewards struct {
	mu     sync.Mutex
	result reward.Result
}

func (s *scriptedRewards) RequestGrant(ctx context.Context, userID, storyID string) (access.Grant, error) {
	s.mu.Lock()
	src := reward.Static{Result: s.result}
	s.mu.Unlock()
	return src.RequestGrant(ctx, userID, storyID)
}

func (s *scriptedRewards) set(r reward.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r
}

// Harness is the scenario execution environment.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	ledger   *faultLedger
	ents     *entitlement.Static
	rewards  *scriptedRewards
	resolver *access.Resolver
	session  *access.Session
	clock    *testutil.Clock
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with the built-in
// cohort published for the scenario date.
//
// Execution flow:
// 1. Create fresh in-memory database and publish the cohort
// 2. Open a session for the scenario user
// 3. Execute steps with expect validation, draining writes after each
// 4. Snapshot the ledger and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start, err := time.Parse(story.DateLayout, scenario.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario date: %w", err)
	}
	clock := testutil.NewClock(start.Add(9 * time.Hour))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	ctx := context.Background()
	gen := catalog.NewGenerator(st, catalog.WithLogger(logger), catalog.WithClock(clock.Now))
	if _, err := gen.Generate(ctx, scenario.Date); err != nil {
		return nil, fmt.Errorf("failed to publish cohort: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		store:    st,
		ledger:   &faultLedger{Ledger: st},
		ents:     entitlement.NewStatic(),
		rewards:  &scriptedRewards{result: reward.ResultEarned},
		clock:    clock,
		logger:   logger,
	}
	h.ents.Set(scenario.User, scenario.Subscribed)
	h.resolver = access.New(h.ents, h.ledger,
		access.WithLogger(logger),
		access.WithClock(clock.Now),
	)
	defer h.resolver.Wait()

	if err := h.openSession(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.clock.Advance(time.Minute)
		ev, err := h.executeStep(ctx, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		h.resolver.Wait()
		result.Trace = append(result.Trace, ev)

		if step.Expect != nil {
			for _, msg := range checkExpect(ev, *step.Expect) {
				result.AddError(fmt.Sprintf("step %d (%s): %s", i+1, step.Action, msg))
			}
		}
	}

	ledger, err := h.snapshotLedger(ctx)
	if err != nil {
		return nil, err
	}
	result.Ledger = ledger

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) openSession(ctx context.Context) error {
	h.session = access.NewSession(h.scenario.User, h.resolver, h.store, h.rewards)
	if _, err := h.session.Load(ctx, h.scenario.Date); err != nil {
		return fmt.Errorf("failed to load cohort: %w", err)
	}
	return nil
}

// executeStep runs one step. Errors from the resolver are part of the
// trace; only harness failures are returned.
func (h *Harness) executeStep(ctx context.Context, seq int, step Step) (TraceEvent, error) {
	ev := TraceEvent{Seq: seq, Action: step.Action, Position: step.Position}

	switch step.Action {
	case ActionOpen:
		res, err := h.session.Open(ctx, *step.Position)
		fillResolution(&ev, res, err)

	case ActionAd:
		result := reward.ResultEarned
		if step.Result != "" {
			result = reward.Result(step.Result)
		}
		ev.Detail = string(result)
		h.rewards.set(result)
		res, err := h.session.WatchAd(ctx, *step.Position)
		fillResolution(&ev, res, err)

	case ActionSubscribe:
		h.ents.Set(h.scenario.User, true)
	case ActionLapse:
		h.ents.Set(h.scenario.User, false)

	case ActionFail:
		ev.Detail = step.Target
		switch step.Target {
		case TargetEntitlement:
			h.ents.Fail(errInjected)
		case TargetLedgerRead:
			h.ledger.failRead(true)
		case TargetLedgerWrite:
			h.ledger.failWrite(true)
		}
	case ActionRecover:
		h.ents.Fail(nil)
		h.ledger.failRead(false)
		h.ledger.failWrite(false)

	case ActionClose:
		h.session.Close()
	case ActionReopen:
		if err := h.openSession(ctx); err != nil {
			return ev, err
		}

	default:
		return ev, fmt.Errorf("unknown action %q", step.Action)
	}

	h.logger.Info("step completed", "seq", seq, "action", step.Action, "outcome", ev.Outcome, "error", ev.Error)
	return ev, nil
}

func fillResolution(ev *TraceEvent, res access.Resolution, err error) {
	if res.Outcome != 0 {
		ev.Outcome = res.Outcome.String()
		ev.Method = string(res.Method)
		ev.Sticky = res.Sticky
		ev.Recorded = res.Recorded
		ev.Unrecorded = res.Unrecorded
	}
	ev.Error = ErrorCode(err)
}

// ErrorCode names err for traces and expectations.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if k, ok := access.KindOf(err); ok {
		return string(k)
	}
	switch {
	case errors.Is(err, access.ErrAdInProgress):
		return "AD_IN_PROGRESS"
	case errors.Is(err, access.ErrNotAdGated):
		return "NOT_AD_GATED"
	case errors.Is(err, access.ErrSessionClosed):
		return "SESSION_CLOSED"
	case errors.Is(err, access.ErrUnknownStory):
		return "UNKNOWN_STORY"
	case errors.Is(err, access.ErrInvalidPosition):
		return "INVALID_POSITION"
	default:
		return "ERROR"
	}
}

func checkExpect(ev TraceEvent, want Expect) []string {
	var errs []string
	if ev.Outcome != want.Outcome {
		errs = append(errs, fmt.Sprintf("expected outcome %q, got %q", want.Outcome, ev.Outcome))
	}
	if want.Method != "" && ev.Method != want.Method {
		errs = append(errs, fmt.Sprintf("expected method %q, got %q", want.Method, ev.Method))
	}
	if ev.Error != want.Error {
		errs = append(errs, fmt.Sprintf("expected error %q, got %q", want.Error, ev.Error))
	}
	return errs
}

func (h *Harness) snapshotLedger(ctx context.Context) ([]LedgerEntry, error) {
	unlocks, err := h.store.ListUnlocks(ctx, h.scenario.User)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	cohort := h.session.Cohort()

	entries := make([]LedgerEntry, 0, len(unlocks))
	for _, u := range unlocks {
		pos := -1
		if st, ok := cohort.Find(u.StoryID); ok {
			pos = st.Position
		}
		entries = append(entries, LedgerEntry{Position: pos, StoryID: u.StoryID, Method: string(u.Method)})
	}
	return entries, nil
}
