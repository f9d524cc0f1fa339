// Package access decides what the reader app must do when a user taps a
// story, and performs the one side effect that decision implies.
//
// The decision itself (Decide) is pure: given the story's ordinal position,
// whether the user is subscribed, and whether an unlock already exists, it
// yields exactly one Outcome:
//
//   - Reveal: the content may be shown now.
//   - RequireAdThenReveal: a rewarded ad must complete first.
//   - RequireSubscription: an active subscription is needed.
//
// Resolver wraps Decide with the external collaborators. It reads the
// entitlement and the unlock ledger, fails locked when either read fails,
// and records a new Unlock Record whenever a reveal is not already backed by
// one. That write is fire-and-forget; its failure is logged and never
// reverses a reveal.
//
// Unlocks are sticky. Once a (user, story) pair has a record, later
// resolutions reveal regardless of the user's current entitlement.
//
// Session is the per-screen state object: the loaded cohort, in-session
// grants and the closed flag that makes late results get discarded.
package access
