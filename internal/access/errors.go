package access

import (
	"errors"
	"fmt"
)

// Kind categorizes collaborator failures at the resolver boundary.
type Kind string

const (
	// KindTransientFetch: an entitlement or ledger read failed. The
	// resolution was computed fail-locked; the caller should offer a retry.
	KindTransientFetch Kind = "TRANSIENT_FETCH_FAILURE"

	// KindGrant: the reward flow did not complete. No unlock was recorded.
	KindGrant Kind = "GRANT_FAILURE"

	// KindWrite: recording an unlock after a legitimate reveal failed.
	// Logged only; the reveal stands for the current session.
	KindWrite Kind = "WRITE_FAILURE"
)

// Error is a collaborator failure converted at the resolver boundary.
type Error struct {
	Kind    Kind
	Op      string
	UserID  string
	StoryID string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StoryID != "" {
		return fmt.Sprintf("%s: %s (user=%s, story=%s): %v", e.Kind, e.Op, e.UserID, e.StoryID, e.Err)
	}
	return fmt.Sprintf("%s: %s (user=%s): %v", e.Kind, e.Op, e.UserID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, userID, storyID string, err error) *Error {
	return &Error{Kind: kind, Op: op, UserID: userID, StoryID: storyID, Err: err}
}

// KindOf returns the failure kind of err, if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is a TransientFetchFailure.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransientFetch
}

// IsGrantFailure reports whether err is a GrantFailure.
func IsGrantFailure(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindGrant
}

// IsWriteFailure reports whether err is a WriteFailure.
func IsWriteFailure(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindWrite
}

var (
	// ErrAdInProgress rejects a second ad flow for a (user, story) pair
	// while one is outstanding.
	ErrAdInProgress = errors.New("ad unlock already in progress")

	// ErrNotAdGated is returned when an ad unlock is requested for a story
	// whose current outcome is not RequireAdThenReveal.
	ErrNotAdGated = errors.New("story is not ad-gated")

	// ErrNotEarned means the reward flow finished without granting a reward.
	ErrNotEarned = errors.New("reward not earned")

	// ErrSessionClosed is returned for results that arrive after the
	// session was torn down. The result was discarded.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidPosition rejects negative ordinal positions.
	ErrInvalidPosition = errors.New("invalid story position")

	// ErrUnknownStory is returned when a position or ID is not in the cohort.
	ErrUnknownStory = errors.New("story not in cohort")

	// ErrMissingUser is returned when a request carries no user ID.
	ErrMissingUser = errors.New("user id is required")
)

// UserMessage maps an error to the text shown to the reader. Fail-locked
// states always read as a retry prompt, never as a silent denial.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTransient(err):
		return "Something went wrong. Try again."
	case errors.Is(err, ErrAdInProgress):
		return "An ad is already playing for this story."
	case IsGrantFailure(err):
		return "The ad did not finish. Try again to unlock this story."
	case errors.Is(err, ErrNotAdGated):
		return "This story cannot be unlocked with an ad."
	default:
		return "Something went wrong."
	}
}
