package access

import (
	"github.com/roach88/storygate/internal/story"
)

// Outcome is the action the interface must take for a story.
type Outcome int

const (
	// Reveal shows the content immediately.
	Reveal Outcome = iota + 1
	// RequireAdThenReveal withholds content until a reward grant succeeds.
	RequireAdThenReveal
	// RequireSubscription withholds content and asks for a subscription.
	RequireSubscription
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Reveal:
		return "reveal"
	case RequireAdThenReveal:
		return "require_ad"
	case RequireSubscription:
		return "require_subscription"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Decision is the result of Decide.
type Decision struct {
	Outcome Outcome `json:"outcome"`

	// Method is the grant method that produced a reveal. For a sticky reveal
	// Decide cannot know the prior method and leaves it empty; Resolver
	// fills it from the ledger.
	Method story.Method `json:"method,omitempty"`

	// Sticky is true when the reveal comes from an existing unlock.
	Sticky bool `json:"sticky,omitempty"`
}

// Revealed reports whether the decision shows content.
func (d Decision) Revealed() bool {
	return d.Outcome == Reveal
}

// Decide applies the access-tier policy.
//
// Precedence: an existing unlock always reveals; position 0 is free; an
// active subscription reveals anything else. Ad-gated positions (1..3) then
// require an ad. Position 4 and every position outside the lineup require a
// subscription, so a malformed cohort never leaks free or ad access.
func Decide(position int, subscribed, alreadyUnlocked bool) Decision {
	switch {
	case alreadyUnlocked:
		return Decision{Outcome: Reveal, Sticky: true}
	case position == 0:
		return Decision{Outcome: Reveal, Method: story.MethodFree}
	case subscribed:
		return Decision{Outcome: Reveal, Method: story.MethodSubscription}
	case story.TierFor(position) == story.TierAd:
		return Decision{Outcome: RequireAdThenReveal}
	default:
		return Decision{Outcome: RequireSubscription}
	}
}
