package story

import (
	"fmt"
	"sort"
	"time"
)

// CohortSize is the conventional number of stories published per date.
const CohortSize = 5

// Tier is the access tier implied by an ordinal position.
type Tier string

const (
	TierFree         Tier = "free"
	TierAd           Tier = "ad"
	TierSubscription Tier = "subscription"
	// TierOutOfLineup covers positions a well-formed cohort never has.
	TierOutOfLineup Tier = "out_of_lineup"
)

// TierFor maps an ordinal position to its tier.
func TierFor(position int) Tier {
	switch {
	case position == 0:
		return TierFree
	case position >= 1 && position <= 3:
		return TierAd
	case position == 4:
		return TierSubscription
	default:
		return TierOutOfLineup
	}
}

// Method records how access to a story was granted.
type Method string

const (
	MethodFree         Method = "free"
	MethodAd           Method = "ad"
	MethodSubscription Method = "subscription"
)

// Valid reports whether m is one of the known grant methods.
func (m Method) Valid() bool {
	switch m {
	case MethodFree, MethodAd, MethodSubscription:
		return true
	}
	return false
}

// ParseMethod converts a stored method tag back into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown unlock method %q", s)
	}
	return m, nil
}

// Story is one published piece of fiction. Immutable once published.
type Story struct {
	ID          string `json:"id"`
	PublishDate string `json:"publish_date"`
	Position    int    `json:"position"`
	Title       string `json:"title"`
	Content     string `json:"content"`
}

// Tier returns the access tier for the story's position.
func (s Story) Tier() Tier {
	return TierFor(s.Position)
}

// Unlock is the durable record of a grant for one (user, story) pair.
type Unlock struct {
	UserID     string    `json:"user_id"`
	StoryID    string    `json:"story_id"`
	Method     Method    `json:"method"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// Cohort is the ordered lineup for one publish date.
type Cohort struct {
	Date    string  `json:"date"`
	Stories []Story `json:"stories"`
}

// NewCohort sorts stories by position (then ID) and checks they share date.
func NewCohort(date string, stories []Story) (Cohort, error) {
	sorted := make([]Story, len(stories))
	copy(sorted, stories)
	for _, s := range sorted {
		if s.PublishDate != date {
			return Cohort{}, fmt.Errorf("story %s published %s, not %s", s.ID, s.PublishDate, date)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})
	return Cohort{Date: date, Stories: sorted}, nil
}

// At returns the first story at the given position.
func (c Cohort) At(position int) (Story, bool) {
	for _, s := range c.Stories {
		if s.Position == position {
			return s, true
		}
	}
	return Story{}, false
}

// Find returns the story with the given ID.
func (c Cohort) Find(id string) (Story, bool) {
	for _, s := range c.Stories {
		if s.ID == id {
			return s, true
		}
	}
	return Story{}, false
}

// Malformed reports whether the cohort holds positions outside the lineup.
func (c Cohort) Malformed() bool {
	for _, s := range c.Stories {
		if s.Tier() == TierOutOfLineup {
			return true
		}
	}
	return false
}
