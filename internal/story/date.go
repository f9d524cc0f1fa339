package story

import (
	"fmt"
	"time"
)

// DateLayout is the publish date format.
const DateLayout = "2006-01-02"

// Today returns the UTC publish date for now.
func Today(now time.Time) string {
	return now.UTC().Format(DateLayout)
}

// ParseDate validates a publish date and returns it in canonical form.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid publish date %q: want YYYY-MM-DD", s)
	}
	return t.Format(DateLayout), nil
}
