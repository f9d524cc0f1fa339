package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a scenario result as the plain-text golden snapshot: a
// header, one line per trace event, then the final ledger.
func Render(scenario *Scenario, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenario.Name)
	fmt.Fprintf(&b, "date: %s\n", scenario.Date)
	fmt.Fprintf(&b, "user: %s\n", scenario.User)

	b.WriteString("trace:\n")
	for _, event := range result.Trace {
		fmt.Fprintf(&b, "  %s\n", event)
	}

	if len(result.Ledger) == 0 {
		b.WriteString("ledger: empty\n")
		return []byte(b.String())
	}
	b.WriteString("ledger:\n")
	for _, entry := range result.Ledger {
		fmt.Fprintf(&b, "  %d %s\n", entry.Position, entry.Method)
	}
	return []byte(b.String())
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden executes a scenario and compares the rendered trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	newGoldie(t).Assert(t, scenario.Name, Render(scenario, result))
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) {
	t.Helper()
	newGoldie(t).Assert(t, scenario.Name, Render(scenario, result))
}
