package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", event)
	}

	return buf.String()
}

// assertLedgerContains checks that the ledger holds an unlock for the
// story at the given position, with the given method if one is set.
func assertLedgerContains(result *Result, assertion Assertion) error {
	pos := *assertion.Position
	for _, entry := range result.Ledger {
		if entry.Position != pos {
			continue
		}
		if assertion.Method == "" || entry.Method == assertion.Method {
			return nil
		}
		return &AssertionError{
			Type:     AssertLedgerContains,
			Expected: fmt.Sprintf("position %d unlocked by %s", pos, assertion.Method),
			Actual:   fmt.Sprintf("position %d unlocked by %s", pos, entry.Method),
			Trace:    result.Trace,
		}
	}

	want := fmt.Sprintf("position %d unlocked", pos)
	if assertion.Method != "" {
		want += " by " + assertion.Method
	}
	return &AssertionError{
		Type:     AssertLedgerContains,
		Expected: want,
		Actual:   "no unlock at position " + fmt.Sprint(pos) + " (ledger: " + ledgerSummary(result.Ledger) + ")",
		Trace:    result.Trace,
	}
}

// assertLedgerCount checks the number of unlocks left in the ledger.
func assertLedgerCount(result *Result, assertion Assertion) error {
	if len(result.Ledger) == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertLedgerCount,
		Expected: fmt.Sprintf("%d unlocks", assertion.Count),
		Actual:   fmt.Sprintf("%d unlocks (%s)", len(result.Ledger), ledgerSummary(result.Ledger)),
		Trace:    result.Trace,
	}
}

// assertTraceCount checks how many steps ran the given action, optionally
// restricted to one outcome.
func assertTraceCount(result *Result, assertion Assertion) error {
	count := 0
	for _, event := range result.Trace {
		if event.Action != assertion.Action {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		count++
	}
	if count == assertion.Count {
		return nil
	}

	what := assertion.Action
	if assertion.Outcome != "" {
		what += " -> " + assertion.Outcome
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s events", assertion.Count, what),
		Actual:   fmt.Sprintf("%d %s events", count, what),
		Trace:    result.Trace,
	}
}

func ledgerSummary(entries []LedgerEntry) string {
	if len(entries) == 0 {
		return "empty"
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%d %s", e.Position, e.Method)
	}
	return strings.Join(parts, ", ")
}

// EvaluateAssertions checks all assertions against a scenario result.
// Returns one message per failed assertion; empty if all passed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertLedgerContains:
			err = assertLedgerContains(result, assertion)
		case AssertLedgerCount:
			err = assertLedgerCount(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errors
}
