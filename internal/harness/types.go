package harness

import (
	"fmt"
	"strings"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq        int    `json:"seq"`
	Action     string `json:"action"`
	Position   *int   `json:"position,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Method     string `json:"method,omitempty"`
	Sticky     bool   `json:"sticky,omitempty"`
	Recorded   bool   `json:"recorded,omitempty"`
	Unrecorded bool   `json:"unrecorded,omitempty"`
	Error      string `json:"error,omitempty"`
}

// String renders the event as one trace line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", e.Seq, e.Action)
	if e.Position != nil {
		fmt.Fprintf(&b, " %d", *e.Position)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	if e.Outcome != "" {
		b.WriteString(" -> " + e.Outcome)
	}
	if e.Method != "" {
		b.WriteString(" method=" + e.Method)
	}
	if e.Sticky {
		b.WriteString(" sticky")
	}
	if e.Recorded {
		b.WriteString(" recorded")
	}
	if e.Unrecorded {
		b.WriteString(" unrecorded")
	}
	if e.Error != "" {
		b.WriteString(" error=" + e.Error)
	}
	return b.String()
}

// LedgerEntry is one unlock left in the ledger after the scenario.
type LedgerEntry struct {
	Position int    `json:"position"`
	StoryID  string `json:"story_id"`
	Method   string `json:"method"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Ledger is the user's unlocks after the last step, oldest first.
	Ledger []LedgerEntry `json:"ledger"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Ledger: []LedgerEntry{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
