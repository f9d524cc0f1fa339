package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/storygate/internal/reward"
	"github.com/roach88/storygate/internal/story"
)

// Defaults applied to scenarios that leave the field empty.
const (
	DefaultDate = "2024-01-01"
	DefaultUser = "anon-1"
)

// Scenario defines a reader scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Date is the cohort publish date. Defaults to DefaultDate.
	Date string `yaml:"date,omitempty"`

	// User is the anonymous user id. Defaults to DefaultUser.
	User string `yaml:"user,omitempty"`

	// Subscribed is the user's entitlement before the first step.
	Subscribed bool `yaml:"subscribed,omitempty"`

	// Steps run in order against one session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and ledger.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one reader or environment action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Position is the cohort slot (open and ad only).
	Position *int `yaml:"position,omitempty"`

	// Result is the reward flow outcome (ad only). Defaults to "earned".
	Result string `yaml:"result,omitempty"`

	// Target is the collaborator an outage hits (fail only).
	Target string `yaml:"target,omitempty"`

	// Expect validates the step's resolution. If nil nothing is checked.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected resolution of a step.
type Expect struct {
	// Outcome is reveal, require_ad or require_subscription. Empty means
	// the step produced no resolution (e.g. the session was closed).
	Outcome string `yaml:"outcome,omitempty"`

	// Method is checked only when set.
	Method string `yaml:"method,omitempty"`

	// Error is the expected error code. Empty means no error.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final trace or ledger.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Position is the cohort slot (ledger_contains).
	Position *int `yaml:"position,omitempty"`

	// Method is the expected unlock method (ledger_contains, optional).
	Method string `yaml:"method,omitempty"`

	// Action and Outcome select trace events (trace_count).
	Action  string `yaml:"action,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of matches (ledger_count, trace_count).
	Count int `yaml:"count,omitempty"`
}

// Step action constants.
const (
	ActionOpen      = "open"
	ActionAd        = "ad"
	ActionSubscribe = "subscribe"
	ActionLapse     = "lapse"
	ActionFail      = "fail"
	ActionRecover   = "recover"
	ActionClose     = "close"
	ActionReopen    = "reopen"
)

// Outage target constants.
const (
	TargetEntitlement = "entitlement"
	TargetLedgerRead  = "ledger_read"
	TargetLedgerWrite = "ledger_write"
)

// Assertion type constants.
const (
	AssertLedgerContains = "ledger_contains"
	AssertLedgerCount    = "ledger_count"
	AssertTraceCount     = "trace_count"
)

var validOutcomes = map[string]bool{
	"":                     true,
	"reveal":               true,
	"require_ad":           true,
	"require_subscription": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML and applies defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Date == "" {
		scenario.Date = DefaultDate
	}
	if scenario.User == "" {
		scenario.User = DefaultUser
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := story.ParseDate(s.Date); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Action {
	case ActionOpen, ActionAd:
		if st.Position == nil {
			return fmt.Errorf("steps[%d]: position is required for %s", index, st.Action)
		}
		if st.Action == ActionAd && st.Result != "" {
			if _, err := reward.ParseResult(st.Result); err != nil {
				return fmt.Errorf("steps[%d]: %w", index, err)
			}
		}
	case ActionFail:
		switch st.Target {
		case TargetEntitlement, TargetLedgerRead, TargetLedgerWrite:
		default:
			return fmt.Errorf("steps[%d]: unknown fail target %q", index, st.Target)
		}
	case ActionSubscribe, ActionLapse, ActionRecover, ActionClose, ActionReopen:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}

	if st.Expect != nil && !validOutcomes[st.Expect.Outcome] {
		return fmt.Errorf("steps[%d].expect: unknown outcome %q", index, st.Expect.Outcome)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertLedgerContains:
		if a.Position == nil {
			return fmt.Errorf("assertions[%d]: position is required for ledger_contains", index)
		}
		if a.Method != "" {
			if _, err := story.ParseMethod(a.Method); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertLedgerCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_count", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
		if !validOutcomes[a.Outcome] {
			return fmt.Errorf("assertions[%d]: unknown outcome %q", index, a.Outcome)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
