package spec

import (
	"fmt"
	"strings"

	"github.com/cgast/agbrowse/pkg/query"
	"github.com/cgast/agbrowse/pkg/verify"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds all validation errors for a scenario.
type ValidationResult struct {
	Errors []ValidationError
}

// Valid returns true if no validation errors were found.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Error returns a combined error message from all validation errors.
func (r ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateScenario checks required fields and compiles every selector and
// assertion, so a scenario that validates cannot fail on syntax mid-run.
func ValidateScenario(sc Scenario) ValidationResult {
	var result ValidationResult

	if sc.APIVersion == "" {
		result.add("apiVersion", "required")
	} else if sc.APIVersion != APIVersion {
		result.add("apiVersion", "unsupported version %q (expected %s)", sc.APIVersion, APIVersion)
	}

	if sc.Kind == "" {
		result.add("kind", "required")
	} else if sc.Kind != Kind {
		result.add("kind", "unsupported kind %q (expected %s)", sc.Kind, Kind)
	}

	if sc.Meta.Name == "" {
		result.add("meta.name", "required")
	}

	paramNames := make(map[string]bool)
	for i, p := range sc.Params {
		field := fmt.Sprintf("params[%d].name", i)
		switch {
		case p.Name == "":
			result.add(field, "required")
		case paramNames[p.Name]:
			result.add(field, "duplicate param name %q", p.Name)
		default:
			paramNames[p.Name] = true
		}
	}

	checkTemplate(&result, "start_url", sc.StartURL)
	if sc.Snapshot.Limit < 0 {
		result.add("snapshot.limit", "must be non-negative")
	}
	if sc.Eventually != nil {
		validateEventually(&result, "eventually", *sc.Eventually)
	}

	if len(sc.Steps) == 0 {
		result.add("steps", "at least one step is required")
	}
	for i, st := range sc.Steps {
		validateStep(&result, fmt.Sprintf("steps[%d]", i), st)
	}

	return result
}

func validateStep(result *ValidationResult, field string, st Step) {
	if strings.TrimSpace(st.Goal) == "" {
		result.add(field+".goal", "required")
	}
	if len(st.Assertions) == 0 && st.Done == nil {
		result.add(field, "a step needs at least one assertion or a done check")
	}
	for j, a := range st.Actions {
		validateAction(result, fmt.Sprintf("%s.actions[%d]", field, j), a)
	}
	for j, a := range st.Assertions {
		validateAssertion(result, fmt.Sprintf("%s.assertions[%d]", field, j), a)
	}
	if st.Done != nil {
		validateAssertion(result, field+".done", *st.Done)
	}
}

func validateAction(result *ValidationResult, field string, a Action) {
	switch a.Kind() {
	case "":
		result.add(field, "exactly one action must be set")
	case "navigate":
		checkTemplate(result, field+".navigate", a.Navigate)
	case "open_tab":
		checkTemplate(result, field+".open_tab", a.OpenTab)
	case "switch_tab":
		if *a.SwitchTab < 0 {
			result.add(field+".switch_tab", "tab index must be non-negative")
		}
	case "click":
		checkSelector(result, field+".click", a.Click)
	case "type":
		checkSelector(result, field+".type.selector", a.Type.Selector)
		checkTemplate(result, field+".type.text", a.Type.Text)
	}
}

func validateAssertion(result *ValidationResult, field string, a Assertion) {
	if a.Type == "" {
		result.add(field+".type", "required")
	} else if _, err := verify.Build(a.AssertionDef); err != nil {
		result.add(field, "%v", err)
	}
	checkTemplate(result, field+".expected", a.Expected)
	if a.Eventually != nil {
		validateEventually(result, field+".eventually", *a.Eventually)
	}
}

func validateEventually(result *ValidationResult, field string, e EventuallySpec) {
	if e.Timeout < 0 {
		result.add(field+".timeout", "must be non-negative")
	}
	if e.PollInterval < 0 {
		result.add(field+".poll_interval", "must be non-negative")
	}
	if e.MinConfidence != nil && (*e.MinConfidence < 0 || *e.MinConfidence > 1) {
		result.add(field+".min_confidence", "must be between 0 and 1, got %g", *e.MinConfidence)
	}
	if e.MaxSnapshotAttempts < 0 {
		result.add(field+".max_snapshot_attempts", "must be non-negative")
	}
}

func checkSelector(result *ValidationResult, field, selector string) {
	if selector == "" {
		result.add(field, "selector is required")
		return
	}
	if _, err := query.Parse(selector); err != nil {
		result.add(field, "%v", err)
	}
}

func checkTemplate(result *ValidationResult, field, s string) {
	if names := unresolved(s); len(names) > 0 {
		result.add(field, "unresolved template variable(s): %s", strings.Join(names, ", "))
	}
}
