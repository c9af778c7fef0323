package spec

import (
	"fmt"
	"time"

	"github.com/cgast/agbrowse/pkg/runtime"
)

// ExecutionPlan is a structured preview of what a scenario will do,
// suitable for review before running it against a live site.
type ExecutionPlan struct {
	Scenario string     `json:"scenario"`
	StartURL string     `json:"start_url,omitempty"`
	Steps    []PlanStep `json:"steps"`
	Summary  string     `json:"summary"`
}

// PlanStep is a single step of an execution plan.
type PlanStep struct {
	Goal        string      `json:"goal"`
	Actions     []string    `json:"actions,omitempty"`
	Checks      []PlanCheck `json:"checks"`
	Interactive bool        `json:"interactive"`
}

// PlanCheck is one verification the step will perform.
type PlanCheck struct {
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Done     bool   `json:"done,omitempty"`
	// Retry describes the polling budget; empty for a single evaluation.
	Retry string `json:"retry,omitempty"`
}

// GeneratePlan validates sc and describes its steps. defaults are the
// runtime retry options that unset eventually fields fall back to.
func GeneratePlan(sc Scenario, defaults runtime.EventuallyOptions) (ExecutionPlan, error) {
	vr := ValidateScenario(sc)
	if !vr.Valid() {
		return ExecutionPlan{}, fmt.Errorf("invalid scenario: %s", vr.Error())
	}

	plan := ExecutionPlan{Scenario: sc.Meta.Name, StartURL: sc.StartURL}
	var checks, required, interactive int
	for _, st := range sc.Steps {
		ps := PlanStep{Goal: st.Goal}
		for _, a := range st.Actions {
			ps.Actions = append(ps.Actions, a.String())
			if isInteractive(a) {
				ps.Interactive = true
			}
		}
		for _, a := range st.Assertions {
			ps.Checks = append(ps.Checks, planCheck(sc, a, defaults, false))
		}
		if st.Done != nil {
			ps.Checks = append(ps.Checks, planCheck(sc, *st.Done, defaults, true))
		}
		for _, c := range ps.Checks {
			checks++
			if c.Required {
				required++
			}
		}
		if ps.Interactive {
			interactive++
		}
		plan.Steps = append(plan.Steps, ps)
	}
	plan.Summary = fmt.Sprintf("%d step(s), %d check(s) (%d required), %d interactive step(s)",
		len(plan.Steps), checks, required, interactive)
	return plan, nil
}

func planCheck(sc Scenario, a Assertion, defaults runtime.EventuallyOptions, done bool) PlanCheck {
	c := PlanCheck{Label: a.DisplayLabel(), Required: a.Required || done, Done: done}
	if opts, ok := eventuallyFor(sc, a, defaults); ok {
		c.Retry = fmt.Sprintf("eventually within %s every %s", opts.Timeout, opts.PollInterval)
		if opts.MaxSnapshotAttempts > 0 {
			c.Retry += fmt.Sprintf(", at most %d snapshot(s)", opts.MaxSnapshotAttempts)
		}
		if opts.MinConfidence != nil {
			c.Retry += fmt.Sprintf(", confidence >= %g", *opts.MinConfidence)
		}
	}
	return c
}

// isInteractive reports whether the action changes page state through
// input rather than navigation.
func isInteractive(a Action) bool {
	switch a.Kind() {
	case "click", "type", "press", "evaluate":
		return true
	}
	return false
}

// eventuallyFor resolves the retry options for an assertion: the
// assertion's own settings, then the scenario's, then defaults. The second
// result is false when the assertion is evaluated only once.
func eventuallyFor(sc Scenario, a Assertion, defaults runtime.EventuallyOptions) (runtime.EventuallyOptions, bool) {
	if a.Eventually == nil || !a.Eventually.Enabled {
		return runtime.EventuallyOptions{}, false
	}
	opts := defaults
	opts.Snapshot = sc.Snapshot
	for _, e := range []*EventuallySpec{sc.Eventually, a.Eventually} {
		if e == nil {
			continue
		}
		if e.Timeout > 0 {
			opts.Timeout = time.Duration(e.Timeout)
		}
		if e.PollInterval > 0 {
			opts.PollInterval = time.Duration(e.PollInterval)
		}
		if e.MinConfidence != nil {
			opts.MinConfidence = e.MinConfidence
		}
		if e.MaxSnapshotAttempts > 0 {
			opts.MaxSnapshotAttempts = e.MaxSnapshotAttempts
		}
	}
	opts.Required = a.Required
	return opts, true
}
