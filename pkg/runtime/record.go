package runtime

import (
	"encoding/json"
	"time"

	"github.com/cgast/agbrowse/pkg/verify"
)

// AssertionRecord is one evaluated assertion of a step.
type AssertionRecord struct {
	Label     string
	Required  bool
	Outcome   verify.Outcome
	Timestamp time.Time
}

// Passed reports the outcome.
func (a AssertionRecord) Passed() bool { return a.Outcome.Passed }

// Map renders the record as written to the trace.
func (a AssertionRecord) Map() map[string]any {
	m := map[string]any{
		"label":     a.Label,
		"passed":    a.Outcome.Passed,
		"required":  a.Required,
		"timestamp": a.Timestamp.Format(time.RFC3339Nano),
	}
	if a.Outcome.Reason != "" {
		m["reason"] = a.Outcome.Reason
	}
	if d := verify.DetailsMap(a.Outcome.Details); d != nil {
		m["details"] = d
	}
	return m
}

func (a AssertionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Map())
}

// StepEnd is the aggregated verification record of a step.
type StepEnd struct {
	StepID     string            `json:"step_id"`
	Goal       string            `json:"goal"`
	Assertions []AssertionRecord `json:"assertions"`
	TaskDone   bool              `json:"task_done"`
}

// RequiredPassed reports whether every required assertion passed.
func (s StepEnd) RequiredPassed() bool {
	for _, a := range s.Assertions {
		if a.Required && !a.Passed() {
			return false
		}
	}
	return true
}

// Failed returns the failing records in evaluation order.
func (s StepEnd) Failed() []AssertionRecord {
	var out []AssertionRecord
	for _, a := range s.Assertions {
		if !a.Passed() {
			out = append(out, a)
		}
	}
	return out
}

func (s StepEnd) traceData() map[string]any {
	recs := make([]any, len(s.Assertions))
	for i, a := range s.Assertions {
		recs[i] = a.Map()
	}
	return map[string]any{
		"goal":       s.Goal,
		"assertions": recs,
		"task_done":  s.TaskDone,
	}
}

// StepInfo is a read-only view of the current step for observers.
type StepInfo struct {
	ID         string `json:"id"`
	Goal       string `json:"goal"`
	Open       bool   `json:"open"`
	TaskDone   bool   `json:"task_done"`
	Assertions int    `json:"assertions"`
	Failed     int    `json:"failed"`
}
