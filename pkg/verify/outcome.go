package verify

import (
	"encoding/json"
	"time"

	"github.com/cgast/agbrowse/pkg/page"
)

// Context is the only state a predicate may observe.
type Context struct {
	Snapshot *page.Snapshot
	// URL is the current page URL; empty means unknown.
	URL    string
	StepID string
}

// Outcome is the result of evaluating one predicate. Reason is empty iff
// Passed is true.
type Outcome struct {
	Passed  bool
	Reason  string
	Details Details
}

// MarshalJSON renders details as a tagged object.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Passed  bool           `json:"passed"`
		Reason  string         `json:"reason,omitempty"`
		Details map[string]any `json:"details,omitempty"`
	}{o.Passed, o.Reason, DetailsMap(o.Details)})
}

// Details is a closed set of per-predicate payloads. Every implementation
// lives in this package.
type Details interface {
	Kind() string
	isDetails()
}

// URLDetails describes a URL check.
type URLDetails struct {
	URL     string `json:"url"`
	Pattern string `json:"pattern"`
	Match   string `json:"match"` // "regex", "contains", "suffix"
}

// SelectorDetails describes an existence check.
type SelectorDetails struct {
	Selector   string `json:"selector"`
	MatchCount int    `json:"match_count"`
	MatchedIDs []int  `json:"matched_ids,omitempty"`
	NoSnapshot bool   `json:"no_snapshot,omitempty"`
}

// CountDetails describes an element-count check.
type CountDetails struct {
	Selector   string `json:"selector"`
	Count      int    `json:"count"`
	Min        int    `json:"min"`
	Max        *int   `json:"max,omitempty"`
	NoSnapshot bool   `json:"no_snapshot,omitempty"`
}

// StateDetails describes an interaction-state check on a resolved element.
type StateDetails struct {
	Selector   string `json:"selector"`
	Check      string `json:"check"`
	ElementID  *int   `json:"element_id,omitempty"`
	Expected   any    `json:"expected,omitempty"`
	Actual     any    `json:"actual,omitempty"`
	NoSnapshot bool   `json:"no_snapshot,omitempty"`
}

// CombinatorDetails describes an all_of / any_of aggregate. Members holds the
// outcome of every evaluated member, in order.
type CombinatorDetails struct {
	Op             string    `json:"op"`
	FailedCount    int       `json:"failed_count"`
	MatchedAtIndex *int      `json:"matched_at_index,omitempty"`
	Members        []Outcome `json:"members"`
}

// CustomDetails describes a caller-supplied boolean check.
type CustomDetails struct {
	Label string `json:"label"`
}

// FaultDetails is attached when a predicate returned an error or panicked.
type FaultDetails struct {
	ReasonCode string `json:"reason_code"`
	Error      string `json:"error"`
}

// EventuallyDetails is attached to the final record of a retry loop.
type EventuallyDetails struct {
	ReasonCode     string         `json:"reason_code,omitempty"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts,omitempty"`
	Elapsed        time.Duration  `json:"elapsed_ns"`
	MinConfidence  *float64       `json:"min_confidence,omitempty"`
	LastConfidence *float64       `json:"last_confidence,omitempty"`
	Last           map[string]any `json:"last,omitempty"`
}

func (URLDetails) Kind() string        { return "url" }
func (SelectorDetails) Kind() string   { return "selector" }
func (CountDetails) Kind() string      { return "count" }
func (StateDetails) Kind() string      { return "state" }
func (CombinatorDetails) Kind() string { return "combinator" }
func (CustomDetails) Kind() string     { return "custom" }
func (FaultDetails) Kind() string      { return "fault" }
func (EventuallyDetails) Kind() string { return "eventually" }

func (URLDetails) isDetails()        {}
func (SelectorDetails) isDetails()   {}
func (CountDetails) isDetails()      {}
func (StateDetails) isDetails()      {}
func (CombinatorDetails) isDetails() {}
func (CustomDetails) isDetails()     {}
func (FaultDetails) isDetails()      {}
func (EventuallyDetails) isDetails() {}

// Reason codes carried in details.
const (
	ReasonParseError        = "parse_error"
	ReasonPredicateFault    = "predicate_fault"
	ReasonPredicatePanic    = "predicate_panic"
	ReasonSnapshotExhausted = "snapshot_exhausted"
	ReasonTimeout           = "timeout"
)

// DetailsMap flattens details into a JSON-ready map with a "kind" key, the
// shape written to the trace.
func DetailsMap(d Details) map[string]any {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return map[string]any{"kind": d.Kind(), "error": err.Error()}
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"kind": d.Kind(), "error": err.Error()}
	}
	m["kind"] = d.Kind()
	return m
}

// ReasonCode extracts the reason code carried by fault or eventually details.
func ReasonCode(d Details) string {
	switch v := d.(type) {
	case FaultDetails:
		return v.ReasonCode
	case EventuallyDetails:
		return v.ReasonCode
	}
	return ""
}

func pass(d Details) Outcome {
	return Outcome{Passed: true, Details: d}
}

func fail(reason string, d Details) Outcome {
	return Outcome{Passed: false, Reason: reason, Details: d}
}
