package verify

import (
	"fmt"
	"time"
)

// Intent declares what a step is supposed to achieve.
type Intent struct {
	Description string         `json:"description" yaml:"description"`
	Assertions  []AssertionDef `json:"assertions" yaml:"assertions"`
}

// AssertionDef is the declarative form of a predicate, as written in
// scenario files and JSON-RPC requests.
type AssertionDef struct {
	Type     string `json:"type" yaml:"type"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	// Expected is the pattern, substring or value the check compares against.
	Expected string         `json:"expected,omitempty" yaml:"expected,omitempty"`
	Min      *int           `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *int           `json:"max,omitempty" yaml:"max,omitempty"`
	Of       []AssertionDef `json:"of,omitempty" yaml:"of,omitempty"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	Required bool           `json:"required,omitempty" yaml:"required,omitempty"`
}

// DisplayLabel returns Label, or a label derived from the definition.
func (d AssertionDef) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	switch {
	case d.Selector != "" && d.Expected != "":
		return fmt.Sprintf("%s(%s, %q)", d.Type, d.Selector, d.Expected)
	case d.Selector != "":
		return fmt.Sprintf("%s(%s)", d.Type, d.Selector)
	case d.Expected != "":
		return fmt.Sprintf("%s(%q)", d.Type, d.Expected)
	default:
		return d.Type
	}
}

// VerificationResult holds the outcome of checking an intent.
type VerificationResult struct {
	Passed    bool              `json:"passed"`
	Results   []AssertionResult `json:"results"`
	Timestamp time.Time         `json:"timestamp"`
}

// AssertionResult records the outcome of a single assertion.
type AssertionResult struct {
	Assertion AssertionDef `json:"assertion"`
	Label     string       `json:"label"`
	Outcome   Outcome      `json:"outcome"`
}
