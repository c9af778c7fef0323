// Package spec loads declarative verification scenarios and runs them
// against a Runtime.
package spec

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/verify"
)

const (
	APIVersion = "agbrowse/v1"
	Kind       = "Scenario"
)

// Scenario is a sequence of verified steps against one site.
type Scenario struct {
	APIVersion string     `yaml:"apiVersion" json:"apiVersion"`
	Kind       string     `yaml:"kind" json:"kind"`
	Meta       Meta       `yaml:"meta" json:"meta"`
	Params     []ParamDef `yaml:"params" json:"params,omitempty"`
	// StartURL is loaded into the active tab before the first step.
	StartURL string               `yaml:"start_url" json:"start_url,omitempty"`
	Snapshot page.SnapshotOptions `yaml:"snapshot" json:"snapshot"`
	// Eventually overrides the runtime retry defaults for every step.
	Eventually *EventuallySpec `yaml:"eventually" json:"eventually,omitempty"`
	Steps      []Step          `yaml:"steps" json:"steps"`
}

// Meta contains metadata about the scenario.
type Meta struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Author      string   `yaml:"author" json:"author,omitempty"`
	Tags        []string `yaml:"tags" json:"tags,omitempty"`
}

// ParamDef defines a value supplied at run time.
type ParamDef struct {
	Name        string `yaml:"name" json:"name"`
	Default     any    `yaml:"default" json:"default,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required,omitempty"`
}

// Step is one goal, the actions that should achieve it, and the checks that
// prove it did.
type Step struct {
	Goal       string      `yaml:"goal" json:"goal"`
	Actions    []Action    `yaml:"actions" json:"actions,omitempty"`
	Assertions []Assertion `yaml:"assertions" json:"assertions,omitempty"`
	// Done is the terminal check; when it passes the task is complete.
	Done *Assertion `yaml:"done" json:"done,omitempty"`
}

// Action is one browser operation. Exactly one field is set.
type Action struct {
	Navigate  string      `yaml:"navigate,omitempty" json:"navigate,omitempty"`
	OpenTab   string      `yaml:"open_tab,omitempty" json:"open_tab,omitempty"`
	SwitchTab *int        `yaml:"switch_tab,omitempty" json:"switch_tab,omitempty"`
	CloseTab  bool        `yaml:"close_tab,omitempty" json:"close_tab,omitempty"`
	Click     string      `yaml:"click,omitempty" json:"click,omitempty"`
	Type      *TypeAction `yaml:"type,omitempty" json:"type,omitempty"`
	Press     string      `yaml:"press,omitempty" json:"press,omitempty"`
	Evaluate  string      `yaml:"evaluate,omitempty" json:"evaluate,omitempty"`
	Wait      Duration    `yaml:"wait,omitempty" json:"wait,omitempty"`
}

// TypeAction types text into the best match of a selector.
type TypeAction struct {
	Selector string `yaml:"selector" json:"selector"`
	Text     string `yaml:"text" json:"text"`
}

// Kind names the operation the action performs, or "" when none or more
// than one field is set.
func (a Action) Kind() string {
	var kinds []string
	if a.Navigate != "" {
		kinds = append(kinds, "navigate")
	}
	if a.OpenTab != "" {
		kinds = append(kinds, "open_tab")
	}
	if a.SwitchTab != nil {
		kinds = append(kinds, "switch_tab")
	}
	if a.CloseTab {
		kinds = append(kinds, "close_tab")
	}
	if a.Click != "" {
		kinds = append(kinds, "click")
	}
	if a.Type != nil {
		kinds = append(kinds, "type")
	}
	if a.Press != "" {
		kinds = append(kinds, "press")
	}
	if a.Evaluate != "" {
		kinds = append(kinds, "evaluate")
	}
	if a.Wait > 0 {
		kinds = append(kinds, "wait")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (a Action) String() string {
	switch a.Kind() {
	case "navigate":
		return "navigate " + a.Navigate
	case "open_tab":
		return "open tab " + a.OpenTab
	case "switch_tab":
		return fmt.Sprintf("switch to tab %d", *a.SwitchTab)
	case "close_tab":
		return "close active tab"
	case "click":
		return "click " + a.Click
	case "type":
		return fmt.Sprintf("type %q into %s", a.Type.Text, a.Type.Selector)
	case "press":
		return "press " + a.Press
	case "evaluate":
		return "evaluate script"
	case "wait":
		return "wait " + time.Duration(a.Wait).String()
	}
	return "invalid action"
}

// Assertion is a declarative check with optional retry.
type Assertion struct {
	verify.AssertionDef `yaml:",inline"`
	Eventually          *EventuallySpec `yaml:"eventually,omitempty" json:"eventually,omitempty"`
}

// EventuallySpec configures a retry loop. In YAML it is either a mapping or
// the shorthand `eventually: true` for runtime defaults.
type EventuallySpec struct {
	Enabled             bool     `yaml:"-" json:"-"`
	Timeout             Duration `yaml:"timeout" json:"timeout,omitempty"`
	PollInterval        Duration `yaml:"poll_interval" json:"poll_interval,omitempty"`
	MinConfidence       *float64 `yaml:"min_confidence" json:"min_confidence,omitempty"`
	MaxSnapshotAttempts int      `yaml:"max_snapshot_attempts" json:"max_snapshot_attempts,omitempty"`
}

func (e *EventuallySpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var on bool
		if err := n.Decode(&on); err != nil {
			return fmt.Errorf("eventually: want a boolean or a mapping: %w", err)
		}
		*e = EventuallySpec{Enabled: on}
		return nil
	}
	type plain EventuallySpec
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*e = EventuallySpec(p)
	e.Enabled = true
	return nil
}

// Duration is a time.Duration written as "250ms" or "10s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
