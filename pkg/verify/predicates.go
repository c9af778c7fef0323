package verify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/query"
)

// Predicate evaluates one verifiable condition. The error return is the
// fault channel: it is never a verification failure, and Evaluate turns it
// into a failed Outcome at the boundary.
type Predicate func(Context) (Outcome, error)

// NoSnapshotReason is the reason given when a snapshot-based predicate runs
// before any snapshot was taken.
const NoSnapshotReason = "no snapshot available"

// Evaluate runs p and converts faults (errors and panics) into failed
// outcomes. It never panics.
func Evaluate(p Predicate, c Context) (out Outcome) {
	if p == nil {
		return fail("predicate fault: nil predicate", FaultDetails{ReasonCode: ReasonPredicateFault, Error: "nil predicate"})
	}
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			out = fail("predicate panicked: "+msg, FaultDetails{ReasonCode: ReasonPredicatePanic, Error: msg})
		}
	}()

	out, err := p(c)
	if err != nil {
		var pe *query.ParseError
		if errors.As(err, &pe) {
			return fail("invalid selector: "+err.Error(), FaultDetails{ReasonCode: ReasonParseError, Error: err.Error()})
		}
		return fail("predicate fault: "+err.Error(), FaultDetails{ReasonCode: ReasonPredicateFault, Error: err.Error()})
	}
	if out.Passed {
		out.Reason = ""
	} else if out.Reason == "" {
		out.Reason = "predicate failed"
	}
	return out
}

// URLMatches passes when the current URL matches the regular expression.
func URLMatches(pattern string) Predicate {
	re, compileErr := regexp.Compile(pattern)
	return func(c Context) (Outcome, error) {
		if compileErr != nil {
			return Outcome{}, fmt.Errorf("url_matches: invalid pattern %q: %w", pattern, compileErr)
		}
		d := URLDetails{URL: c.URL, Pattern: pattern, Match: "regex"}
		if c.URL == "" {
			return fail("no url available", d), nil
		}
		if re.MatchString(c.URL) {
			return pass(d), nil
		}
		return fail(fmt.Sprintf("url %q does not match %q", c.URL, pattern), d), nil
	}
}

// URLContains passes when the current URL contains sub.
func URLContains(sub string) Predicate {
	return func(c Context) (Outcome, error) {
		d := URLDetails{URL: c.URL, Pattern: sub, Match: "contains"}
		if c.URL == "" {
			return fail("no url available", d), nil
		}
		if strings.Contains(c.URL, sub) {
			return pass(d), nil
		}
		return fail(fmt.Sprintf("url %q does not contain %q", c.URL, sub), d), nil
	}
}

// URLEndsWith passes when the current URL ends with suffix.
func URLEndsWith(suffix string) Predicate {
	return func(c Context) (Outcome, error) {
		d := URLDetails{URL: c.URL, Pattern: suffix, Match: "suffix"}
		if c.URL == "" {
			return fail("no url available", d), nil
		}
		if strings.HasSuffix(c.URL, suffix) {
			return pass(d), nil
		}
		return fail(fmt.Sprintf("url %q does not end with %q", c.URL, suffix), d), nil
	}
}

// Exists passes when at least one element matches selector.
func Exists(selector string) Predicate {
	sel, parseErr := query.Parse(selector)
	return func(c Context) (Outcome, error) {
		if parseErr != nil {
			return Outcome{}, parseErr
		}
		if c.Snapshot == nil {
			return fail(NoSnapshotReason, SelectorDetails{Selector: selector, NoSnapshot: true}), nil
		}
		matches := sel.Query(c.Snapshot)
		d := SelectorDetails{Selector: selector, MatchCount: len(matches), MatchedIDs: elementIDs(matches)}
		if len(matches) == 0 {
			return fail(fmt.Sprintf("no element matches selector %q", selector), d), nil
		}
		return pass(d), nil
	}
}

// NotExists passes when no element matches selector.
func NotExists(selector string) Predicate {
	sel, parseErr := query.Parse(selector)
	return func(c Context) (Outcome, error) {
		if parseErr != nil {
			return Outcome{}, parseErr
		}
		if c.Snapshot == nil {
			return fail(NoSnapshotReason, SelectorDetails{Selector: selector, NoSnapshot: true}), nil
		}
		matches := sel.Query(c.Snapshot)
		d := SelectorDetails{Selector: selector, MatchCount: len(matches), MatchedIDs: elementIDs(matches)}
		if len(matches) > 0 {
			return fail(fmt.Sprintf("%d element(s) match selector %q, expected none", len(matches), selector), d), nil
		}
		return pass(d), nil
	}
}

// CountBounds bounds an element count. Max is optional.
type CountBounds struct {
	Min int
	Max *int
}

// ElementCount passes when the number of matches lies within bounds.
func ElementCount(selector string, bounds CountBounds) Predicate {
	sel, parseErr := query.Parse(selector)
	return func(c Context) (Outcome, error) {
		if parseErr != nil {
			return Outcome{}, parseErr
		}
		d := CountDetails{Selector: selector, Min: bounds.Min, Max: bounds.Max}
		if c.Snapshot == nil {
			d.NoSnapshot = true
			return fail(NoSnapshotReason, d), nil
		}
		n := len(sel.Query(c.Snapshot))
		d.Count = n
		if bounds.Max == nil {
			if n < bounds.Min {
				return fail(fmt.Sprintf("expected at least %d element(s) matching %q, found %d", bounds.Min, selector, n), d), nil
			}
			return pass(d), nil
		}
		if n < bounds.Min || n > *bounds.Max {
			return fail(fmt.Sprintf("expected between %d and %d element(s) matching %q, found %d", bounds.Min, *bounds.Max, selector, n), d), nil
		}
		return pass(d), nil
	}
}

// stateCheck inspects a resolved element. It returns the observed value and
// a failure reason, empty when the check passes.
type stateCheck func(el page.Element) (actual any, reason string)

func statePredicate(check, selector string, expected any, fn stateCheck) Predicate {
	sel, parseErr := query.Parse(selector)
	return func(c Context) (Outcome, error) {
		if parseErr != nil {
			return Outcome{}, parseErr
		}
		d := StateDetails{Selector: selector, Check: check, Expected: expected}
		if c.Snapshot == nil {
			d.NoSnapshot = true
			return fail(NoSnapshotReason, d), nil
		}
		el, ok := sel.Find(c.Snapshot)
		if !ok {
			return fail(fmt.Sprintf("no element matches selector %q", selector), d), nil
		}
		id := el.ID
		d.ElementID = &id
		actual, reason := fn(el)
		d.Actual = actual
		if reason != "" {
			return fail(fmt.Sprintf("element #%d matching %q %s", el.ID, selector, reason), d), nil
		}
		return pass(d), nil
	}
}

func boolValue(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

// IsEnabled passes when the best match is not disabled.
func IsEnabled(selector string) Predicate {
	return statePredicate("is_enabled", selector, true, func(el page.Element) (any, string) {
		if el.Disabled != nil && *el.Disabled {
			return boolValue(el.Disabled), "is disabled"
		}
		return boolValue(el.Disabled), ""
	})
}

// IsDisabled passes when the best match reports disabled=true.
func IsDisabled(selector string) Predicate {
	return statePredicate("is_disabled", selector, true, func(el page.Element) (any, string) {
		if el.Disabled == nil || !*el.Disabled {
			return boolValue(el.Disabled), "is not disabled"
		}
		return true, ""
	})
}

// IsChecked passes when the best match reports checked=true.
func IsChecked(selector string) Predicate {
	return statePredicate("is_checked", selector, true, func(el page.Element) (any, string) {
		if el.Checked == nil || !*el.Checked {
			return boolValue(el.Checked), "is not checked"
		}
		return true, ""
	})
}

// IsUnchecked passes when the best match is not checked.
func IsUnchecked(selector string) Predicate {
	return statePredicate("is_unchecked", selector, false, func(el page.Element) (any, string) {
		if el.Checked != nil && *el.Checked {
			return true, "is checked"
		}
		return boolValue(el.Checked), ""
	})
}

// ValueEquals passes when the best match's value equals want exactly.
func ValueEquals(selector, want string) Predicate {
	return statePredicate("value_equals", selector, want, func(el page.Element) (any, string) {
		if el.Value == nil {
			return nil, "has no value"
		}
		if *el.Value != want {
			return *el.Value, fmt.Sprintf("has value %q, expected %q", *el.Value, want)
		}
		return *el.Value, ""
	})
}

// ValueContains passes when the best match's value contains sub,
// case-insensitively.
func ValueContains(selector, sub string) Predicate {
	return statePredicate("value_contains", selector, sub, func(el page.Element) (any, string) {
		if el.Value == nil {
			return nil, "has no value"
		}
		if !strings.Contains(strings.ToLower(*el.Value), strings.ToLower(sub)) {
			return *el.Value, fmt.Sprintf("has value %q, which does not contain %q", *el.Value, sub)
		}
		return *el.Value, ""
	})
}

// IsExpanded passes when the best match reports expanded=true.
func IsExpanded(selector string) Predicate {
	return statePredicate("is_expanded", selector, true, func(el page.Element) (any, string) {
		if el.Expanded == nil || !*el.Expanded {
			return boolValue(el.Expanded), "is not expanded"
		}
		return true, ""
	})
}

// IsCollapsed passes when the best match is not expanded.
func IsCollapsed(selector string) Predicate {
	return statePredicate("is_collapsed", selector, false, func(el page.Element) (any, string) {
		if el.Expanded != nil && *el.Expanded {
			return true, "is expanded"
		}
		return boolValue(el.Expanded), ""
	})
}

func elementIDs(elems []page.Element) []int {
	if len(elems) == 0 {
		return nil
	}
	out := make([]int, len(elems))
	for i, el := range elems {
		out[i] = el.ID
	}
	return out
}
