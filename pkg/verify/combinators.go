package verify

import (
	"fmt"
	"strings"
)

// AllOf passes when every member passes. All members are evaluated so the
// details carry the full picture; a faulting member counts as failed.
func AllOf(preds ...Predicate) Predicate {
	return func(c Context) (Outcome, error) {
		d := CombinatorDetails{Op: "all_of", Members: make([]Outcome, 0, len(preds))}
		var reasons []string
		for _, p := range preds {
			o := Evaluate(p, c)
			d.Members = append(d.Members, o)
			if !o.Passed {
				d.FailedCount++
				reasons = append(reasons, o.Reason)
			}
		}
		if d.FailedCount == 0 {
			return pass(d), nil
		}
		return fail(strings.Join(reasons, "; "), d), nil
	}
}

// AnyOf passes on the first member that passes. Members after the match are
// not evaluated. An empty AnyOf fails.
func AnyOf(preds ...Predicate) Predicate {
	return func(c Context) (Outcome, error) {
		d := CombinatorDetails{Op: "any_of", Members: make([]Outcome, 0, len(preds))}
		if len(preds) == 0 {
			return fail("any_of: no conditions given", d), nil
		}
		reasons := make([]string, 0, len(preds))
		for i, p := range preds {
			o := Evaluate(p, c)
			d.Members = append(d.Members, o)
			if o.Passed {
				idx := i
				d.MatchedAtIndex = &idx
				return pass(d), nil
			}
			d.FailedCount++
			reasons = append(reasons, o.Reason)
		}
		return fail(strings.Join(reasons, "; "), d), nil
	}
}

// Custom wraps a plain boolean check. An error or panic from fn is a fault
// and is reported with label.
func Custom(label string, fn func(Context) (bool, error)) Predicate {
	return func(c Context) (out Outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: panic: %v", label, r)
			}
		}()
		ok, ferr := fn(c)
		if ferr != nil {
			return Outcome{}, fmt.Errorf("%s: %w", label, ferr)
		}
		d := CustomDetails{Label: label}
		if !ok {
			return fail(fmt.Sprintf("custom check %q returned false", label), d), nil
		}
		return pass(d), nil
	}
}
