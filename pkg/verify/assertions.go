package verify

import (
	"fmt"
	"sort"

	"github.com/cgast/agbrowse/pkg/query"
)

// Builder turns an assertion definition into a predicate.
type Builder func(def AssertionDef) (Predicate, error)

// builtinBuilders maps assertion type names to their builders.
var builtinBuilders = map[string]Builder{
	"url_matches":    expectedBuilder(URLMatches),
	"url_contains":   expectedBuilder(URLContains),
	"url_ends_with":  expectedBuilder(URLEndsWith),
	"exists":         selectorBuilder(Exists),
	"not_exists":     selectorBuilder(NotExists),
	"element_count":  buildElementCount,
	"is_enabled":     selectorBuilder(IsEnabled),
	"is_disabled":    selectorBuilder(IsDisabled),
	"is_checked":     selectorBuilder(IsChecked),
	"is_unchecked":   selectorBuilder(IsUnchecked),
	"is_expanded":    selectorBuilder(IsExpanded),
	"is_collapsed":   selectorBuilder(IsCollapsed),
	"value_equals":   selectorValueBuilder(ValueEquals),
	"value_contains": selectorValueBuilder(ValueContains),
}

// Combinators build their members through Build, so they are registered
// after the map exists.
func init() {
	builtinBuilders["all_of"] = combinatorBuilder(AllOf)
	builtinBuilders["any_of"] = combinatorBuilder(AnyOf)
}

// RegisterBuilder adds a custom assertion type.
func RegisterBuilder(name string, b Builder) {
	builtinBuilders[name] = b
}

// GetBuilder returns the builder for an assertion type, or nil if not found.
func GetBuilder(name string) Builder {
	return builtinBuilders[name]
}

// Types lists the registered assertion types in sorted order.
func Types() []string {
	out := make([]string, 0, len(builtinBuilders))
	for name := range builtinBuilders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build compiles def into a predicate. Unknown types, missing arguments and
// invalid selectors are reported here rather than at evaluation time.
func Build(def AssertionDef) (Predicate, error) {
	b := GetBuilder(def.Type)
	if b == nil {
		return nil, fmt.Errorf("unknown assertion type: %q", def.Type)
	}
	p, err := b(def)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Type, err)
	}
	return p, nil
}

func expectedBuilder(fn func(string) Predicate) Builder {
	return func(def AssertionDef) (Predicate, error) {
		if def.Expected == "" {
			return nil, fmt.Errorf("expected is required")
		}
		return fn(def.Expected), nil
	}
}

func checkSelector(def AssertionDef) error {
	if def.Selector == "" {
		return fmt.Errorf("selector is required")
	}
	if _, err := query.Parse(def.Selector); err != nil {
		return err
	}
	return nil
}

func selectorBuilder(fn func(string) Predicate) Builder {
	return func(def AssertionDef) (Predicate, error) {
		if err := checkSelector(def); err != nil {
			return nil, err
		}
		return fn(def.Selector), nil
	}
}

func selectorValueBuilder(fn func(string, string) Predicate) Builder {
	return func(def AssertionDef) (Predicate, error) {
		if err := checkSelector(def); err != nil {
			return nil, err
		}
		return fn(def.Selector, def.Expected), nil
	}
}

func buildElementCount(def AssertionDef) (Predicate, error) {
	if err := checkSelector(def); err != nil {
		return nil, err
	}
	bounds := CountBounds{Max: def.Max}
	if def.Min != nil {
		bounds.Min = *def.Min
	}
	if bounds.Min < 0 {
		return nil, fmt.Errorf("min must be non-negative, got %d", bounds.Min)
	}
	if bounds.Max != nil && *bounds.Max < bounds.Min {
		return nil, fmt.Errorf("max %d is below min %d", *bounds.Max, bounds.Min)
	}
	return ElementCount(def.Selector, bounds), nil
}

func combinatorBuilder(fn func(...Predicate) Predicate) Builder {
	return func(def AssertionDef) (Predicate, error) {
		if len(def.Of) == 0 {
			return nil, fmt.Errorf("of must list at least one assertion")
		}
		members := make([]Predicate, 0, len(def.Of))
		for i, sub := range def.Of {
			p, err := Build(sub)
			if err != nil {
				return nil, fmt.Errorf("of[%d]: %w", i, err)
			}
			members = append(members, p)
		}
		return fn(members...), nil
	}
}
