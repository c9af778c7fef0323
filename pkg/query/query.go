// Package query implements the selector grammar used to address elements of
// a snapshot.
//
// A selector is a list of whitespace-separated clauses that are ANDed
// together. Each clause has the form `field OP value`:
//
//	role=button clickable=true text~"sign in" importance>=0.5
//
// Operators: = != ~ (case-insensitive substring) ^= (prefix) $= (suffix)
// and the numeric comparisons > >= < <=.
// Fields: role, text, clickable, visible, importance, bbox.x, bbox.y,
// bbox.width, bbox.height, z_index.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cgast/agbrowse/pkg/page"
)

// Op is a clause operator.
type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpContains Op = "~"
	OpPrefix   Op = "^="
	OpSuffix   Op = "$="
	OpGt       Op = ">"
	OpGe       Op = ">="
	OpLt       Op = "<"
	OpLe       Op = "<="
)

// operators is ordered so that two-character operators win over their
// one-character prefixes.
var operators = []Op{OpGe, OpLe, OpNe, OpPrefix, OpSuffix, OpEq, OpContains, OpGt, OpLt}

// ParseError reports a malformed selector. Clause is the offending clause.
type ParseError struct {
	Selector string
	Clause   string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Clause == "" {
		return fmt.Sprintf("query: invalid selector %q: %s", e.Selector, e.Reason)
	}
	return fmt.Sprintf("query: invalid clause %q in selector %q: %s", e.Clause, e.Selector, e.Reason)
}

// Clause is one parsed `field OP value` condition.
type Clause struct {
	Field string
	Op    Op
	Value string

	num     float64
	boolean bool
	field   fieldSpec
}

func (c Clause) String() string {
	v := c.Value
	if v == "" || strings.ContainsAny(v, " \t\"") {
		v = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return c.Field + string(c.Op) + v
}

func (c Clause) match(el page.Element) bool {
	switch c.field.kind {
	case kindString:
		return matchString(c.Op, c.field.str(el), c.Value)
	case kindBool:
		got := c.field.boolean(el)
		if c.Op == OpEq {
			return got == c.boolean
		}
		return got != c.boolean
	case kindNumber:
		return matchNumber(c.Op, c.field.num(el), c.num)
	}
	return false
}

func matchString(op Op, got, want string) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpContains:
		return strings.Contains(strings.ToLower(got), strings.ToLower(want))
	case OpPrefix:
		return strings.HasPrefix(strings.ToLower(got), strings.ToLower(want))
	case OpSuffix:
		return strings.HasSuffix(strings.ToLower(got), strings.ToLower(want))
	}
	return false
}

func matchNumber(op Op, got, want float64) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpGt:
		return got > want
	case OpGe:
		return got >= want
	case OpLt:
		return got < want
	case OpLe:
		return got <= want
	}
	return false
}

// Selector is a compiled selector. The zero value matches nothing.
type Selector struct {
	raw     string
	clauses []Clause
}

// String returns the selector source text.
func (s *Selector) String() string { return s.raw }

// Clauses returns a copy of the parsed clauses.
func (s *Selector) Clauses() []Clause {
	out := make([]Clause, len(s.clauses))
	copy(out, s.clauses)
	return out
}

// Match reports whether el satisfies every clause.
func (s *Selector) Match(el page.Element) bool {
	if s == nil || len(s.clauses) == 0 {
		return false
	}
	for _, c := range s.clauses {
		if !c.match(el) {
			return false
		}
	}
	return true
}

// Query returns all matching elements in snapshot order.
func (s *Selector) Query(snap *page.Snapshot) []page.Element {
	if snap == nil {
		return nil
	}
	var out []page.Element
	for _, el := range snap.Elements {
		if s.Match(el) {
			out = append(out, el)
		}
	}
	return out
}

// Find returns the highest-importance match; ties go to the lowest id.
func (s *Selector) Find(snap *page.Snapshot) (page.Element, bool) {
	matches := s.Query(snap)
	if len(matches) == 0 {
		return page.Element{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Importance != matches[j].Importance {
			return matches[i].Importance > matches[j].Importance
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], true
}

// Query parses selector and returns all matching elements in snapshot order.
func Query(snap *page.Snapshot, selector string) ([]page.Element, error) {
	sel, err := Parse(selector)
	if err != nil {
		return nil, err
	}
	return sel.Query(snap), nil
}

// Find parses selector and returns the single best match.
func Find(snap *page.Snapshot, selector string) (page.Element, bool, error) {
	sel, err := Parse(selector)
	if err != nil {
		return page.Element{}, false, err
	}
	el, ok := sel.Find(snap)
	return el, ok, nil
}
