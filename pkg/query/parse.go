package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cgast/agbrowse/pkg/page"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindBool
	kindNumber
)

type fieldSpec struct {
	kind    fieldKind
	str     func(page.Element) string
	boolean func(page.Element) bool
	num     func(page.Element) float64
}

// fields is the public field table. Prompts and predicates are written
// against these names, so entries are only ever added.
var fields = map[string]fieldSpec{
	"role":        {kind: kindString, str: func(e page.Element) string { return e.Role }},
	"text":        {kind: kindString, str: func(e page.Element) string { return e.Text }},
	"clickable":   {kind: kindBool, boolean: func(e page.Element) bool { return e.VisualCues.IsClickable }},
	"visible":     {kind: kindBool, boolean: page.Element.Visible},
	"importance":  {kind: kindNumber, num: func(e page.Element) float64 { return e.Importance }},
	"bbox.x":      {kind: kindNumber, num: func(e page.Element) float64 { return e.BBox.X }},
	"bbox.y":      {kind: kindNumber, num: func(e page.Element) float64 { return e.BBox.Y }},
	"bbox.width":  {kind: kindNumber, num: func(e page.Element) float64 { return e.BBox.Width }},
	"bbox.height": {kind: kindNumber, num: func(e page.Element) float64 { return e.BBox.Height }},
	"z_index":     {kind: kindNumber, num: func(e page.Element) float64 { return float64(e.ZIndex) }},
}

// Fields returns the supported field names in sorted order.
func Fields() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustParse is like Parse but panics on error.
func MustParse(selector string) *Selector {
	sel, err := Parse(selector)
	if err != nil {
		panic(err)
	}
	return sel
}

// Parse compiles a selector. An empty selector is an error rather than a
// match-all.
func Parse(selector string) (*Selector, error) {
	tokens, err := tokenize(selector)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &ParseError{Selector: selector, Reason: "empty selector"}
	}

	sel := &Selector{raw: selector, clauses: make([]Clause, 0, len(tokens))}
	for _, tok := range tokens {
		c, reason := parseClause(tok)
		if reason != "" {
			return nil, &ParseError{Selector: selector, Clause: tok, Reason: reason}
		}
		sel.clauses = append(sel.clauses, c)
	}
	return sel, nil
}

// tokenize splits on whitespace outside double quotes. Quotes stay in the
// token so parseClause can tell `text=""` from `text=`.
func tokenize(selector string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range selector {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, &ParseError{Selector: selector, Clause: cur.String(), Reason: "unterminated quote"}
	}
	flush()
	return tokens, nil
}

func parseClause(tok string) (Clause, string) {
	end := 0
	for end < len(tok) && isFieldChar(tok[end]) {
		end++
	}
	name := tok[:end]
	if name == "" {
		return Clause{}, "missing field name"
	}
	spec, ok := fields[name]
	if !ok {
		return Clause{}, "unknown field " + strconv.Quote(name)
	}

	rest := tok[end:]
	var op Op
	for _, candidate := range operators {
		if strings.HasPrefix(rest, string(candidate)) {
			op = candidate
			break
		}
	}
	if op == "" {
		return Clause{}, "missing operator"
	}

	raw := rest[len(op):]
	value, wasQuoted, err := unquote(raw)
	if err != "" {
		return Clause{}, err
	}
	if value == "" && !wasQuoted {
		return Clause{}, "missing value"
	}

	c := Clause{Field: name, Op: op, Value: value, field: spec}
	switch spec.kind {
	case kindString:
		switch op {
		case OpEq, OpNe, OpContains, OpPrefix, OpSuffix:
		default:
			return Clause{}, "operator " + string(op) + " is not valid for string field " + name
		}
	case kindBool:
		if op != OpEq && op != OpNe {
			return Clause{}, "operator " + string(op) + " is not valid for boolean field " + name
		}
		b, perr := strconv.ParseBool(value)
		if perr != nil || (value != "true" && value != "false") {
			return Clause{}, "expected true or false, got " + strconv.Quote(value)
		}
		c.boolean = b
	case kindNumber:
		switch op {
		case OpContains, OpPrefix, OpSuffix:
			return Clause{}, "operator " + string(op) + " is not valid for numeric field " + name
		}
		n, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return Clause{}, "expected a number, got " + strconv.Quote(value)
		}
		c.num = n
	}
	return c, ""
}

func unquote(raw string) (string, bool, string) {
	if !strings.HasPrefix(raw, `"`) {
		if strings.Contains(raw, `"`) {
			return "", false, "unexpected quote in value"
		}
		return raw, false, ""
	}
	if len(raw) < 2 || !strings.HasSuffix(raw, `"`) {
		return "", true, "unterminated quote"
	}
	inner := raw[1 : len(raw)-1]
	var b strings.Builder
	escaped := false
	for _, r := range inner {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '"' {
			return "", true, "unexpected quote in value"
		}
		b.WriteRune(r)
	}
	return b.String(), true, ""
}

func isFieldChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '.'
}
