package fedsparql

import (
	"regexp"
	"strconv"
	"strings"
)

// Filter is a FILTER expression in SPARQL syntax together with the variables
// it references. Filters are shipped verbatim inside remote sub-queries; when
// a filter lands on a local join it is evaluated with Eval, which supports a
// comparison subset of the expression language.
type Filter struct {
	Expr string   `json:"expr"`
	Vars []string `json:"vars"`
}

var filterVarRe = regexp.MustCompile(`[?$]([A-Za-z_][A-Za-z0-9_]*)`)

// NewFilter builds a filter and extracts its variables.
func NewFilter(expr string) Filter {
	expr = strings.TrimSpace(expr)
	var vars []string
	for _, m := range filterVarRe.FindAllStringSubmatch(stripQuoted(expr), -1) {
		if !containsString(vars, m[1]) {
			vars = append(vars, m[1])
		}
	}
	return Filter{Expr: expr, Vars: vars}
}

// CoveredBy reports whether every filter variable is in vars.
func (f Filter) CoveredBy(vars []string) bool {
	for _, v := range f.Vars {
		if !containsString(vars, v) {
			return false
		}
	}
	return true
}

// Eval evaluates the filter against a row. Supported forms are conjunctions
// and disjunctions of comparisons (=, !=, <, <=, >, >=) between variables and
// constants, and bound(?x) / !bound(?x). Comparisons over unbound variables are
// false, following SPARQL error semantics. Anything else is reported as an
// UnsupportedQueryShape error.
func (f Filter) Eval(row BindingSet) (bool, error) {
	return evalExpr(strings.TrimSpace(f.Expr), row, f.Expr)
}

func evalExpr(expr string, row BindingSet, full string) (bool, error) {
	expr = trimParens(expr)
	if parts := splitTopLevel(expr, "||"); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evalExpr(p, row, full)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if parts := splitTopLevel(expr, "&&"); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evalExpr(p, row, full)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	negate := false
	if strings.HasPrefix(expr, "!") && !strings.HasPrefix(expr, "!=") {
		negate = true
		expr = strings.TrimSpace(expr[1:])
	}
	if inner, ok := cutCall(expr, "bound"); ok {
		t, err := ParseTerm(inner)
		if err != nil || !t.IsVariable() {
			return false, unsupportedFilter(full)
		}
		_, bound := row[t.Value]
		return bound != negate, nil
	}
	if negate {
		ok, err := evalExpr(expr, row, full)
		return !ok && err == nil, err
	}
	lhs, op, rhs, ok := splitComparison(expr)
	if !ok {
		return false, unsupportedFilter(full)
	}
	l, lok, err := operand(lhs, row, full)
	if err != nil {
		return false, err
	}
	r, rok, err := operand(rhs, row, full)
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		return false, nil
	}
	return compareTerms(l, op, r), nil
}

func operand(s string, row BindingSet, full string) (Term, bool, error) {
	t, err := ParseTerm(s)
	if err != nil {
		return Term{}, false, unsupportedFilter(full)
	}
	if t.IsVariable() {
		v, ok := row[t.Value]
		return v, ok, nil
	}
	return t, true, nil
}

func compareTerms(l Term, op string, r Term) bool {
	if lf, lok := numericValue(l); lok {
		if rf, rok := numericValue(r); rok {
			switch op {
			case "=":
				return lf == rf
			case "!=":
				return lf != rf
			case "<":
				return lf < rf
			case "<=":
				return lf <= rf
			case ">":
				return lf > rf
			case ">=":
				return lf >= rf
			}
		}
	}
	switch op {
	case "=":
		return l == r
	case "!=":
		return l != r
	}
	if l.Kind != r.Kind {
		return false
	}
	c := strings.Compare(l.Value, r.Value)
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func numericValue(t Term) (float64, bool) {
	if t.Kind != TermKindLiteral || t.Lang != "" {
		return 0, false
	}
	if t.Datatype != "" && !strings.HasPrefix(t.Datatype, DefaultPrefixes["xsd"]) {
		return 0, false
	}
	f, err := strconv.ParseFloat(t.Value, 64)
	return f, err == nil
}

var comparisonOps = []string{"!=", "<=", ">=", "=", "<", ">"}

// splitComparison finds the first top-level comparison operator, skipping
// quoted literals and <iri> tokens.
func splitComparison(expr string) (string, string, string, bool) {
	inQuote := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if inQuote {
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
			continue
		}
		if c == '"' {
			inQuote = true
			continue
		}
		if c == '<' {
			if end := iriEnd(expr, i); end > 0 {
				i = end
				continue
			}
		}
		for _, op := range comparisonOps {
			if strings.HasPrefix(expr[i:], op) {
				lhs := strings.TrimSpace(expr[:i])
				rhs := strings.TrimSpace(expr[i+len(op):])
				if lhs == "" || rhs == "" {
					return "", "", "", false
				}
				return lhs, op, rhs, true
			}
		}
	}
	return "", "", "", false
}

// iriEnd returns the index of the closing '>' when expr[start:] begins an
// IRI token, or -1.
func iriEnd(expr string, start int) int {
	if start+1 >= len(expr) {
		return -1
	}
	next := expr[start+1]
	if next == ' ' || next == '=' {
		return -1
	}
	for j := start + 1; j < len(expr); j++ {
		switch expr[j] {
		case '>':
			return j
		case ' ', '\t', '"':
			return -1
		}
	}
	return -1
}

func splitTopLevel(expr, sep string) []string {
	var parts []string
	depth, last := 0, 0
	inQuote := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if inQuote {
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(expr[i:], sep) {
				parts = append(parts, strings.TrimSpace(expr[last:i]))
				i += len(sep) - 1
				last = i + 1
			}
		}
	}
	if parts == nil {
		return []string{expr}
	}
	return append(parts, strings.TrimSpace(expr[last:]))
}

func trimParens(expr string) string {
	for strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		inner := expr[1 : len(expr)-1]
		if !balanced(inner) {
			break
		}
		expr = strings.TrimSpace(inner)
	}
	return expr
}

func balanced(s string) bool {
	depth := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func cutCall(expr, name string) (string, bool) {
	lower := strings.ToLower(expr)
	if !strings.HasPrefix(lower, name) {
		return "", false
	}
	rest := strings.TrimSpace(expr[len(name):])
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return "", false
	}
	return strings.TrimSpace(rest[1 : len(rest)-1]), true
}

func stripQuoted(expr string) string {
	var sb strings.Builder
	inQuote := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if inQuote {
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
			continue
		}
		if c == '"' {
			inQuote = true
			sb.WriteByte(' ')
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func unsupportedFilter(expr string) error {
	return NewUnsupportedQueryShapeError(ErrCodeFilterNotEvaluable,
		"filter cannot be evaluated by the federator: "+expr)
}
