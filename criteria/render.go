package criteria

import (
	"strconv"
	"strings"
)

// Param is a single bind parameter produced by rendering a criterion.
// The name exists for the log sink and for statement-level de-duplication;
// execution binds parameters positionally.
type Param struct {
	Name  string
	Value any
}

// Rendered is a parameterized SQL fragment produced from one criterion.
// The fragment uses one "?" placeholder per parameter; the owning builder
// rebinds placeholders to the dialect's native style.
type Rendered struct {
	SQL    string
	Params []Param
}

// ParamSet tracks bind-parameter names claimed within a single statement.
// When the same criterion name recurs, an increasing integer suffix is
// appended until an unused name is found.
type ParamSet struct {
	used map[string]struct{}
}

// NewParamSet returns an empty ParamSet for one statement.
func NewParamSet() *ParamSet {
	return &ParamSet{used: make(map[string]struct{})}
}

// claim reserves the base name, or base2, base3, ... if already taken.
func (p *ParamSet) claim(base string) string {
	name := base
	for n := 2; ; n++ {
		if _, ok := p.used[name]; !ok {
			p.used[name] = struct{}{}
			return name
		}
		name = base + strconv.Itoa(n)
	}
}

// Render renders the criterion against the given (possibly table-qualified)
// column into a parameterized fragment, and freezes the criterion.
//
// Rendering rules:
//   - null scalar with EqualTo/Like renders "col IS NULL"; with
//     NotEqualTo/NotLike renders "col IS NOT NULL".
//   - an ordered list with EqualTo/Like renders "col IN (...)"; with
//     NotEqualTo/NotLike renders "col NOT IN (...)", one parameter per
//     element named <criterionName><index>.
//   - an ordered list with an ordering operator collapses to its boundary
//     value and renders as a scalar comparison.
//   - an empty list renders a constant predicate: always-false for IN,
//     always-true for NOT IN.
func (c *Criterion) Render(column string, params *ParamSet) Rendered {
	c.frozen = true
	op, value, values := c.effective()
	switch {
	case values != nil:
		if len(values) == 0 {
			if op.negated() {
				return Rendered{SQL: "1 = 1"}
			}
			return Rendered{SQL: "1 = 0"}
		}
		base := params.claim(c.name)
		var sb strings.Builder
		sb.WriteString(column)
		if op.negated() {
			sb.WriteString(" NOT IN (")
		} else {
			sb.WriteString(" IN (")
		}
		rendered := Rendered{Params: make([]Param, 0, len(values))}
		for i, v := range values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			// Element names go through the set too, so a scalar criterion
			// spelled like an element (e.g. "id2" next to list "id") cannot
			// collide in the log rendering.
			rendered.Params = append(rendered.Params, Param{
				Name:  params.claim(base + strconv.Itoa(i)),
				Value: v,
			})
		}
		sb.WriteString(")")
		rendered.SQL = sb.String()
		return rendered
	case value == nil:
		if op.negated() {
			return Rendered{SQL: column + " IS NOT NULL"}
		}
		return Rendered{SQL: column + " IS NULL"}
	default:
		name := params.claim(c.name)
		return Rendered{
			SQL:    column + " " + op.String() + " ?",
			Params: []Param{{Name: name, Value: value}},
		}
	}
}

// AlwaysFalse is the constant predicate substituted for a criterion whose
// column cannot be resolved against any table in the statement, under the
// always-false policy.
const AlwaysFalse = "1 = 0"
