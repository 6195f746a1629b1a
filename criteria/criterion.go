package criteria

import (
	"fmt"
	"strings"
	"time"
)

// Criterion is a single named filter predicate: a column name, a comparison
// operator and a scalar or ordered-list value. A Criterion is mutable until
// it is first rendered into a SQL fragment, and frozen afterwards.
type Criterion struct {
	name     string
	operator Operator
	value    any   // scalar value; nil renders as IS [NOT] NULL.
	values   []any // ordered list value; takes precedence over value when set.
	frozen   bool
}

// New returns a Criterion comparing the named column to a scalar value.
func New(name string, op Operator, value any) *Criterion {
	c := &Criterion{name: name, operator: op}
	if vs, ok := value.([]any); ok {
		c.values = vs
	} else {
		c.value = value
	}
	return c
}

// NewList returns a Criterion comparing the named column to an ordered list.
func NewList(name string, op Operator, values ...any) *Criterion {
	return &Criterion{name: name, operator: op, values: values}
}

// Name returns the column name the criterion filters on.
func (c *Criterion) Name() string { return c.name }

// Operator returns the comparison operator.
func (c *Criterion) Operator() Operator { return c.operator }

// Value returns the scalar value, or nil for a list criterion.
func (c *Criterion) Value() any { return c.value }

// Values returns the ordered list value, or nil for a scalar criterion.
func (c *Criterion) Values() []any { return c.values }

// IsList reports if the criterion holds an ordered-list value.
func (c *Criterion) IsList() bool { return c.values != nil }

// IsNull reports if the criterion holds a null scalar value.
func (c *Criterion) IsNull() bool { return c.values == nil && c.value == nil }

// SetName changes the column name. It panics if the criterion was rendered.
func (c *Criterion) SetName(name string) *Criterion {
	c.checkMutable()
	c.name = name
	return c
}

// SetOperator changes the operator. It panics if the criterion was rendered.
func (c *Criterion) SetOperator(op Operator) *Criterion {
	c.checkMutable()
	c.operator = op
	return c
}

// SetValue changes the value. A []any becomes the ordered-list value; any
// other value becomes the scalar. It panics if the criterion was rendered.
func (c *Criterion) SetValue(value any) *Criterion {
	c.checkMutable()
	if vs, ok := value.([]any); ok {
		c.value, c.values = nil, vs
	} else {
		c.value, c.values = value, nil
	}
	return c
}

// Clone returns an unfrozen copy of the criterion.
func (c *Criterion) Clone() *Criterion {
	clone := &Criterion{name: c.name, operator: c.operator, value: c.value}
	if c.values != nil {
		clone.values = append([]any(nil), c.values...)
	}
	return clone
}

func (c *Criterion) checkMutable() {
	if c.frozen {
		panic(fmt.Sprintf("criteria: criterion %q is frozen after rendering", c.name))
	}
}

// effective returns the operator and value the criterion renders with, after
// applying the ordered-list collapse: a list combined with an ordering
// operator reduces to a single boundary value (minimum for GreaterThan /
// GreaterOrEqual, maximum for LessThan / LessOrEqual) and renders as an
// ordinary scalar comparison.
func (c *Criterion) effective() (Operator, any, []any) {
	if c.values == nil || !c.operator.Ordering() {
		if c.values != nil {
			return c.operator, nil, c.values
		}
		return c.operator, c.value, nil
	}
	bound := c.values[0]
	for _, v := range c.values[1:] {
		cmp := compareValues(v, bound)
		switch c.operator {
		case GreaterThan, GreaterOrEqual:
			if cmp < 0 {
				bound = v
			}
		case LessThan, LessOrEqual:
			if cmp > 0 {
				bound = v
			}
		}
	}
	return c.operator, bound, nil
}

// String renders the criterion as human-readable text with literal values,
// for the log sink only. List values wrap onto a new line every eight
// elements to keep long IN lists readable.
func (c *Criterion) String() string {
	op, value, values := c.effective()
	var sb strings.Builder
	sb.WriteString(c.name)
	switch {
	case values != nil:
		if op.negated() {
			sb.WriteString(" NOT IN (")
		} else {
			sb.WriteString(" IN (")
		}
		for i, v := range values {
			if i > 0 {
				sb.WriteString(", ")
				if i%8 == 0 {
					sb.WriteString("\n    ")
				}
			}
			sb.WriteString(formatValue(v))
		}
		sb.WriteString(")")
	case value == nil:
		if op.negated() {
			sb.WriteString(" IS NOT NULL")
		} else {
			sb.WriteString(" IS NULL")
		}
	default:
		sb.WriteString(" ")
		sb.WriteString(op.String())
		sb.WriteString(" ")
		sb.WriteString(formatValue(value))
	}
	return sb.String()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case time.Time:
		return "'" + v.UTC().Format(time.RFC3339) + "'"
	default:
		return fmt.Sprint(v)
	}
}

// RewriteLikeEquality rewrites every EqualTo to Like and every NotEqualTo to
// NotLike, in place. Repositories enable it for backends that only compare
// case-insensitively through LIKE. Frozen criteria are replaced by rewritten
// clones rather than mutated.
func RewriteLikeEquality(crits []*Criterion) {
	for i, c := range crits {
		var op Operator
		switch c.operator {
		case EqualTo:
			op = Like
		case NotEqualTo:
			op = NotLike
		default:
			continue
		}
		if c.frozen {
			c = c.Clone()
			crits[i] = c
		}
		c.operator = op
	}
}
