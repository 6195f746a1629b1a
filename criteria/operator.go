package criteria

import (
	"fmt"
	"strings"
)

// Operator is a comparison operator applied by a Criterion.
type Operator int

// Comparison operators, in their canonical order.
const (
	EqualTo Operator = iota
	NotEqualTo
	GreaterThan
	GreaterOrEqual
	LessThan
	LessOrEqual
	Like
	NotLike
)

// canonical SQL symbol per operator.
var operatorSymbols = [...]string{
	EqualTo:        "=",
	NotEqualTo:     "<>",
	GreaterThan:    ">",
	GreaterOrEqual: ">=",
	LessThan:       "<",
	LessOrEqual:    "<=",
	Like:           "LIKE",
	NotLike:        "NOT LIKE",
}

// String returns the canonical SQL symbol for the operator.
func (o Operator) String() string {
	if o < EqualTo || int(o) >= len(operatorSymbols) {
		return fmt.Sprintf("Operator(%d)", int(o))
	}
	return operatorSymbols[o]
}

// Valid reports if the operator is a known comparison operator.
func (o Operator) Valid() bool {
	return o >= EqualTo && int(o) < len(operatorSymbols)
}

// Negate returns the logical complement of the operator.
func (o Operator) Negate() Operator {
	switch o {
	case EqualTo:
		return NotEqualTo
	case NotEqualTo:
		return EqualTo
	case GreaterThan:
		return LessOrEqual
	case GreaterOrEqual:
		return LessThan
	case LessThan:
		return GreaterOrEqual
	case LessOrEqual:
		return GreaterThan
	case Like:
		return NotLike
	case NotLike:
		return Like
	}
	return o
}

// Ordering reports if the operator compares by order rather than equality.
func (o Operator) Ordering() bool {
	switch o {
	case GreaterThan, GreaterOrEqual, LessThan, LessOrEqual:
		return true
	}
	return false
}

// negated reports if the operator is one of the "not" forms. Used to pick
// between IS NULL / IS NOT NULL and IN / NOT IN renderings.
func (o Operator) negated() bool {
	return o == NotEqualTo || o == NotLike
}

// OperatorError is returned when an operator symbol cannot be parsed.
type OperatorError struct {
	Symbol string
}

// Error returns the error string.
func (e *OperatorError) Error() string {
	return fmt.Sprintf("criteria: unknown operator symbol %q", e.Symbol)
}

// ParseOperator parses an operator from its SQL symbol. Parsing is
// case-insensitive and tolerates surrounding whitespace. Both "=" and "=="
// parse to EqualTo, and both "<>" and "!=" parse to NotEqualTo.
func ParseOperator(symbol string) (Operator, error) {
	switch s := strings.ToUpper(strings.TrimSpace(symbol)); s {
	case "=", "==":
		return EqualTo, nil
	case "<>", "!=":
		return NotEqualTo, nil
	case ">":
		return GreaterThan, nil
	case ">=":
		return GreaterOrEqual, nil
	case "<":
		return LessThan, nil
	case "<=":
		return LessOrEqual, nil
	case "LIKE":
		return Like, nil
	case "NOT LIKE":
		return NotLike, nil
	default:
		return 0, &OperatorError{Symbol: symbol}
	}
}
