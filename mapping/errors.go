package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// RegistrationError reports an invalid descriptor passed to Register.
type RegistrationError struct {
	TypeName string
	Op       string
	Reason   string
}

// Error returns the error string.
func (e *RegistrationError) Error() string {
	if e.TypeName != "" {
		return fmt.Sprintf("mapping: %s %s: %s", e.Op, e.TypeName, e.Reason)
	}
	return fmt.Sprintf("mapping: %s: %s", e.Op, e.Reason)
}

// UnmappedTypeError is returned when a type's ancestor chain collects no
// backing table and no explicit table override was declared. It is fatal.
type UnmappedTypeError struct {
	TypeName string
}

// Error returns the error string.
func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf(
		"mapping: type %q maps to no table in the data source; register it with an explicit table override",
		e.TypeName,
	)
}

// KeyMismatchError is returned when the tables of an inheritance chain do
// not share an identical, identically ordered primary-key column set. It is
// raised at registration, before any statement runs.
type KeyMismatchError struct {
	TypeName string
	Table    string
	Reason   string
}

// Error returns the error string.
func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("mapping: type %q table %s: %s", e.TypeName, e.Table, e.Reason)
}

// ColumnOverrideError is returned when a declared column override names a
// column absent from every table in the type's chain.
type ColumnOverrideError struct {
	TypeName string
	Field    string
	Column   string
	Tables   []string
}

// Error returns the error string.
func (e *ColumnOverrideError) Error() string {
	return fmt.Sprintf(
		"mapping: type %q field %q maps to column %q, which exists in none of its tables (%s)",
		e.TypeName, e.Field, e.Column, strings.Join(e.Tables, ", "),
	)
}

// IsUnmapped returns true if the error is an UnmappedTypeError.
func IsUnmapped(err error) bool {
	if err == nil {
		return false
	}
	var e *UnmappedTypeError
	return errors.As(err, &e)
}

// IsKeyMismatch returns true if the error is a KeyMismatchError.
func IsKeyMismatch(err error) bool {
	if err == nil {
		return false
	}
	var e *KeyMismatchError
	return errors.As(err, &e)
}
