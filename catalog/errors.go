package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// AmbiguityError is returned when a table name resolves in more than one
// schema. It is fatal: the caller must map the table with an explicit
// schema-qualified name.
type AmbiguityError struct {
	Name    string
	Schemas []string
}

// Error returns the error string, naming every matching schema.
func (e *AmbiguityError) Error() string {
	return fmt.Sprintf(
		"catalog: table %q exists in multiple schemas (%s); map it with an explicit schema-qualified name",
		e.Name, strings.Join(e.Schemas, ", "),
	)
}

// TableNotFoundError is returned when a name does not resolve to any table
// in the data source.
type TableNotFoundError struct {
	Name string
}

// Error returns the error string.
func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("catalog: %q is not a table in the data source", e.Name)
}

// IsNotFound returns true if the error is a TableNotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *TableNotFoundError
	return errors.As(err, &e)
}

// IsAmbiguous returns true if the error is an AmbiguityError.
func IsAmbiguous(err error) bool {
	if err == nil {
		return false
	}
	var e *AmbiguityError
	return errors.As(err, &e)
}
