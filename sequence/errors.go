package sequence

import "errors"

// ValidationError is returned when the backed strategy cannot be used
// safely: the backing table is missing, or the backend failed the locking
// self-test and could hand out duplicate identities.
type ValidationError struct {
	Table  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "sequence: backing table " + e.Table + ": " + e.Reason
}

// IsValidation reports if the error is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
