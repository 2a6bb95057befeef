package shared

import (
	"errors"
	"fmt"
)

// ErrEmptyOrInvalidColumnSet is returned when a table definition has no
// columns or a malformed one. No DDL is issued in that case.
var ErrEmptyOrInvalidColumnSet = errors.New("empty or invalid column set")

// UnrecognizedTypeError reports a native column type outside the supported
// vocabulary.
type UnrecognizedTypeError struct {
	Type   string
	Column string
}

func (e *UnrecognizedTypeError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("unrecognized data type %s", e.Type)
	}
	return fmt.Sprintf("unrecognized data type %s at column %s", e.Type, e.Column)
}

// MigrationUnitNotFoundError reports a unit that could not be resolved.
type MigrationUnitNotFoundError struct {
	Unit string
	Path string
}

func (e *MigrationUnitNotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("migration unit %s cannot be found", e.Unit)
	}
	return fmt.Sprintf("migration unit %s cannot be found at %s", e.Unit, e.Path)
}

// RestoreError reports a failed data restore. The restore was rolled back.
type RestoreError struct {
	Table string
	Line  int
	Cause error
}

func (e *RestoreError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("restore %s: line %d: %v", e.Table, e.Line, e.Cause)
	}
	return fmt.Sprintf("restore %s: %v", e.Table, e.Cause)
}

func (e *RestoreError) Unwrap() error {
	return e.Cause
}
