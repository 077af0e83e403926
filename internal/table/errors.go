package table

import (
	"fmt"
	"strings"
)

// SchemaError reports columns that an operation needs but the input lacks.
type SchemaError struct {
	Op      string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing columns: %s", e.Op, strings.Join(e.Missing, ", "))
}

// ShapeError reports a violated grouping or join invariant, e.g. duplicate
// join keys on a side that must be unique.
type ShapeError struct {
	Op  string
	Msg string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// TypeMismatchError reports a cell that cannot be coerced to the type a
// column is expected to hold.
type TypeMismatchError struct {
	Op     string
	Column string
	Row    int
	Value  any
	Want   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: column %q row %d: cannot use %T(%v) as %s", e.Op, e.Column, e.Row, e.Value, e.Value, e.Want)
}
