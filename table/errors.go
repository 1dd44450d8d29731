package table

import (
	"errors"
	"fmt"
)

// Errors returned by table resource implementations.
var (
	// ErrClosed is returned when operating on a closed handle.
	ErrClosed = errors.New("table is closed")
	// ErrColumnNotFound is returned when a named column does not exist.
	ErrColumnNotFound = errors.New("column not found")
	// ErrColumnExists is returned when creating a column whose name is taken.
	ErrColumnExists = errors.New("column already exists")
	// ErrUndefinedCell is returned when reading a variable-shape cell that
	// has never been written (its shape is unknown).
	ErrUndefinedCell = errors.New("cell is undefined")
)

// OpenError is returned when a table cannot be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open table %q: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// WriteError is returned when a write to the table resource fails. It
// preserves the column and row range so callers can retry or report
// precisely.
type WriteError struct {
	Column string
	Rows   RowRange
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write column %q rows [%d, %d): %v",
		e.Column, e.Rows.Start, e.Rows.End(), e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
