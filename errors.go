package daskms

import "fmt"

// SchemaError indicates unsupported or inconsistent column metadata, such
// as an element type with no mapping to the array type system.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in column %q: %s", e.Column, e.Reason)
}

// PartitionError indicates a partitioning column that cannot be used for
// grouping (missing, variable-shaped, or otherwise not comparable).
type PartitionError struct {
	Column string
	Reason string
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("cannot partition by column %q: %s", e.Column, e.Reason)
}

// RaggedShapeError indicates that per-row cell shapes differ within one
// partition, so the column cannot be represented as a single dense chunked
// array. The caller must repartition; shapes are never auto-coerced.
type RaggedShapeError struct {
	Column    string
	Partition int
	Row       int64 // first row whose shape disagrees
	Want      []int64
	Got       []int64
}

func (e *RaggedShapeError) Error() string {
	return fmt.Sprintf("ragged column %q in partition %d: row %d has cell shape %v, expected %v",
		e.Column, e.Partition, e.Row, e.Got, e.Want)
}

// ShapeMismatchError indicates a write-time disagreement between a source
// array's shape and the destination column/partition, detected at plan
// time before any write begins.
type ShapeMismatchError struct {
	Column string
	Want   []int64 // destination shape
	Got    []int64 // source shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch writing column %q: source shape %v does not match destination shape %v",
		e.Column, e.Got, e.Want)
}

// InternalPlanError indicates an invariant violation in chunk tiling. It
// points at a planner bug, not at user input.
type InternalPlanError struct {
	Column    string
	Partition int
	Reason    string
}

func (e *InternalPlanError) Error() string {
	return fmt.Sprintf("internal plan error for column %q in partition %d: %s",
		e.Column, e.Partition, e.Reason)
}
