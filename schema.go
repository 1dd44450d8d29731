package daskms

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/chrisfinlay/dask-ms/internal/dtypes"
	"github.com/chrisfinlay/dask-ms/table"
)

// CellShape describes the per-row cell shape of a column. It is a closed
// variant: FixedShape when every row shares one declared shape, and
// VariableShape when shapes may differ per row and must be inferred per
// partition. Downstream logic switches on the concrete type.
type CellShape interface {
	// Rank returns the number of cell dimensions (0 for scalar cells).
	Rank() int

	cellShape()
}

// FixedShape is the declared per-row cell shape of a fixed-shape column.
// Empty means scalar cells.
type FixedShape []int64

// Rank implements CellShape.
func (s FixedShape) Rank() int { return len(s) }

func (FixedShape) cellShape() {}

// VariableShape marks a column whose cell shape varies per row. Only the
// rank is declared; actual shapes are inspected per partition during
// chunk planning.
type VariableShape struct {
	NDim int
}

// Rank implements CellShape.
func (s VariableShape) Rank() int { return s.NDim }

func (VariableShape) cellShape() {}

// ColumnDescriptor is the normalized schema of one column for a given
// table snapshot. Immutable once resolved.
type ColumnDescriptor struct {
	// Name is the column name.
	Name string

	// Type is the element data type.
	Type arrow.DataType

	// Shape is the per-row cell shape variant.
	Shape CellShape

	// Keywords is the column-level keyword dictionary. May be nil.
	Keywords map[string]any
}

// Rank returns the column's cell rank.
func (d ColumnDescriptor) Rank() int {
	return d.Shape.Rank()
}

// ResolveSchema produces a normalized ColumnDescriptor for every column of
// the table, in declaration order. It reads only declared metadata; actual
// row data is never scanned. Fails with a *SchemaError if any column's
// metadata is unsupported or inconsistent.
func (pl *Planner) ResolveSchema(h table.Handle) ([]ColumnDescriptor, error) {
	names := h.Columns()
	out := make([]ColumnDescriptor, 0, len(names))
	for _, name := range names {
		meta, err := h.ColumnMeta(name)
		if err != nil {
			return nil, &SchemaError{Column: name, Reason: err.Error()}
		}
		desc, err := resolveColumn(meta)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// ResolveSchema produces descriptors for all of a table's columns using
// the default planner.
func ResolveSchema(h table.Handle) ([]ColumnDescriptor, error) {
	return defaultPlanner.ResolveSchema(h)
}

// resolveNamed looks up and normalizes one column by name.
func resolveNamed(h table.Handle, name string) (ColumnDescriptor, error) {
	meta, err := h.ColumnMeta(name)
	if err != nil {
		return ColumnDescriptor{}, &SchemaError{Column: name, Reason: err.Error()}
	}
	return resolveColumn(meta)
}

// resolveColumn normalizes one column's declared metadata.
func resolveColumn(meta table.ColumnMeta) (ColumnDescriptor, error) {
	if !dtypes.Supported(meta.Type) {
		return ColumnDescriptor{}, &SchemaError{
			Column: meta.Name,
			Reason: fmt.Sprintf("data type %s has no mapping to the array type system", meta.Type),
		}
	}

	var shape CellShape
	if meta.Fixed {
		if meta.Rank != len(meta.Shape) {
			return ColumnDescriptor{}, &SchemaError{
				Column: meta.Name,
				Reason: fmt.Sprintf("declared rank %d does not match fixed shape %v", meta.Rank, meta.Shape),
			}
		}
		for _, d := range meta.Shape {
			if d <= 0 {
				return ColumnDescriptor{}, &SchemaError{
					Column: meta.Name,
					Reason: fmt.Sprintf("invalid fixed cell shape %v", meta.Shape),
				}
			}
		}
		fixed := make(FixedShape, len(meta.Shape))
		copy(fixed, meta.Shape)
		shape = fixed
	} else {
		if meta.Rank < 1 {
			return ColumnDescriptor{}, &SchemaError{
				Column: meta.Name,
				Reason: fmt.Sprintf("variable-shape column declares rank %d", meta.Rank),
			}
		}
		shape = VariableShape{NDim: meta.Rank}
	}

	return ColumnDescriptor{
		Name:     meta.Name,
		Type:     meta.Type,
		Shape:    shape,
		Keywords: meta.Keywords,
	}, nil
}
