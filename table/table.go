// Package table defines the contract for the legacy row-oriented table
// resource the translation engine plans against, and provides MemTable, an
// in-memory reference implementation of that contract.
//
// The engine itself only ever talks to the Handle interface: it reads
// column metadata at plan time and bakes deferred Read/Write calls into
// graph nodes. Production deployments supply their own Handle backed by
// the real table storage; MemTable serves tests, examples, and small
// conversions, and can persist itself to a compressed snapshot file.
package table

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// RowRange is a contiguous range of absolute row indices:
// Start, Start+1, ..., Start+Len-1. The table resource only supports
// contiguous row access; callers batch non-contiguous index sequences
// into runs.
type RowRange struct {
	Start int64
	Len   int64
}

// End returns the exclusive upper bound of the range.
func (r RowRange) End() int64 {
	return r.Start + r.Len
}

// CellRange selects a rectangular sub-region of a per-row cell, one
// half-open [Start, Stop) interval per cell dimension. For scalar columns
// (cell rank zero) both slices are empty.
type CellRange struct {
	Start []int64
	Stop  []int64
}

// FullCell returns the CellRange covering an entire cell of the given
// shape.
func FullCell(shape []int64) CellRange {
	start := make([]int64, len(shape))
	stop := make([]int64, len(shape))
	copy(stop, shape)
	return CellRange{Start: start, Stop: stop}
}

// Rank returns the number of cell dimensions the range addresses.
func (c CellRange) Rank() int {
	return len(c.Start)
}

// Extents returns the selected length along each cell dimension.
func (c CellRange) Extents() []int64 {
	out := make([]int64, len(c.Start))
	for i := range out {
		out[i] = c.Stop[i] - c.Start[i]
	}
	return out
}

// Elements returns the number of elements one row contributes under this
// range.
func (c CellRange) Elements() int64 {
	n := int64(1)
	for i := range c.Start {
		n *= c.Stop[i] - c.Start[i]
	}
	return n
}

// ColumnMeta is the raw per-column metadata declared by a table. It is the
// input to schema resolution; the engine never trusts it beyond what the
// table declares (a Fixed=false column's actual shapes are only known by
// asking per row).
type ColumnMeta struct {
	// Name is the column name. MUST be non-empty and unique in the table.
	Name string

	// Type is the element data type.
	Type arrow.DataType

	// Fixed reports whether every row's cell has the same shape.
	Fixed bool

	// Shape is the per-row cell shape when Fixed. Empty for scalar
	// columns (rank zero). Ignored when Fixed is false.
	Shape []int64

	// Rank is the number of cell dimensions. When Fixed, it MUST equal
	// len(Shape).
	Rank int

	// Keywords is the column-level keyword dictionary (string to scalar
	// or array value). May be nil.
	Keywords map[string]any
}

// Handle is an open table resource. All derived entities (partitions,
// lazy arrays, write plans) hold a non-owning reference and must not be
// used after Close.
//
// Implementations MUST be safe for concurrent Read calls and MUST
// serialize Write against conflicting access; the engine tags every
// deferred operation with the lock scope it requires but performs no
// locking itself.
type Handle interface {
	// Name identifies the table (typically its path).
	Name() string

	// RowCount returns the current number of rows.
	RowCount() int64

	// Columns returns all column names in declaration order.
	Columns() []string

	// ColumnMeta returns the declared metadata for one column.
	// Fails with ErrColumnNotFound if the column does not exist.
	ColumnMeta(name string) (ColumnMeta, error)

	// CellShape returns the actual cell shape of one row of a column.
	// Needed for columns whose declared shape is variable.
	CellShape(ctx context.Context, column string, row int64) ([]int64, error)

	// Read returns the selected region as a flat row-major Arrow array
	// of length rows.Len * cell.Elements(). The caller owns the result
	// and must Release it.
	Read(ctx context.Context, column string, rows RowRange, cell CellRange) (arrow.Array, error)

	// Write stores data (flat, row-major, same length convention as
	// Read) into the selected region. Fails with a *WriteError.
	Write(ctx context.Context, column string, rows RowRange, cell CellRange, data arrow.Array) error

	// CreateColumn adds a new column described by meta. Existing rows
	// read as zero values until written. Fails with ErrColumnExists if
	// the name is taken.
	CreateColumn(ctx context.Context, meta ColumnMeta) error

	// ExtendRows appends n empty rows to the table.
	ExtendRows(ctx context.Context, n int64) error

	// Keywords returns the table-level keyword dictionary. May be nil.
	Keywords() map[string]any

	// Close invalidates the handle. Further operations fail with
	// ErrClosed.
	Close() error
}
