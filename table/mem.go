package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/chrisfinlay/dask-ms/internal/dtypes"
)

// MemTable is an in-memory Handle implementation. Cells are stored per
// row, so variable-shape columns are supported naturally. Reads may run
// concurrently; writes take the table lock exclusively.
type MemTable struct {
	mu       sync.RWMutex
	name     string
	nrows    int64
	cols     map[string]*memColumn
	order    []string
	keywords map[string]any
	mem      memory.Allocator
	closed   bool
}

type memColumn struct {
	meta  ColumnMeta
	cells []*memCell // one per row; nil means never written
}

type memCell struct {
	shape  []int64
	values []any // flat, row-major, len == product(shape)
}

// NewMemTable creates an empty in-memory table with zero rows and no
// columns, using the default Arrow allocator.
func NewMemTable(name string) *MemTable {
	return &MemTable{
		name:     name,
		cols:     make(map[string]*memColumn),
		keywords: make(map[string]any),
		mem:      memory.DefaultAllocator,
	}
}

// SetKeyword sets a table-level keyword.
func (m *MemTable) SetKeyword(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords[key] = value
}

// Name implements Handle.
func (m *MemTable) Name() string {
	return m.name
}

// RowCount implements Handle.
func (m *MemTable) RowCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nrows
}

// Columns implements Handle.
func (m *MemTable) Columns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Keywords implements Handle.
func (m *MemTable) Keywords() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.keywords))
	for k, v := range m.keywords {
		out[k] = v
	}
	return out
}

// ColumnMeta implements Handle.
func (m *MemTable) ColumnMeta(name string) (ColumnMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ColumnMeta{}, ErrClosed
	}
	col, ok := m.cols[name]
	if !ok {
		return ColumnMeta{}, fmt.Errorf("column %q: %w", name, ErrColumnNotFound)
	}
	return col.meta, nil
}

// CellShape implements Handle.
func (m *MemTable) CellShape(ctx context.Context, column string, row int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	col, ok := m.cols[column]
	if !ok {
		return nil, fmt.Errorf("column %q: %w", column, ErrColumnNotFound)
	}
	if row < 0 || row >= m.nrows {
		return nil, fmt.Errorf("column %q row %d out of range [0, %d)", column, row, m.nrows)
	}
	if col.meta.Fixed {
		shape := make([]int64, len(col.meta.Shape))
		copy(shape, col.meta.Shape)
		return shape, nil
	}
	cell := col.cells[row]
	if cell == nil {
		return nil, fmt.Errorf("column %q row %d: %w", column, row, ErrUndefinedCell)
	}
	shape := make([]int64, len(cell.shape))
	copy(shape, cell.shape)
	return shape, nil
}

// Read implements Handle.
func (m *MemTable) Read(ctx context.Context, column string, rows RowRange, cell CellRange) (arrow.Array, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	col, ok := m.cols[column]
	if !ok {
		return nil, fmt.Errorf("column %q: %w", column, ErrColumnNotFound)
	}
	if err := m.checkRows(column, rows); err != nil {
		return nil, err
	}
	if cell.Rank() != col.meta.Rank {
		return nil, fmt.Errorf("column %q: cell range rank %d does not match column rank %d",
			column, cell.Rank(), col.meta.Rank)
	}

	values := make([]any, 0, rows.Len*cell.Elements())
	for r := rows.Start; r < rows.End(); r++ {
		cv, err := col.cellValues(column, r)
		if err != nil {
			return nil, err
		}
		part, err := gatherCell(column, r, cv.values, cv.shape, cell)
		if err != nil {
			return nil, err
		}
		values = append(values, part...)
	}

	return dtypes.BuildArray(m.mem, col.meta.Type, values)
}

// Write implements Handle.
func (m *MemTable) Write(ctx context.Context, column string, rows RowRange, cell CellRange, data arrow.Array) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &WriteError{Column: column, Rows: rows, Err: ErrClosed}
	}
	col, ok := m.cols[column]
	if !ok {
		return &WriteError{Column: column, Rows: rows, Err: ErrColumnNotFound}
	}
	if err := m.checkRows(column, rows); err != nil {
		return &WriteError{Column: column, Rows: rows, Err: err}
	}
	if cell.Rank() != col.meta.Rank {
		return &WriteError{Column: column, Rows: rows,
			Err: fmt.Errorf("cell range rank %d does not match column rank %d", cell.Rank(), col.meta.Rank)}
	}
	if !arrow.TypeEqual(data.DataType(), col.meta.Type) {
		return &WriteError{Column: column, Rows: rows,
			Err: fmt.Errorf("data type %s does not match column type %s", data.DataType(), col.meta.Type)}
	}
	perRow := cell.Elements()
	if int64(data.Len()) != rows.Len*perRow {
		return &WriteError{Column: column, Rows: rows,
			Err: fmt.Errorf("data length %d does not match %d rows of %d elements", data.Len(), rows.Len, perRow)}
	}

	values, err := dtypes.Values(data)
	if err != nil {
		return &WriteError{Column: column, Rows: rows, Err: err}
	}

	for i := int64(0); i < rows.Len; i++ {
		row := rows.Start + i
		src := values[i*perRow : (i+1)*perRow]
		if err := col.writeCell(row, cell, src, col.meta.Type); err != nil {
			return &WriteError{Column: column, Rows: rows, Err: err}
		}
	}
	return nil
}

// CreateColumn implements Handle.
func (m *MemTable) CreateColumn(ctx context.Context, meta ColumnMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if meta.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if _, ok := m.cols[meta.Name]; ok {
		return fmt.Errorf("column %q: %w", meta.Name, ErrColumnExists)
	}
	if !dtypes.Supported(meta.Type) {
		return fmt.Errorf("column %q: unsupported data type %s", meta.Name, meta.Type)
	}
	if meta.Fixed {
		meta.Rank = len(meta.Shape)
		for _, d := range meta.Shape {
			if d <= 0 {
				return fmt.Errorf("column %q: invalid cell shape %v", meta.Name, meta.Shape)
			}
		}
	} else if meta.Rank < 1 {
		return fmt.Errorf("column %q: variable-shape column must have rank >= 1", meta.Name)
	}
	m.cols[meta.Name] = &memColumn{
		meta:  meta,
		cells: make([]*memCell, m.nrows),
	}
	m.order = append(m.order, meta.Name)
	return nil
}

// ExtendRows implements Handle.
func (m *MemTable) ExtendRows(ctx context.Context, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("cannot extend table by %d rows", n)
	}
	for _, name := range m.order {
		col := m.cols[name]
		col.cells = append(col.cells, make([]*memCell, n)...)
	}
	m.nrows += n
	return nil
}

// Close implements Handle.
func (m *MemTable) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemTable) checkRows(column string, rows RowRange) error {
	if rows.Start < 0 || rows.Len < 0 || rows.End() > m.nrows {
		return fmt.Errorf("column %q: row range [%d, %d) out of table bounds [0, %d)",
			column, rows.Start, rows.End(), m.nrows)
	}
	return nil
}

// cellValues returns the stored cell for a row, synthesizing a zero-valued
// cell for never-written rows of fixed-shape columns.
func (c *memColumn) cellValues(column string, row int64) (*memCell, error) {
	if cell := c.cells[row]; cell != nil {
		return cell, nil
	}
	if !c.meta.Fixed {
		return nil, fmt.Errorf("column %q row %d: %w", column, row, ErrUndefinedCell)
	}
	return c.zeroCell()
}

func (c *memColumn) zeroCell() (*memCell, error) {
	zero, err := dtypes.Zero(c.meta.Type)
	if err != nil {
		return nil, err
	}
	n := int64(1)
	for _, d := range c.meta.Shape {
		n *= d
	}
	values := make([]any, n)
	for i := range values {
		values[i] = zero
	}
	shape := make([]int64, len(c.meta.Shape))
	copy(shape, c.meta.Shape)
	return &memCell{shape: shape, values: values}, nil
}

// writeCell scatters src into one row's cell. For variable-shape columns a
// full-from-zero range on an unset or differently-shaped cell establishes
// the cell's shape.
func (c *memColumn) writeCell(row int64, cr CellRange, src []any, dt arrow.DataType) error {
	fullFromZero := true
	for _, s := range cr.Start {
		if s != 0 {
			fullFromZero = false
			break
		}
	}

	cell := c.cells[row]
	if cell == nil {
		if c.meta.Fixed {
			zc, err := c.zeroCell()
			if err != nil {
				return err
			}
			cell = zc
			c.cells[row] = cell
		} else {
			if !fullFromZero {
				return fmt.Errorf("row %d: partial write to undefined variable-shape cell", row)
			}
			shape := make([]int64, len(cr.Stop))
			copy(shape, cr.Stop)
			cell = &memCell{shape: shape, values: make([]any, len(src))}
			c.cells[row] = cell
		}
	} else if !c.meta.Fixed && fullFromZero && !shapeEq(cell.shape, cr.Stop) {
		// Full overwrite reshapes a variable cell.
		shape := make([]int64, len(cr.Stop))
		copy(shape, cr.Stop)
		cell.shape = shape
		cell.values = make([]any, len(src))
	}

	return scatterCell(row, cell.values, cell.shape, cr, src)
}

func shapeEq(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// gatherCell extracts the cell sub-region selected by cr from a flat
// row-major cell, in row-major order.
func gatherCell(column string, row int64, values []any, shape []int64, cr CellRange) ([]any, error) {
	if err := checkCellRange(column, row, shape, cr); err != nil {
		return nil, err
	}
	if len(shape) == 0 {
		return []any{values[0]}, nil
	}
	ext := cr.Extents()
	total := int64(1)
	for _, e := range ext {
		total *= e
	}
	if total == 0 {
		return nil, nil
	}

	strides := rowMajorStrides(shape)
	out := make([]any, 0, total)
	idx := make([]int64, len(shape))
	for {
		off := int64(0)
		for d := range idx {
			off += (cr.Start[d] + idx[d]) * strides[d]
		}
		out = append(out, values[off])
		if !advance(idx, ext) {
			break
		}
	}
	return out, nil
}

// scatterCell is the inverse of gatherCell.
func scatterCell(row int64, values []any, shape []int64, cr CellRange, src []any) error {
	if err := checkCellRange("", row, shape, cr); err != nil {
		return err
	}
	if len(shape) == 0 {
		values[0] = src[0]
		return nil
	}
	ext := cr.Extents()
	total := int64(1)
	for _, e := range ext {
		total *= e
	}
	if total == 0 {
		return nil
	}

	strides := rowMajorStrides(shape)
	idx := make([]int64, len(shape))
	si := 0
	for {
		off := int64(0)
		for d := range idx {
			off += (cr.Start[d] + idx[d]) * strides[d]
		}
		values[off] = src[si]
		si++
		if !advance(idx, ext) {
			break
		}
	}
	return nil
}

func checkCellRange(column string, row int64, shape []int64, cr CellRange) error {
	if cr.Rank() != len(shape) {
		return fmt.Errorf("column %q row %d: cell range rank %d does not match cell rank %d",
			column, row, cr.Rank(), len(shape))
	}
	for d := range shape {
		if cr.Start[d] < 0 || cr.Stop[d] < cr.Start[d] || cr.Stop[d] > shape[d] {
			return fmt.Errorf("column %q row %d: cell range [%d, %d) out of bounds for dimension %d of extent %d",
				column, row, cr.Start[d], cr.Stop[d], d, shape[d])
		}
	}
	return nil
}

func rowMajorStrides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	s := int64(1)
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = s
		s *= shape[d]
	}
	return strides
}

// advance increments a row-major odometer over ext. Returns false once the
// odometer wraps to all zeros.
func advance(idx, ext []int64) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < ext[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}
