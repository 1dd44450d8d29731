package table

import (
	"context"
	"fmt"

	"github.com/chrisfinlay/dask-ms/internal/dtypes"
)

// ColumnDef defines one column for Builder.
type ColumnDef struct {
	// Meta declares the column.
	// REQUIRED: Name MUST be non-empty and unique, Type supported.
	Meta ColumnMeta

	// Values optionally populates the column: one flat row-major cell
	// per row, in row order. Fixed-shape columns may leave it nil
	// (cells read as zero values). OPTIONAL.
	Values [][]any

	// Shapes are the per-row cell shapes for variable-shape columns.
	// REQUIRED when Meta.Fixed is false and Values is set; ignored
	// otherwise.
	Shapes [][]int64
}

// Builder constructs populated MemTables using a fluent API.
// Not thread-safe - use only during initialization.
//
// Example:
//
//	tbl, err := table.NewBuilder("obs.ms", 5).
//	    Column(table.ColumnDef{...}).
//	    Keyword("MS_VERSION", 2.0).
//	    Build()
type Builder struct {
	name     string
	nrows    int64
	cols     []ColumnDef
	keywords map[string]any
	built    bool
}

// NewBuilder creates a builder for a table with the given name and row
// count.
func NewBuilder(name string, rows int64) *Builder {
	return &Builder{
		name:     name,
		nrows:    rows,
		keywords: make(map[string]any),
	}
}

// Column adds a column definition.
func (b *Builder) Column(def ColumnDef) *Builder {
	b.cols = append(b.cols, def)
	return b
}

// Keyword sets a table-level keyword.
func (b *Builder) Keyword(key string, value any) *Builder {
	b.keywords[key] = value
	return b
}

// Build finalizes the table. Can only be called once.
func (b *Builder) Build() (*MemTable, error) {
	if b.built {
		return nil, fmt.Errorf("table already built")
	}
	if b.nrows < 0 {
		return nil, fmt.Errorf("table %q: negative row count %d", b.name, b.nrows)
	}
	b.built = true

	ctx := context.Background()
	m := NewMemTable(b.name)
	for k, v := range b.keywords {
		m.SetKeyword(k, v)
	}
	if err := m.ExtendRows(ctx, b.nrows); err != nil {
		return nil, err
	}

	for _, def := range b.cols {
		if err := m.CreateColumn(ctx, def.Meta); err != nil {
			return nil, err
		}
		if def.Values == nil {
			continue
		}
		if int64(len(def.Values)) != b.nrows {
			return nil, fmt.Errorf("column %q has %d value rows for %d table rows",
				def.Meta.Name, len(def.Values), b.nrows)
		}
		for row, values := range def.Values {
			shape := def.Meta.Shape
			if !def.Meta.Fixed {
				if row >= len(def.Shapes) {
					return nil, fmt.Errorf("column %q row %d has values but no shape", def.Meta.Name, row)
				}
				shape = def.Shapes[row]
			}
			if err := b.writeRow(ctx, m, def.Meta, int64(row), shape, values); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (b *Builder) writeRow(ctx context.Context, m *MemTable, meta ColumnMeta, row int64, shape []int64, values []any) error {
	arr, err := dtypes.BuildArray(m.mem, meta.Type, values)
	if err != nil {
		return fmt.Errorf("column %q row %d: %w", meta.Name, row, err)
	}
	defer arr.Release()
	return m.Write(ctx, meta.Name, RowRange{Start: row, Len: 1}, FullCell(shape), arr)
}
