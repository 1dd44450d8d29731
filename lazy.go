package daskms

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/chrisfinlay/dask-ms/graph"
	"github.com/chrisfinlay/dask-ms/internal/dtypes"
	"github.com/chrisfinlay/dask-ms/internal/rowrun"
	"github.com/chrisfinlay/dask-ms/internal/token"
	"github.com/chrisfinlay/dask-ms/table"
)

// LazyArray is a named, typed, shaped container of chunk-level deferred
// reads. No data is materialized until a scheduler runs the array's graph
// nodes; each node yields its chunk as a flat row-major Arrow array.
//
// Invariants: the chunks tile Shape exactly once with no gaps or overlaps,
// and Type is uniform across chunks.
type LazyArray struct {
	// Name prefixes the array's node keys, e.g. "read-DATA-p0".
	Name string

	// Column is the backing table column ("ROWID" for the row-index
	// coordinate array).
	Column string

	// Type is the element data type, uniform across chunks.
	Type arrow.DataType

	// Shape is the full array shape: (partition row count, cell shape...).
	Shape []int64

	// Specs describe the chunks in row-major coordinate order.
	Specs []ChunkSpec

	// Keys are the deferred-computation identifiers, aligned with Specs.
	Keys []string

	// Graph holds the deferred read nodes (and, for arrays derived from
	// other arrays, their upstream nodes).
	Graph *graph.Graph
}

// NumChunks returns the number of chunks.
func (a *LazyArray) NumChunks() int {
	return len(a.Specs)
}

// BuildLazyArray plans the lazily-materialized chunked array for one
// (partition, column) pair.
//
// The array shape is (partition rows, cell shape...). For a fixed-shape
// column the declared cell shape is used directly; for a variable-shape
// column the per-row cell shapes within this partition are inspected, and
// if they disagree the build fails with a *RaggedShapeError — ragged data
// cannot be represented as a dense chunked array and must be repartitioned
// by the caller.
//
// No table data is read at build time. Each chunk maps to exactly one
// deferred read node; chunks over non-contiguous partition rows split
// their read into contiguous runs transparently.
func (pl *Planner) BuildLazyArray(ctx context.Context, h table.Handle, p *Partition, desc ColumnDescriptor, policy ChunkPolicy) (*LazyArray, error) {
	cellShape, err := pl.inferCellShape(ctx, h, p, desc)
	if err != nil {
		return nil, err
	}

	specs := planChunks(p, desc.Name, desc.Type, cellShape, policy)
	if err := verifyTiling(p, desc.Name, cellShape, specs); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("read-%s-p%d", desc.Name, p.ID)
	typeName, err := dtypes.Name(desc.Type)
	if err != nil {
		return nil, &SchemaError{Column: desc.Name, Reason: err.Error()}
	}

	g := graph.New()
	keys := make([]string, len(specs))
	for i, spec := range specs {
		key, err := token.Key(name, h.Name(), typeName, spec.Coord, spec.Rows, spec.Cell.Start, spec.Cell.Stop)
		if err != nil {
			return nil, &InternalPlanError{Column: desc.Name, Partition: p.ID, Reason: err.Error()}
		}
		keys[i] = key
		node := &graph.Node{
			Key:  key,
			Lock: graph.LockShared,
			Do:   readThunk(h, specs[i], pl.alloc()),
		}
		if err := g.Add(node); err != nil {
			return nil, &InternalPlanError{Column: desc.Name, Partition: p.ID, Reason: err.Error()}
		}
	}

	shape := make([]int64, 1+len(cellShape))
	shape[0] = p.NumRows()
	copy(shape[1:], cellShape)

	pl.logger().Debug("planned lazy array",
		"column", desc.Name,
		"partition", p.ID,
		"shape", shape,
		"chunks", len(specs),
	)

	return &LazyArray{
		Name:   name,
		Column: desc.Name,
		Type:   desc.Type,
		Shape:  shape,
		Specs:  specs,
		Keys:   keys,
		Graph:  g,
	}, nil
}

// BuildLazyArray plans a chunked array using the default planner.
func BuildLazyArray(ctx context.Context, h table.Handle, p *Partition, desc ColumnDescriptor, policy ChunkPolicy) (*LazyArray, error) {
	return defaultPlanner.BuildLazyArray(ctx, h, p, desc, policy)
}

// inferCellShape resolves the single effective cell shape for the
// (partition, column) pair.
func (pl *Planner) inferCellShape(ctx context.Context, h table.Handle, p *Partition, desc ColumnDescriptor) ([]int64, error) {
	switch s := desc.Shape.(type) {
	case FixedShape:
		return s, nil
	case VariableShape:
		if p.NumRows() == 0 {
			return nil, &SchemaError{
				Column: desc.Name,
				Reason: fmt.Sprintf("cannot infer cell shape of variable column for empty partition %d", p.ID),
			}
		}
		var want []int64
		for i, row := range p.Rows {
			got, err := h.CellShape(ctx, desc.Name, row)
			if err != nil {
				return nil, &SchemaError{
					Column: desc.Name,
					Reason: fmt.Sprintf("failed to determine cell shape of row %d: %v", row, err),
				}
			}
			if i == 0 {
				want = got
				continue
			}
			if !shapesEqual(want, got) {
				return nil, &RaggedShapeError{
					Column:    desc.Name,
					Partition: p.ID,
					Row:       row,
					Want:      want,
					Got:       got,
				}
			}
		}
		return want, nil
	default:
		return nil, &SchemaError{Column: desc.Name, Reason: "descriptor has no cell shape variant"}
	}
}

// readThunk builds the deferred read for one chunk. The chunk's row
// sequence is split into contiguous runs; the table resource only supports
// contiguous row ranges, so a fragmented chunk costs extra reads rather
// than returning incorrect data.
func readThunk(h table.Handle, spec ChunkSpec, mem memory.Allocator) graph.Thunk {
	runs := rowrun.Runs(spec.Rows)
	want := int64(1)
	for _, d := range spec.Shape {
		want *= d
	}

	return func(ctx context.Context, _ graph.Inputs) (any, error) {
		if len(runs) == 0 {
			return dtypes.BuildArray(mem, spec.Type, nil)
		}

		parts := make([]arrow.Array, 0, len(runs))
		release := func() {
			for _, a := range parts {
				a.Release()
			}
		}
		for _, run := range runs {
			arr, err := h.Read(ctx, spec.Column, table.RowRange{Start: run.Start, Len: run.Len}, spec.Cell)
			if err != nil {
				release()
				return nil, fmt.Errorf("chunk %v of column %q rows [%d, %d): %w",
					spec.Coord, spec.Column, run.Start, run.Start+run.Len, err)
			}
			parts = append(parts, arr)
		}

		var out arrow.Array
		if len(parts) == 1 {
			out = parts[0]
		} else {
			concat, err := array.Concatenate(parts, mem)
			release()
			if err != nil {
				return nil, fmt.Errorf("chunk %v of column %q: %w", spec.Coord, spec.Column, err)
			}
			out = concat
		}

		if int64(out.Len()) != want {
			out.Release()
			return nil, fmt.Errorf("chunk %v of column %q: read %d elements, expected %d",
				spec.Coord, spec.Column, out.Len(), want)
		}
		return out, nil
	}
}

// rowIDArray plans the lazy coordinate array of a partition's absolute row
// indices. Its nodes perform no table I/O.
func (pl *Planner) rowIDArray(h table.Handle, p *Partition, policy ChunkPolicy) (*LazyArray, error) {
	dt := arrow.PrimitiveTypes.Int64
	specs := planChunks(p, RowIDColumn, dt, nil, policy)
	if err := verifyTiling(p, RowIDColumn, nil, specs); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("rowid-p%d", p.ID)
	mem := pl.alloc()
	g := graph.New()
	keys := make([]string, len(specs))
	for i, spec := range specs {
		key, err := token.Key(name, h.Name(), spec.Coord, spec.Rows)
		if err != nil {
			return nil, &InternalPlanError{Column: RowIDColumn, Partition: p.ID, Reason: err.Error()}
		}
		keys[i] = key
		rows := spec.Rows
		node := &graph.Node{
			Key:  key,
			Lock: graph.LockNone,
			Do: func(ctx context.Context, _ graph.Inputs) (any, error) {
				values := make([]any, len(rows))
				for j, r := range rows {
					values[j] = r
				}
				return dtypes.BuildArray(mem, dt, values)
			},
		}
		if err := g.Add(node); err != nil {
			return nil, &InternalPlanError{Column: RowIDColumn, Partition: p.ID, Reason: err.Error()}
		}
	}

	return &LazyArray{
		Name:   name,
		Column: RowIDColumn,
		Type:   dt,
		Shape:  []int64{p.NumRows()},
		Specs:  specs,
		Keys:   keys,
		Graph:  g,
	}, nil
}

func shapesEqual(a, b []int64) bool {
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
