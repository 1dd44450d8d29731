package daskms

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/chrisfinlay/dask-ms/graph"
	"github.com/chrisfinlay/dask-ms/internal/dtypes"
	"github.com/chrisfinlay/dask-ms/internal/rowrun"
	"github.com/chrisfinlay/dask-ms/internal/token"
	"github.com/chrisfinlay/dask-ms/table"
)

// WriteTask describes one deferred chunk write. Tasks are produced once
// per write request and consumed exactly once by the scheduler; they are
// never reused across requests, since the table's row layout may change
// between writes.
type WriteTask struct {
	// Partition is the destination partition's ID.
	Partition int

	// Column is the destination column.
	Column string

	// Coord is the source chunk's coordinate tuple.
	Coord []int

	// SourceKey is the graph node producing the chunk's data.
	SourceKey string

	// Rows are the destination absolute row indices, in partition order.
	Rows []int64

	// Cell is the destination cell sub-range.
	Cell table.CellRange

	// CreateIfMissing reports that the destination column did not exist
	// at plan time and the task depends on a column-creation node.
	CreateIfMissing bool

	// Key is the write node's graph key.
	Key string

	// DependsOn are the node keys that must complete before this write
	// (the source chunk, plus any column-creation or row-extension node).
	DependsOn []string
}

// WritePlan is the full deferred write of one chunked array to one
// (table, column, partition) destination. Graph contains the write nodes,
// their source nodes, and any schema-mutation or row-extension node; run
// TaskKeys (or the whole graph) with a scheduler to execute it.
type WritePlan struct {
	Column    string
	Partition int
	Tasks     []WriteTask
	Graph     *graph.Graph

	// CreateKey is the column-creation node key, or "" when the column
	// already existed at plan time.
	CreateKey string

	// ExtendKey is the row-extension node key, or "" when the table
	// already had room for the partition's rows.
	ExtendKey string
}

// TaskKeys returns the write node keys in task order. Passing them as
// scheduler targets pulls in source, creation, and extension nodes through
// dependency edges.
func (w *WritePlan) TaskKeys() []string {
	keys := make([]string, len(w.Tasks))
	for i, t := range w.Tasks {
		keys[i] = t.Key
	}
	return keys
}

// Validate checks the plan's dependency structure: the graph must be a
// well-formed DAG and every task must declare edges to its source chunk
// and to the creation/extension nodes it causally depends on. A plan whose
// creation edge has been removed is rejected.
func (w *WritePlan) Validate() error {
	if err := w.Graph.Validate(); err != nil {
		return fmt.Errorf("write plan for column %q: %w", w.Column, err)
	}
	for _, t := range w.Tasks {
		node, ok := w.Graph.Node(t.Key)
		if !ok {
			return fmt.Errorf("write plan for column %q: task node %q missing from graph", w.Column, t.Key)
		}
		required := []string{t.SourceKey}
		if w.CreateKey != "" {
			required = append(required, w.CreateKey)
		}
		if w.ExtendKey != "" {
			required = append(required, w.ExtendKey)
		}
		for _, dep := range required {
			if !containsKey(node.Deps, dep) {
				return fmt.Errorf("write plan for column %q: task %q is missing dependency on %q",
					w.Column, t.Key, dep)
			}
			if _, ok := w.Graph.Node(dep); !ok {
				return fmt.Errorf("write plan for column %q: task %q depends on %q which is not in the graph",
					w.Column, t.Key, dep)
			}
		}
	}
	return nil
}

// PlanWrite builds the deferred write of arr into column on table h,
// destined for partition p. The inverse of BuildLazyArray: each source
// chunk maps to one write node targeting the matching destination rows and
// cell sub-range.
//
// All validation happens at plan time, before any node could run: a source
// row count that disagrees with the partition, or a cell shape that
// disagrees with an existing destination column, fails with a
// *ShapeMismatchError; an element type with no mapping, or one that
// disagrees with an existing column, fails with a *SchemaError. No partial
// plan is ever returned.
//
// When the column does not exist a single column-creation node precedes
// every write; when the partition addresses rows beyond the current table
// a single row-extension node does likewise.
//
// WriteTasks for the same column and overlapping rows must not be issued
// concurrently by the caller; the engine assumes a single writer per
// region and does not detect conflicts.
func (pl *Planner) PlanWrite(ctx context.Context, arr *LazyArray, h table.Handle, column string, p *Partition) (*WritePlan, error) {
	if arr == nil {
		return nil, &SchemaError{Column: column, Reason: "source array is nil"}
	}
	typeName, err := dtypes.Name(arr.Type)
	if err != nil {
		return nil, &SchemaError{Column: column, Reason: err.Error()}
	}
	if len(arr.Shape) == 0 || arr.Shape[0] != p.NumRows() {
		destShape := append([]int64{p.NumRows()}, arr.Shape[1:]...)
		return nil, &ShapeMismatchError{Column: column, Want: destShape, Got: arr.Shape}
	}
	cellShape := arr.Shape[1:]

	// Destination column: validate against existing metadata, or plan a
	// creation node.
	var createColumn bool
	meta, err := h.ColumnMeta(column)
	switch {
	case err == nil:
		if !arrow.TypeEqual(meta.Type, arr.Type) {
			return nil, &SchemaError{
				Column: column,
				Reason: fmt.Sprintf("destination type %s does not match source type %s", meta.Type, arr.Type),
			}
		}
		if meta.Fixed && !shapesEqual(meta.Shape, cellShape) {
			destShape := append([]int64{p.NumRows()}, meta.Shape...)
			return nil, &ShapeMismatchError{Column: column, Want: destShape, Got: arr.Shape}
		}
	case errors.Is(err, table.ErrColumnNotFound):
		createColumn = true
	default:
		return nil, &SchemaError{Column: column, Reason: err.Error()}
	}

	g := graph.New()
	if err := g.Merge(arr.Graph); err != nil {
		return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
	}

	var createKey string
	if createColumn {
		createKey, err = token.Key(fmt.Sprintf("create-%s", column), h.Name(), typeName, cellShape)
		if err != nil {
			return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
		}
		newMeta := table.ColumnMeta{
			Name:  column,
			Type:  arr.Type,
			Fixed: true,
			Shape: append([]int64{}, cellShape...),
			Rank:  len(cellShape),
		}
		err = g.Add(&graph.Node{
			Key:  createKey,
			Lock: graph.LockExclusive,
			Do: func(ctx context.Context, _ graph.Inputs) (any, error) {
				if err := h.CreateColumn(ctx, newMeta); err != nil {
					return nil, fmt.Errorf("failed to create column %q: %w", column, err)
				}
				return nil, nil
			},
		})
		if err != nil {
			return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
		}
	}

	// Row extension: a new partition may address rows past the current
	// table end. The extension count is fixed at plan time; if the row
	// layout changes before execution the plan must be regenerated.
	var extendKey string
	var maxRow int64 = -1
	for _, r := range p.Rows {
		if r > maxRow {
			maxRow = r
		}
	}
	if needed := maxRow + 1 - h.RowCount(); needed > 0 {
		extendKey, err = token.Key("extend-rows", h.Name(), h.RowCount(), needed)
		if err != nil {
			return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
		}
		err = g.Add(&graph.Node{
			Key:  extendKey,
			Lock: graph.LockExclusive,
			Do: func(ctx context.Context, _ graph.Inputs) (any, error) {
				if err := h.ExtendRows(ctx, needed); err != nil {
					return nil, fmt.Errorf("failed to extend table by %d rows: %w", needed, err)
				}
				return nil, nil
			},
		})
		if err != nil {
			return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
		}
	}

	// Destination rows per row-chunk, from the partition's own index
	// sequence. Source chunks sharing a row-chunk coordinate share the
	// destination rows.
	rowOffsets, err := rowChunkOffsets(arr, column, p)
	if err != nil {
		return nil, err
	}

	tasks := make([]WriteTask, 0, len(arr.Specs))
	for i, spec := range arr.Specs {
		offset := rowOffsets[spec.Coord[0]]
		destRows := p.Rows[offset : offset+spec.Shape[0]]

		deps := []string{arr.Keys[i]}
		if createKey != "" {
			deps = append(deps, createKey)
		}
		if extendKey != "" {
			deps = append(deps, extendKey)
		}

		key, err := token.Key(fmt.Sprintf("write-%s-p%d", column, p.ID),
			h.Name(), typeName, spec.Coord, destRows, spec.Cell.Start, spec.Cell.Stop, arr.Keys[i])
		if err != nil {
			return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
		}

		task := WriteTask{
			Partition:       p.ID,
			Column:          column,
			Coord:           spec.Coord,
			SourceKey:       arr.Keys[i],
			Rows:            destRows,
			Cell:            spec.Cell,
			CreateIfMissing: createColumn,
			Key:             key,
			DependsOn:       deps,
		}

		err = g.Add(&graph.Node{
			Key:  key,
			Deps: deps,
			Lock: graph.LockExclusive,
			Do:   writeThunk(h, task),
		})
		if err != nil {
			return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
		}
		tasks = append(tasks, task)
	}

	plan := &WritePlan{
		Column:    column,
		Partition: p.ID,
		Tasks:     tasks,
		Graph:     g,
		CreateKey: createKey,
		ExtendKey: extendKey,
	}
	if err := plan.Validate(); err != nil {
		return nil, &InternalPlanError{Column: column, Partition: p.ID, Reason: err.Error()}
	}

	pl.logger().Debug("planned write",
		"column", column,
		"partition", p.ID,
		"tasks", len(tasks),
		"create_column", createColumn,
		"extend_rows", extendKey != "",
	)
	return plan, nil
}

// PlanWrite plans a deferred write using the default planner.
func PlanWrite(ctx context.Context, arr *LazyArray, h table.Handle, column string, p *Partition) (*WritePlan, error) {
	return defaultPlanner.PlanWrite(ctx, arr, h, column, p)
}

// rowChunkOffsets computes, for each row-chunk coordinate of arr, the
// starting offset into the destination partition's row sequence.
func rowChunkOffsets(arr *LazyArray, column string, p *Partition) ([]int64, error) {
	sizes := make(map[int]int64)
	maxIdx := -1
	for _, spec := range arr.Specs {
		idx := spec.Coord[0]
		if prev, ok := sizes[idx]; ok && prev != spec.Shape[0] {
			return nil, &InternalPlanError{
				Column:    column,
				Partition: p.ID,
				Reason:    fmt.Sprintf("row chunk %d has conflicting sizes %d and %d", idx, prev, spec.Shape[0]),
			}
		}
		sizes[idx] = spec.Shape[0]
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	offsets := make([]int64, maxIdx+1)
	var at int64
	for i := 0; i <= maxIdx; i++ {
		size, ok := sizes[i]
		if !ok {
			return nil, &InternalPlanError{
				Column:    column,
				Partition: p.ID,
				Reason:    fmt.Sprintf("source array is missing row chunk %d", i),
			}
		}
		offsets[i] = at
		at += size
	}
	if at != p.NumRows() {
		return nil, &InternalPlanError{
			Column:    column,
			Partition: p.ID,
			Reason:    fmt.Sprintf("source row chunks cover %d of %d destination rows", at, p.NumRows()),
		}
	}
	return offsets, nil
}

// writeThunk builds the deferred write for one chunk. The destination row
// sequence is split into contiguous runs; the source chunk is sliced
// accordingly, so non-contiguous partitions cost extra writes rather than
// corrupting neighbouring rows.
func writeThunk(h table.Handle, task WriteTask) graph.Thunk {
	runs := rowrun.Runs(task.Rows)
	perRow := task.Cell.Elements()

	return func(ctx context.Context, in graph.Inputs) (any, error) {
		src, ok := in[task.SourceKey].(arrow.Array)
		if !ok {
			return nil, fmt.Errorf("chunk %v of column %q: source node %q produced no array",
				task.Coord, task.Column, task.SourceKey)
		}
		if int64(src.Len()) != int64(len(task.Rows))*perRow {
			return nil, fmt.Errorf("chunk %v of column %q: source has %d elements, destination needs %d",
				task.Coord, task.Column, src.Len(), int64(len(task.Rows))*perRow)
		}

		var off int64
		for _, run := range runs {
			slice := array.NewSlice(src, off*perRow, (off+run.Len)*perRow)
			err := h.Write(ctx, task.Column, table.RowRange{Start: run.Start, Len: run.Len}, task.Cell, slice)
			slice.Release()
			if err != nil {
				return nil, fmt.Errorf("chunk %v of column %q: %w", task.Coord, task.Column, err)
			}
			off += run.Len
		}
		return nil, nil
	}
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
