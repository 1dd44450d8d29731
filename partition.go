package daskms

import (
	"context"
	"fmt"

	"github.com/chrisfinlay/dask-ms/internal/dtypes"
	"github.com/chrisfinlay/dask-ms/internal/token"
	"github.com/chrisfinlay/dask-ms/table"
)

// GroupByRow is a pseudo grouping column that places every table row in
// its own partition.
const GroupByRow = "__row__"

// Partition is one distinct-value group of the partitioning columns: an
// ordered sequence of absolute row indices plus the value tuple that
// defines the group. Partitions are computed once per table open and are
// immutable for the session. Row indices are not required to be
// contiguous.
type Partition struct {
	// ID is the partition's ordinal among the planned partitions.
	ID int

	// Columns are the partitioning column names, in the order given to
	// PlanPartitions. Empty for the single whole-table partition.
	Columns []string

	// Key holds the partitioning-column values defining this group,
	// aligned with Columns. A fixed-shape array column contributes its
	// flat cell values as a []any element.
	Key []any

	// Rows are the absolute row indices of the group, in table order.
	Rows []int64

	rowSet map[int64]struct{}
}

// NumRows returns the number of rows in the partition.
func (p *Partition) NumRows() int64 {
	return int64(len(p.Rows))
}

// Contains reports in O(1) whether the partition includes row.
func (p *Partition) Contains(row int64) bool {
	_, ok := p.rowSet[row]
	return ok
}

func newPartition(id int, columns []string, key []any, rows []int64) *Partition {
	set := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		set[r] = struct{}{}
	}
	return &Partition{ID: id, Columns: columns, Key: key, Rows: rows, rowSet: set}
}

// PlanPartitions groups the table's row indices into disjoint partitions
// by distinct-value combinations of the partitioning columns.
//
// With no partitioning columns it returns exactly one partition spanning
// all rows in original order. Otherwise it reads each partitioning column
// once in a single batched read and groups rows by value tuple, ordering
// groups by first row encountered (not by value). The pseudo column
// GroupByRow yields one single-row partition per table row.
//
// Fails with a *PartitionError if a partitioning column is missing or has
// a variable-length cell shape.
func (pl *Planner) PlanPartitions(ctx context.Context, h table.Handle, groupCols []string) ([]*Partition, error) {
	nrows := h.RowCount()

	if len(groupCols) == 0 {
		rows := make([]int64, nrows)
		for i := range rows {
			rows[i] = int64(i)
		}
		return []*Partition{newPartition(0, nil, nil, rows)}, nil
	}

	if len(groupCols) == 1 && groupCols[0] == GroupByRow {
		parts := make([]*Partition, nrows)
		for i := int64(0); i < nrows; i++ {
			parts[i] = newPartition(int(i), []string{GroupByRow}, []any{i}, []int64{i})
		}
		return parts, nil
	}

	// Per-column row values; an array-valued column contributes one
	// []any per row.
	colValues := make([][]any, len(groupCols))
	for i, name := range groupCols {
		if name == GroupByRow {
			return nil, &PartitionError{Column: name,
				Reason: "row grouping cannot be combined with other partitioning columns"}
		}
		meta, err := h.ColumnMeta(name)
		if err != nil {
			return nil, &PartitionError{Column: name, Reason: err.Error()}
		}
		if !meta.Fixed {
			return nil, &PartitionError{Column: name,
				Reason: "variable-length cell shape; partitioning requires scalar or fixed-shape values"}
		}

		arr, err := h.Read(ctx, name, table.RowRange{Start: 0, Len: nrows}, table.FullCell(meta.Shape))
		if err != nil {
			return nil, &PartitionError{Column: name, Reason: err.Error()}
		}
		values, err := dtypes.Values(arr)
		arr.Release()
		if err != nil {
			return nil, &PartitionError{Column: name, Reason: err.Error()}
		}

		perRow := int64(1)
		for _, d := range meta.Shape {
			perRow *= d
		}
		rowVals := make([]any, nrows)
		for r := int64(0); r < nrows; r++ {
			if perRow == 1 && meta.Rank == 0 {
				rowVals[r] = values[r]
			} else {
				rowVals[r] = values[r*perRow : (r+1)*perRow]
			}
		}
		colValues[i] = rowVals
	}

	// Group row indices by value tuple, first-encounter order.
	groups := make(map[string]int)
	var order []*partitionAccum
	for r := int64(0); r < nrows; r++ {
		key := make([]any, len(groupCols))
		for i := range groupCols {
			key[i] = colValues[i][r]
		}
		gk, err := token.GroupKey(key)
		if err != nil {
			return nil, &PartitionError{Column: groupCols[0],
				Reason: fmt.Sprintf("failed to encode group key: %v", err)}
		}
		idx, ok := groups[gk]
		if !ok {
			idx = len(order)
			groups[gk] = idx
			order = append(order, &partitionAccum{key: key})
		}
		order[idx].rows = append(order[idx].rows, r)
	}

	parts := make([]*Partition, len(order))
	cols := make([]string, len(groupCols))
	copy(cols, groupCols)
	for i, acc := range order {
		parts[i] = newPartition(i, cols, acc.key, acc.rows)
	}
	return parts, nil
}

// PlanPartitions groups a table's rows using the default planner.
func PlanPartitions(ctx context.Context, h table.Handle, groupCols []string) ([]*Partition, error) {
	return defaultPlanner.PlanPartitions(ctx, h, groupCols)
}

type partitionAccum struct {
	key  []any
	rows []int64
}
