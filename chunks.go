package daskms

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/chrisfinlay/dask-ms/table"
)

// DefaultRowChunk is the row-dimension chunk size used when a policy does
// not specify one.
const DefaultRowChunk int64 = 10000

// ChunkPolicy controls how a (partition, column) array is tiled into
// chunks. The zero value chunks the row dimension at DefaultRowChunk and
// leaves cell dimensions unchunked (each chunk spans the full cell shape).
type ChunkPolicy struct {
	// RowChunk is the target number of rows per chunk.
	// OPTIONAL: If <= 0, DefaultRowChunk is used.
	RowChunk int64

	// CellChunks are per-cell-dimension chunk sizes. A zero (or absent)
	// entry leaves that dimension unchunked. Non-zero sizes are honored
	// exactly, truncating the final chunk to the remaining extent.
	// OPTIONAL.
	CellChunks []int64
}

func (p ChunkPolicy) rowChunk() int64 {
	if p.RowChunk > 0 {
		return p.RowChunk
	}
	return DefaultRowChunk
}

func (p ChunkPolicy) cellChunk(dim int, extent int64) int64 {
	if dim < len(p.CellChunks) && p.CellChunks[dim] > 0 && p.CellChunks[dim] < extent {
		return p.CellChunks[dim]
	}
	return extent
}

// ChunkSpec fully determines one unit of lazy I/O: a rectangular chunk of
// one (partition, column) array, the absolute rows backing its row extent
// and the cell sub-range backing its remaining dimensions.
//
// Within one array the chunk coordinates tile the array exactly once, with
// no gaps or overlaps, iterating in row-major order.
type ChunkSpec struct {
	// Partition is the owning partition's ID.
	Partition int

	// Column is the table column backing the array.
	Column string

	// Coord is the chunk coordinate tuple: row-chunk index first, then
	// one index per cell dimension.
	Coord []int

	// Rows are the absolute row indices covered by this chunk, in
	// partition order. Not necessarily contiguous.
	Rows []int64

	// Cell is the cell sub-range covered by this chunk.
	Cell table.CellRange

	// Shape is the chunk's target shape: (len(Rows), cell extents...).
	Shape []int64

	// Type is the element data type.
	Type arrow.DataType
}

// planChunks tiles a (partition, column) array of the given uniform cell
// shape into ChunkSpecs under policy. The sequence is deterministic:
// identical inputs always yield identical specs.
func planChunks(p *Partition, column string, dt arrow.DataType, cellShape []int64, policy ChunkPolicy) []ChunkSpec {
	nrows := p.NumRows()
	rowChunk := policy.rowChunk()

	nRowChunks := int(nrows / rowChunk)
	if nrows%rowChunk != 0 {
		nRowChunks++
	}

	// Per-dimension chunk counts and sizes for the cell dimensions.
	cellSizes := make([]int64, len(cellShape))
	cellCounts := make([]int, len(cellShape))
	for d, extent := range cellShape {
		size := policy.cellChunk(d, extent)
		cellSizes[d] = size
		n := int(extent / size)
		if extent%size != 0 {
			n++
		}
		cellCounts[d] = n
	}

	total := nRowChunks
	for _, n := range cellCounts {
		total *= n
	}
	if total == 0 {
		return nil
	}

	specs := make([]ChunkSpec, 0, total)
	coord := make([]int, 1+len(cellShape))
	for {
		rs := int64(coord[0]) * rowChunk
		re := rs + rowChunk
		if re > nrows {
			re = nrows
		}

		cell := table.CellRange{
			Start: make([]int64, len(cellShape)),
			Stop:  make([]int64, len(cellShape)),
		}
		shape := make([]int64, 1+len(cellShape))
		shape[0] = re - rs
		for d := range cellShape {
			start := int64(coord[d+1]) * cellSizes[d]
			stop := start + cellSizes[d]
			if stop > cellShape[d] {
				stop = cellShape[d]
			}
			cell.Start[d] = start
			cell.Stop[d] = stop
			shape[d+1] = stop - start
		}

		c := make([]int, len(coord))
		copy(c, coord)
		specs = append(specs, ChunkSpec{
			Partition: p.ID,
			Column:    column,
			Coord:     c,
			Rows:      p.Rows[rs:re],
			Cell:      cell,
			Shape:     shape,
			Type:      dt,
		})

		// Advance the chunk coordinate in row-major order.
		done := true
		for d := len(coord) - 1; d >= 0; d-- {
			limit := nRowChunks
			if d > 0 {
				limit = cellCounts[d-1]
			}
			coord[d]++
			if coord[d] < limit {
				done = false
				break
			}
			coord[d] = 0
		}
		if done {
			break
		}
	}
	return specs
}

// verifyTiling checks the chunk tiling invariant: the specs' row
// sub-ranges partition the partition's rows exactly (no gap, no overlap)
// for every cell tile, and the cell ranges tile the cell shape exactly.
// A violation is a planner bug, reported as *InternalPlanError.
func verifyTiling(p *Partition, column string, cellShape []int64, specs []ChunkSpec) error {
	fail := func(format string, args ...any) error {
		return &InternalPlanError{
			Column:    column,
			Partition: p.ID,
			Reason:    fmt.Sprintf(format, args...),
		}
	}

	if p.NumRows() == 0 {
		if len(specs) != 0 {
			return fail("%d chunks planned for an empty partition", len(specs))
		}
		return nil
	}

	// Rows: group specs by cell coordinate; each group's concatenated
	// rows must reproduce the partition's rows exactly.
	type cellGroup struct {
		rowIdx []int
		rows   [][]int64
	}
	groups := make(map[string]*cellGroup)
	var groupOrder []string
	for _, s := range specs {
		key := fmt.Sprint(s.Coord[1:])
		g, ok := groups[key]
		if !ok {
			g = &cellGroup{}
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		g.rowIdx = append(g.rowIdx, s.Coord[0])
		g.rows = append(g.rows, s.Rows)
	}

	for _, key := range groupOrder {
		g := groups[key]
		// Within one cell tile, row-chunk indices must be 0..n-1 in
		// order (row-major iteration).
		for i, idx := range g.rowIdx {
			if idx != i {
				return fail("cell tile %s: row chunk %d appears at position %d", key, idx, i)
			}
		}
		pos := 0
		for i, rows := range g.rows {
			for j, r := range rows {
				if pos >= len(p.Rows) {
					return fail("cell tile %s: row chunk %d overruns the partition", key, i)
				}
				if p.Rows[pos] != r {
					return fail("cell tile %s: row chunk %d row %d is %d, expected %d",
						key, i, j, r, p.Rows[pos])
				}
				pos++
			}
		}
		if pos != len(p.Rows) {
			return fail("cell tile %s covers %d of %d partition rows", key, pos, len(p.Rows))
		}
	}

	// Cells: along each dimension the distinct intervals must cover
	// [0, extent) contiguously.
	for d, extent := range cellShape {
		intervals := make(map[int][2]int64)
		maxIdx := -1
		for _, s := range specs {
			idx := s.Coord[d+1]
			iv := [2]int64{s.Cell.Start[d], s.Cell.Stop[d]}
			if prev, ok := intervals[idx]; ok && prev != iv {
				return fail("cell dimension %d chunk %d has conflicting ranges %v and %v", d, idx, prev, iv)
			}
			intervals[idx] = iv
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		var at int64
		for i := 0; i <= maxIdx; i++ {
			iv, ok := intervals[i]
			if !ok {
				return fail("cell dimension %d is missing chunk %d", d, i)
			}
			if iv[0] != at {
				return fail("cell dimension %d chunk %d starts at %d, expected %d", d, i, iv[0], at)
			}
			if iv[1] <= iv[0] {
				return fail("cell dimension %d chunk %d is empty", d, i)
			}
			at = iv[1]
		}
		if at != extent {
			return fail("cell dimension %d covers %d of %d elements", d, at, extent)
		}
	}

	return nil
}
