package daskms

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/chrisfinlay/dask-ms/graph"
	"github.com/chrisfinlay/dask-ms/internal/token"
)

// FromArray wraps an already-materialized flat row-major Arrow array as a
// LazyArray, chunked along the row dimension per policy. It is the bridge
// for feeding externally-computed data into PlanWrite.
//
// Cell dimensions are never sub-chunked here (a literal array has no
// backing table to re-slice), so policy.CellChunks is ignored. The wrapped
// array must stay valid until the resulting graph has run.
func (pl *Planner) FromArray(name string, data arrow.Array, shape []int64, policy ChunkPolicy) (*LazyArray, error) {
	if len(shape) == 0 {
		return nil, &SchemaError{Column: name, Reason: "array shape must include the row dimension"}
	}
	total := int64(1)
	for _, d := range shape {
		if d < 0 {
			return nil, &SchemaError{Column: name, Reason: fmt.Sprintf("invalid shape %v", shape)}
		}
		total *= d
	}
	if int64(data.Len()) != total {
		return nil, &ShapeMismatchError{Column: name, Want: shape, Got: []int64{int64(data.Len())}}
	}

	// A pseudo partition over source row ordinals; PlanWrite maps row
	// chunks onto destination rows by offset, not by these indices.
	rows := make([]int64, shape[0])
	for i := range rows {
		rows[i] = int64(i)
	}
	src := newPartition(0, nil, nil, rows)

	cellShape := shape[1:]
	perRow := int64(1)
	for _, d := range cellShape {
		perRow *= d
	}

	specs := planChunks(src, name, data.DataType(), cellShape, ChunkPolicy{RowChunk: policy.rowChunk()})
	if err := verifyTiling(src, name, cellShape, specs); err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("array-%s", name)
	g := graph.New()
	keys := make([]string, len(specs))
	for i, spec := range specs {
		key, err := token.Key(prefix, spec.Coord, spec.Rows, data.Len())
		if err != nil {
			return nil, &InternalPlanError{Column: name, Reason: err.Error()}
		}
		keys[i] = key

		rs := spec.Rows[0]
		re := rs + spec.Shape[0]
		node := &graph.Node{
			Key:  key,
			Lock: graph.LockNone,
			Do: func(ctx context.Context, _ graph.Inputs) (any, error) {
				return array.NewSlice(data, rs*perRow, re*perRow), nil
			},
		}
		if err := g.Add(node); err != nil {
			return nil, &InternalPlanError{Column: name, Reason: err.Error()}
		}
	}

	return &LazyArray{
		Name:   prefix,
		Column: name,
		Type:   data.DataType(),
		Shape:  append([]int64{}, shape...),
		Specs:  specs,
		Keys:   keys,
		Graph:  g,
	}, nil
}

// FromArray wraps a materialized array using the default planner.
func FromArray(name string, data arrow.Array, shape []int64, policy ChunkPolicy) (*LazyArray, error) {
	return defaultPlanner.FromArray(name, data, shape, policy)
}
