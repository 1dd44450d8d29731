package daskms

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/chrisfinlay/dask-ms/graph"
	"github.com/chrisfinlay/dask-ms/internal/dtypes"
	"github.com/chrisfinlay/dask-ms/table"
)

// wideTable builds a 10-row table with DATA cells of shape (4,):
// DATA[row][i] = row*10 + i.
func wideTable(t *testing.T) *table.MemTable {
	t.Helper()
	values := make([][]any, 10)
	for row := range values {
		cell := make([]any, 4)
		for i := range cell {
			cell[i] = float64(row*10 + i)
		}
		values[row] = cell
	}
	tbl, err := table.NewBuilder("wide.ms", 10).
		Column(table.ColumnDef{
			Meta:   table.ColumnMeta{Name: "DATA", Type: arrow.PrimitiveTypes.Float64, Fixed: true, Shape: []int64{4}, Rank: 1},
			Values: values,
		}).
		Build()
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return tbl
}

// realize runs an array's graph and returns the chunk values in Keys order.
func realize(t *testing.T, arr *LazyArray) [][]any {
	t.Helper()
	results, err := graph.Run(context.Background(), arr.Graph, arr.Keys)
	if err != nil {
		t.Fatalf("failed to run graph: %v", err)
	}
	out := make([][]any, len(arr.Keys))
	for i, key := range arr.Keys {
		chunk, ok := results[key].(arrow.Array)
		if !ok {
			t.Fatalf("chunk %d produced %T, want arrow.Array", i, results[key])
		}
		values, err := dtypes.Values(chunk)
		chunk.Release()
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		out[i] = values
	}
	return out
}

func mustDescriptor(t *testing.T, h table.Handle, name string) ColumnDescriptor {
	t.Helper()
	descs, err := ResolveSchema(h)
	if err != nil {
		t.Fatalf("ResolveSchema failed: %v", err)
	}
	for _, d := range descs {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("column %q not resolved", name)
	return ColumnDescriptor{}
}

func TestBuildLazyArrayRowChunking(t *testing.T) {
	ctx := context.Background()
	tbl := wideTable(t)
	defer tbl.Close()

	parts, err := PlanPartitions(ctx, tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc := mustDescriptor(t, tbl, "DATA")

	arr, err := BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{RowChunk: 4})
	if err != nil {
		t.Fatalf("BuildLazyArray failed: %v", err)
	}

	if !reflect.DeepEqual(arr.Shape, []int64{10, 4}) {
		t.Errorf("array shape = %v, want [10 4]", arr.Shape)
	}
	if arr.NumChunks() != 3 {
		t.Fatalf("planned %d chunks, want 3", arr.NumChunks())
	}

	wantRows := [][]int64{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}
	wantShapes := [][]int64{{4, 4}, {4, 4}, {2, 4}}
	for i, spec := range arr.Specs {
		if !reflect.DeepEqual(spec.Rows, wantRows[i]) {
			t.Errorf("chunk %d rows = %v, want %v", i, spec.Rows, wantRows[i])
		}
		if !reflect.DeepEqual(spec.Shape, wantShapes[i]) {
			t.Errorf("chunk %d shape = %v, want %v", i, spec.Shape, wantShapes[i])
		}
		if !reflect.DeepEqual(spec.Coord, []int{i, 0}) {
			t.Errorf("chunk %d coord = %v", i, spec.Coord)
		}
	}

	chunks := realize(t, arr)
	if got, want := chunks[2][1], 81.0; got != want {
		t.Errorf("chunk 2 element 1 = %v, want %v", got, want)
	}
	var flat []any
	for _, c := range chunks {
		flat = append(flat, c...)
	}
	if len(flat) != 40 {
		t.Fatalf("realized %d elements, want 40", len(flat))
	}
	for row := 0; row < 10; row++ {
		for i := 0; i < 4; i++ {
			if got := flat[row*4+i]; got != float64(row*10+i) {
				t.Errorf("element (%d, %d) = %v, want %v", row, i, got, float64(row*10+i))
			}
		}
	}
}

func TestBuildLazyArrayDeterministicKeys(t *testing.T) {
	ctx := context.Background()
	tbl := wideTable(t)
	defer tbl.Close()

	parts, err := PlanPartitions(ctx, tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc := mustDescriptor(t, tbl, "DATA")

	a, err := BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{RowChunk: 4})
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{RowChunk: 4})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Keys, b.Keys) {
		t.Errorf("identical plans produced different keys:\n%v\n%v", a.Keys, b.Keys)
	}

	c, err := BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{RowChunk: 5})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range c.Keys {
		for _, prev := range a.Keys {
			if key == prev {
				t.Errorf("different chunking reused key %q", key)
			}
		}
	}
}

func TestBuildLazyArrayCellChunking(t *testing.T) {
	ctx := context.Background()
	tbl := wideTable(t)
	defer tbl.Close()

	parts, err := PlanPartitions(ctx, tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc := mustDescriptor(t, tbl, "DATA")

	arr, err := BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{RowChunk: 5, CellChunks: []int64{3}})
	if err != nil {
		t.Fatalf("BuildLazyArray failed: %v", err)
	}
	// 2 row chunks x 2 cell chunks ([0,3) and [3,4)).
	if arr.NumChunks() != 4 {
		t.Fatalf("planned %d chunks, want 4", arr.NumChunks())
	}

	spec := arr.Specs[1]
	if !reflect.DeepEqual(spec.Coord, []int{0, 1}) {
		t.Errorf("second chunk coord = %v, want [0 1]", spec.Coord)
	}
	if spec.Cell.Start[0] != 3 || spec.Cell.Stop[0] != 4 {
		t.Errorf("second chunk cell range = [%d, %d), want [3, 4)", spec.Cell.Start[0], spec.Cell.Stop[0])
	}
	if !reflect.DeepEqual(spec.Shape, []int64{5, 1}) {
		t.Errorf("second chunk shape = %v, want [5 1]", spec.Shape)
	}

	chunks := realize(t, arr)
	// Chunk (0,1): element 3 of rows 0..4.
	want := []any{3.0, 13.0, 23.0, 33.0, 43.0}
	if !reflect.DeepEqual(chunks[1], want) {
		t.Errorf("chunk (0,1) = %v, want %v", chunks[1], want)
	}
}

func TestBuildLazyArrayNonContiguousPartition(t *testing.T) {
	ctx := context.Background()
	tbl := obsTable(t)
	defer tbl.Close()

	parts, err := PlanPartitions(ctx, tbl, []string{"OBS"})
	if err != nil {
		t.Fatal(err)
	}
	desc := mustDescriptor(t, tbl, "DATA")

	// Partition A covers rows 0, 1, 3: each chunk read is split into the
	// contiguous runs [0, 2) and [3, 4).
	arr, err := BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{})
	if err != nil {
		t.Fatalf("BuildLazyArray failed: %v", err)
	}
	if !reflect.DeepEqual(arr.Shape, []int64{3, 2}) {
		t.Errorf("array shape = %v, want [3 2]", arr.Shape)
	}
	if arr.NumChunks() != 1 {
		t.Fatalf("planned %d chunks, want 1", arr.NumChunks())
	}

	chunks := realize(t, arr)
	want := []any{int64(100), int64(101), int64(110), int64(111), int64(130), int64(131)}
	if !reflect.DeepEqual(chunks[0], want) {
		t.Errorf("realized %v, want %v", chunks[0], want)
	}
}

func TestBuildLazyArrayVariableShape(t *testing.T) {
	ctx := context.Background()
	tbl, err := table.NewBuilder("var.ms", 3).
		Column(table.ColumnDef{
			Meta: table.ColumnMeta{Name: "V", Type: arrow.PrimitiveTypes.Int32, Fixed: false, Rank: 1},
			Values: [][]any{
				{int32(1), int32(2)},
				{int32(3), int32(4)},
				{int32(5), int32(6)},
			},
			Shapes: [][]int64{{2}, {2}, {2}},
		}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	parts, err := PlanPartitions(ctx, tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc := mustDescriptor(t, tbl, "V")

	// Uniform per-row shapes within the partition are inferred as (2,).
	arr, err := BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{})
	if err != nil {
		t.Fatalf("BuildLazyArray failed: %v", err)
	}
	if !reflect.DeepEqual(arr.Shape, []int64{3, 2}) {
		t.Errorf("array shape = %v, want [3 2]", arr.Shape)
	}

	chunks := realize(t, arr)
	want := []any{int32(1), int32(2), int32(3), int32(4), int32(5), int32(6)}
	if !reflect.DeepEqual(chunks[0], want) {
		t.Errorf("realized %v, want %v", chunks[0], want)
	}
}

func TestBuildLazyArrayRaggedShape(t *testing.T) {
	ctx := context.Background()
	tbl, err := table.NewBuilder("var.ms", 2).
		Column(table.ColumnDef{
			Meta: table.ColumnMeta{Name: "V", Type: arrow.PrimitiveTypes.Int32, Fixed: false, Rank: 1},
			Values: [][]any{
				{int32(1), int32(2)},
				{int32(3), int32(4), int32(5)},
			},
			Shapes: [][]int64{{2}, {3}},
		}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	parts, err := PlanPartitions(ctx, tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc := mustDescriptor(t, tbl, "V")

	_, err = BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{})
	var rerr *RaggedShapeError
	if !errors.As(err, &rerr) {
		t.Fatalf("BuildLazyArray = %v, want *RaggedShapeError", err)
	}
	if rerr.Column != "V" || rerr.Row != 1 {
		t.Errorf("error identifies column %q row %d", rerr.Column, rerr.Row)
	}
	if !reflect.DeepEqual(rerr.Want, []int64{2}) || !reflect.DeepEqual(rerr.Got, []int64{3}) {
		t.Errorf("error shapes: want %v got %v", rerr.Want, rerr.Got)
	}
}

func TestBuildLazyArrayEmptyVariablePartition(t *testing.T) {
	ctx := context.Background()
	tbl, err := table.NewBuilder("var.ms", 0).
		Column(table.ColumnDef{
			Meta: table.ColumnMeta{Name: "V", Type: arrow.PrimitiveTypes.Int32, Fixed: false, Rank: 1},
		}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	parts, err := PlanPartitions(ctx, tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc := mustDescriptor(t, tbl, "V")

	_, err = BuildLazyArray(ctx, tbl, parts[0], desc, ChunkPolicy{})
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("BuildLazyArray = %v, want *SchemaError", err)
	}
}
