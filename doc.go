// Package daskms translates legacy row-oriented, self-describing columnar
// tables (the measurement-set family of formats) into lazily-evaluated
// chunked arrays, and plans writes of chunked arrays back into such
// tables.
//
// The package is a pure planning layer:
//   - Resolving a table's per-column metadata into normalized descriptors
//   - Grouping rows into partitions by distinct partitioning-column values
//   - Tiling each (partition, column) pair into deterministic chunks
//   - Emitting a deferred read node per chunk (a LazyArray)
//   - Emitting deferred write, column-creation, and row-extension nodes
//     with explicit dependency edges (a WritePlan)
//
// No table data moves while planning; every read and write lives in a
// graph.Node handed to a scheduler of the caller's choice (the graph
// package ships sequential and parallel reference executors). Each node is
// tagged with the lock scope it needs on the table resource, and nodes may
// run in any order consistent with their dependency edges.
//
// # Quick start
//
// Translate a table into one dataset per FIELD_ID value and realize a
// column:
//
//	tbl, err := table.Open("obs.ms.snap")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tbl.Close()
//
//	datasets, err := daskms.ReadDatasets(ctx, tbl, daskms.ReadOptions{
//	    GroupCols: []string{"FIELD_ID"},
//	    Chunks:    daskms.ChunkPolicy{RowChunk: 10000},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	data := datasets[0].Vars["DATA"]
//	results, err := graph.Run(ctx, data.Graph, data.Keys)
//
// The write path is the inverse: PlanWrite turns a LazyArray (or an
// in-memory array wrapped with FromArray) into WriteTasks whose graph
// creates the destination column and extends the table as needed before
// any chunk is written.
package daskms
