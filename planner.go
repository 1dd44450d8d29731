package daskms

import (
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Planner is the translation engine's entry point. The zero value is ready
// to use.
//
// Planner methods never perform table I/O beyond reading metadata (and, in
// PlanPartitions, the single batched read of the grouping columns): they
// construct deferred computation graphs for an external scheduler to run.
// Every planning method either succeeds completely or fails without
// returning a partial plan.
type Planner struct {
	// Logger for plan-time diagnostics.
	// OPTIONAL: Uses slog.Default() if nil.
	Logger *slog.Logger

	// Allocator for Arrow memory management inside deferred nodes.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator
}

func (pl *Planner) logger() *slog.Logger {
	if pl.Logger != nil {
		return pl.Logger
	}
	return slog.Default()
}

func (pl *Planner) alloc() memory.Allocator {
	if pl.Allocator != nil {
		return pl.Allocator
	}
	return memory.DefaultAllocator
}

// defaultPlanner backs the package-level convenience functions.
var defaultPlanner = &Planner{}
