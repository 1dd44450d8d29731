package daskms

import (
	"context"
	"sort"

	"github.com/chrisfinlay/dask-ms/table"
)

// RowIDColumn names the lazy coordinate array of absolute row indices
// attached to every dataset.
const RowIDColumn = "ROWID"

// PartitionKeyAttr is the dataset attribute recording which columns the
// dataset was partitioned by.
const PartitionKeyAttr = "__daskms_partition_key__"

// Dataset is one partition's view of a table: a lazy array per selected
// column, the ROWID coordinate array, and the partitioning values as
// attributes.
type Dataset struct {
	// Table is the source table name.
	Table string

	// Partition identifies the rows this dataset covers.
	Partition *Partition

	// RowID is the lazy array of the partition's absolute row indices.
	RowID *LazyArray

	// Vars maps column name to its lazy array.
	Vars map[string]*LazyArray

	// Attrs holds PartitionKeyAttr plus one entry per partitioning
	// column with that column's group value.
	Attrs map[string]any
}

// ReadOptions configures ReadDatasets.
type ReadOptions struct {
	// Columns to translate. OPTIONAL: nil selects every column;
	// columns that cannot be resolved are then skipped with a warning.
	// Explicitly named columns fail hard instead.
	Columns []string

	// GroupCols are the partitioning columns. OPTIONAL: nil yields a
	// single dataset spanning the whole table.
	GroupCols []string

	// Chunks is the chunking policy applied to every array.
	Chunks ChunkPolicy
}

// ReadDatasets plans one Dataset per partition of the table: schema
// resolution, partition planning, and lazy array construction in one call.
// No table data is read beyond the partitioning columns; all column data
// stays deferred in each array's graph.
func (pl *Planner) ReadDatasets(ctx context.Context, h table.Handle, opts ReadOptions) ([]*Dataset, error) {
	parts, err := pl.PlanPartitions(ctx, h, opts.GroupCols)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]bool, len(opts.GroupCols))
	for _, c := range opts.GroupCols {
		grouped[c] = true
	}

	// Resolve the selected columns up front. Auto-selection tolerates
	// unresolvable columns (legacy tables carry columns with no array
	// mapping); explicit selection does not.
	lenient := opts.Columns == nil
	names := opts.Columns
	if lenient {
		names = h.Columns()
	}
	var descs []ColumnDescriptor
	for _, name := range names {
		if grouped[name] {
			// Partitioning values are constant per dataset and
			// carried as attributes instead.
			continue
		}
		desc, err := resolveNamed(h, name)
		if err != nil {
			if !lenient {
				return nil, err
			}
			pl.logger().Warn("ignoring column", "table", h.Name(), "column", name, "error", err)
			continue
		}
		descs = append(descs, desc)
	}

	datasets := make([]*Dataset, 0, len(parts))
	for _, p := range parts {
		vars := make(map[string]*LazyArray, len(descs))
		for _, desc := range descs {
			arr, err := pl.BuildLazyArray(ctx, h, p, desc, opts.Chunks)
			if err != nil {
				return nil, err
			}
			vars[desc.Name] = arr
		}

		rowid, err := pl.rowIDArray(h, p, opts.Chunks)
		if err != nil {
			return nil, err
		}

		attrs := make(map[string]any, len(p.Columns)+1)
		attrs[PartitionKeyAttr] = append([]string{}, p.Columns...)
		for i, c := range p.Columns {
			attrs[c] = p.Key[i]
		}

		datasets = append(datasets, &Dataset{
			Table:     h.Name(),
			Partition: p,
			RowID:     rowid,
			Vars:      vars,
			Attrs:     attrs,
		})
	}
	return datasets, nil
}

// ReadDatasets plans datasets using the default planner.
func ReadDatasets(ctx context.Context, h table.Handle, opts ReadOptions) ([]*Dataset, error) {
	return defaultPlanner.ReadDatasets(ctx, h, opts)
}

// PlanDatasetWrite plans the write of every variable of ds into h,
// targeting the dataset's own partition. Plans are returned in column name
// order. Planning is all-or-nothing: any validation failure returns no
// plans at all.
//
// Row-extension counts are fixed per plan at plan time. When the partition
// addresses rows past the current table end, every plan carries its own
// extension node; size the table up front (ExtendRows) before planning
// multiple columns, or plan and run one column at a time.
func (pl *Planner) PlanDatasetWrite(ctx context.Context, ds *Dataset, h table.Handle) ([]*WritePlan, error) {
	names := make([]string, 0, len(ds.Vars))
	for name := range ds.Vars {
		names = append(names, name)
	}
	sort.Strings(names)

	plans := make([]*WritePlan, 0, len(names))
	for _, name := range names {
		plan, err := pl.PlanWrite(ctx, ds.Vars[name], h, name, ds.Partition)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// PlanDatasetWrite plans a dataset write using the default planner.
func PlanDatasetWrite(ctx context.Context, ds *Dataset, h table.Handle) ([]*WritePlan, error) {
	return defaultPlanner.PlanDatasetWrite(ctx, ds, h)
}
