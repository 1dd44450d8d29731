// Package rowrun converts sequences of absolute row indices into maximal
// contiguous (start, length) runs suitable for batched table reads.
//
// Partitions group rows by column value, so their index sequences are
// usually non-contiguous. The underlying table resource only supports
// contiguous row-range access, so a chunk covering rows [0, 1, 3, 4] must
// be read as two runs: (0, 2) and (3, 2).
package rowrun

// Run is a contiguous range of rows: Start, Start+1, ..., Start+Len-1.
type Run struct {
	Start int64
	Len   int64
}

// Runs splits rows into maximal runs of consecutive ascending indices,
// preserving the order of the input sequence. The concatenation of all
// runs reproduces rows exactly.
//
// Rows need not be sorted; a descending or repeated index simply starts a
// new run. An empty input yields nil.
func Runs(rows []int64) []Run {
	if len(rows) == 0 {
		return nil
	}

	runs := make([]Run, 0, 1)
	cur := Run{Start: rows[0], Len: 1}

	for _, r := range rows[1:] {
		if r == cur.Start+cur.Len {
			cur.Len++
			continue
		}
		runs = append(runs, cur)
		cur = Run{Start: r, Len: 1}
	}

	return append(runs, cur)
}

// Total returns the number of rows covered by runs.
func Total(runs []Run) int64 {
	var n int64
	for _, r := range runs {
		n += r.Len
	}
	return n
}
