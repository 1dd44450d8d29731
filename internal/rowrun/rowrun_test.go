package rowrun

import (
	"reflect"
	"testing"
)

func TestRuns(t *testing.T) {
	tests := []struct {
		name string
		rows []int64
		want []Run
	}{
		{
			name: "empty",
			rows: nil,
			want: nil,
		},
		{
			name: "single row",
			rows: []int64{7},
			want: []Run{{Start: 7, Len: 1}},
		},
		{
			name: "fully contiguous",
			rows: []int64{0, 1, 2, 3},
			want: []Run{{Start: 0, Len: 4}},
		},
		{
			name: "two runs",
			rows: []int64{0, 1, 3, 4},
			want: []Run{{Start: 0, Len: 2}, {Start: 3, Len: 2}},
		},
		{
			name: "isolated rows",
			rows: []int64{5, 2, 9},
			want: []Run{{Start: 5, Len: 1}, {Start: 2, Len: 1}, {Start: 9, Len: 1}},
		},
		{
			name: "descending breaks runs",
			rows: []int64{3, 2, 1},
			want: []Run{{Start: 3, Len: 1}, {Start: 2, Len: 1}, {Start: 1, Len: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Runs(tt.rows)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Runs(%v) = %v, want %v", tt.rows, got, tt.want)
			}
			if Total(got) != int64(len(tt.rows)) {
				t.Errorf("Total(%v) = %d, want %d", got, Total(got), len(tt.rows))
			}
		})
	}
}

func TestRunsReproduceInput(t *testing.T) {
	rows := []int64{0, 1, 3, 4, 4, 10, 11, 12, 2}
	var rebuilt []int64
	for _, run := range Runs(rows) {
		for i := int64(0); i < run.Len; i++ {
			rebuilt = append(rebuilt, run.Start+i)
		}
	}
	if !reflect.DeepEqual(rebuilt, rows) {
		t.Errorf("runs rebuild %v, want %v", rebuilt, rows)
	}
}
