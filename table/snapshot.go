package table

import (
	"fmt"
	"os"

	"github.com/chrisfinlay/dask-ms/internal/codec"
	"github.com/chrisfinlay/dask-ms/internal/dtypes"
)

// Snapshot file layout: a MessagePack document, zstd-compressed. Data types
// are stored by their stable names so the format does not depend on Arrow
// internals.

type snapshotDoc struct {
	Name     string           `msgpack:"name"`
	Rows     int64            `msgpack:"rows"`
	Keywords map[string]any   `msgpack:"keywords"`
	Columns  []snapshotColumn `msgpack:"columns"`
}

type snapshotColumn struct {
	Name     string         `msgpack:"name"`
	Type     string         `msgpack:"type"`
	Fixed    bool           `msgpack:"fixed"`
	Shape    []int64        `msgpack:"shape"`
	Rank     int            `msgpack:"rank"`
	Keywords map[string]any `msgpack:"keywords"`
	Cells    []snapshotCell `msgpack:"cells"`
}

type snapshotCell struct {
	Set    bool    `msgpack:"set"`
	Shape  []int64 `msgpack:"shape"`
	Values []any   `msgpack:"values"`
}

// Snapshot persists the table to path as a compressed snapshot file.
func (m *MemTable) Snapshot(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	doc := snapshotDoc{
		Name:     m.name,
		Rows:     m.nrows,
		Keywords: m.keywords,
		Columns:  make([]snapshotColumn, 0, len(m.order)),
	}
	for _, name := range m.order {
		col := m.cols[name]
		typeName, err := dtypes.Name(col.meta.Type)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		sc := snapshotColumn{
			Name:     name,
			Type:     typeName,
			Fixed:    col.meta.Fixed,
			Shape:    col.meta.Shape,
			Rank:     col.meta.Rank,
			Keywords: col.meta.Keywords,
			Cells:    make([]snapshotCell, len(col.cells)),
		}
		for i, cell := range col.cells {
			if cell == nil {
				continue
			}
			sc.Cells[i] = snapshotCell{Set: true, Shape: cell.shape, Values: cell.values}
		}
		doc.Columns = append(doc.Columns, sc)
	}

	data, err := codec.Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode table %q: %w", m.name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %q: %w", path, err)
	}
	return nil
}

// Open loads a MemTable from a snapshot file previously written by
// Snapshot. Fails with an *OpenError.
func Open(path string) (*MemTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	var doc snapshotDoc
	if err := codec.Decode(data, &doc); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	m := NewMemTable(doc.Name)
	m.nrows = doc.Rows
	if doc.Keywords != nil {
		m.keywords = doc.Keywords
	}
	for _, sc := range doc.Columns {
		dt, err := dtypes.FromName(sc.Type)
		if err != nil {
			return nil, &OpenError{Path: path, Err: fmt.Errorf("column %q: %w", sc.Name, err)}
		}
		if int64(len(sc.Cells)) != doc.Rows {
			return nil, &OpenError{Path: path,
				Err: fmt.Errorf("column %q has %d cells for %d rows", sc.Name, len(sc.Cells), doc.Rows)}
		}
		col := &memColumn{
			meta: ColumnMeta{
				Name:     sc.Name,
				Type:     dt,
				Fixed:    sc.Fixed,
				Shape:    sc.Shape,
				Rank:     sc.Rank,
				Keywords: sc.Keywords,
			},
			cells: make([]*memCell, len(sc.Cells)),
		}
		for i, cell := range sc.Cells {
			if !cell.Set {
				continue
			}
			col.cells[i] = &memCell{shape: cell.Shape, values: cell.Values}
		}
		m.cols[sc.Name] = col
		m.order = append(m.order, sc.Name)
	}
	return m, nil
}
