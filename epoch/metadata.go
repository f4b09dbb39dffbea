package epoch

import (
	"encoding/json"
	"fmt"

	"github.com/epochio/epocha/errs"
)

// Metadata is an optional row-indexed table with one row per epoch, kept in
// lock-step with the event list under every selection and drop operation.
// Cell contents are opaque to this package.
type Metadata struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NewMetadata builds a table, checking that every row matches the column
// count.
func NewMetadata(columns []string, rows [][]string) (*Metadata, error) {
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d cells for %d columns",
				errs.ErrMetadataRows, i, len(row), len(columns))
		}
	}

	return &Metadata{Columns: columns, Rows: rows}, nil
}

// NRows returns the number of rows.
func (m *Metadata) NRows() int {
	if m == nil {
		return 0
	}

	return len(m.Rows)
}

// Subset returns a new table holding the given rows in order.
func (m *Metadata) Subset(idx []int) *Metadata {
	if m == nil {
		return nil
	}
	rows := make([][]string, len(idx))
	for i, r := range idx {
		rows[i] = m.Rows[r]
	}

	return &Metadata{Columns: m.Columns, Rows: rows}
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	rows := make([][]string, len(m.Rows))
	for i, row := range m.Rows {
		rows[i] = append([]string(nil), row...)
	}

	return &Metadata{Columns: append([]string(nil), m.Columns...), Rows: rows}
}

// concatMetadata unions tables row-wise. Either all inputs have metadata or
// none may.
func concatMetadata(tables []*Metadata) (*Metadata, error) {
	have := 0
	for _, t := range tables {
		if t != nil {
			have++
		}
	}
	if have == 0 {
		return nil, nil
	}
	if have != len(tables) {
		return nil, fmt.Errorf("%w: %d of %d collections have metadata, either all or none must",
			errs.ErrIncompatible, have, len(tables))
	}

	out := &Metadata{Columns: append([]string(nil), tables[0].Columns...)}
	for _, t := range tables {
		out.Rows = append(out.Rows, t.Rows...)
	}

	return out, nil
}

// Encode serializes the table for the container's metadata block. The name
// deliberately avoids the encoding.TextMarshaler method set, which would
// route json.Marshal back through this method.
func (m *Metadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMetadata parses a serialized table.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata block: %w", errs.ErrMalformedBlock, err)
	}

	return &m, nil
}
