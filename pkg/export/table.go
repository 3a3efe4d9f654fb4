// Package export assembles mapped rows into the export table and writes it
// as an xlsx workbook.
package export

import "github.com/Sternrassler/alm-export/pkg/mapping"

// Table is the assembled export: a header row of display names followed by
// every mapped row in ascending start-index order.
type Table struct {
	Header []string
	Rows   []mapping.MappedRow
}

// Assemble builds the table from per-page rows given in start-index order.
// Nil pages (failed fetches) contribute nothing. Assemble does not modify
// its inputs and returns the same table for the same arguments.
func Assemble(m mapping.FieldMapping, pages [][]mapping.MappedRow) Table {
	n := 0
	for _, p := range pages {
		n += len(p)
	}

	rows := make([]mapping.MappedRow, 0, n)
	for _, p := range pages {
		rows = append(rows, p...)
	}

	return Table{
		Header: m.Columns(),
		Rows:   rows,
	}
}

// Len returns the number of data rows, excluding the header.
func (t Table) Len() int {
	return len(t.Rows)
}

// Records returns the header followed by all rows, one []any per sheet row.
func (t Table) Records() [][]any {
	out := make([][]any, 0, len(t.Rows)+1)

	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	out = append(out, header)

	for _, r := range t.Rows {
		out = append(out, []any(r))
	}
	return out
}
