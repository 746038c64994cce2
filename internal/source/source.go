// Package source defines the row-level contract between the backup/restore
// core and the underlying database. The core never issues raw queries; it
// reads full tables through Source and writes staged rows through a single
// scoped transaction obtained from Sink.
package source

import (
	"context"
)

// Row is one logical database row keyed by field name.
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RowIter is a lazy sequence of rows. Callers must Close it when done.
type RowIter interface {
	// Next returns the next row. ok is false once the sequence is exhausted.
	Next() (row Row, ok bool, err error)
	Close() error
}

// Source provides read access to business data.
type Source interface {
	// ReadTable returns a lazy iterator over every row of the named table.
	ReadTable(ctx context.Context, table string) (RowIter, error)
}

// Tx is one scoped transaction against a data sink. All writes within a
// restore session go through exactly one Tx; Commit and Abort are terminal.
type Tx interface {
	WriteRows(ctx context.Context, table string, rows []Row) error
	// DeleteRows removes rows matched by primary-key values. Each key row
	// contains only the primary-key fields.
	DeleteRows(ctx context.Context, table string, keys []Row) error
	Commit() error
	Abort() error
}

// Sink provides transactional write access to business data.
type Sink interface {
	Begin(ctx context.Context) (Tx, error)
}

// SliceIter is a RowIter over an in-memory slice.
type SliceIter struct {
	rows []Row
	pos  int
}

// NewSliceIter creates a RowIter that yields the given rows in order.
func NewSliceIter(rows []Row) *SliceIter {
	return &SliceIter{rows: rows}
}

// Next implements RowIter
func (it *SliceIter) Next() (Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

// Close implements RowIter
func (it *SliceIter) Close() error { return nil }

// Collect drains an iterator into a slice and closes it.
func Collect(it RowIter) ([]Row, error) {
	defer it.Close()

	var rows []Row
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, row)
	}
}
