package source

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	// Registers the MySQL driver used by the default SQL store.
	_ "github.com/go-sql-driver/mysql"

	"dbrewind/internal/logging"
)

// SQLStore implements Source and Sink over a database/sql connection pool.
type SQLStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLStore wraps an open connection pool.
func NewSQLStore(db *sql.DB) *SQLStore {
	return NewSQLStoreWithLogger(db, logging.NewNopLogger())
}

// NewSQLStoreWithLogger wraps an open connection pool with the given logger.
func NewSQLStoreWithLogger(db *sql.DB, logger *logging.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// Open connects to a MySQL database with the given DSN and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewSQLStore(db), nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ReadTable implements Source
func (s *SQLStore) ReadTable(ctx context.Context, table string) (RowIter, error) {
	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", table, err)
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	return &sqlRowIter{rows: rows, columns: columns}, nil
}

type sqlRowIter struct {
	rows    *sql.Rows
	columns []string
}

// Next implements RowIter
func (it *sqlRowIter) Next() (Row, bool, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	values := make([]interface{}, len(it.columns))
	pointers := make([]interface{}, len(it.columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := it.rows.Scan(pointers...); err != nil {
		return nil, false, err
	}

	row := make(Row, len(it.columns))
	for i, column := range it.columns {
		// Drivers hand back []byte for text-ish columns; normalize to string
		// so rows hash and compare consistently.
		if b, ok := values[i].([]byte); ok {
			row[column] = string(b)
		} else {
			row[column] = values[i]
		}
	}
	return row, true, nil
}

// Close implements RowIter
func (it *sqlRowIter) Close() error {
	return it.rows.Close()
}

// Begin implements Sink
func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, logger: s.logger}, nil
}

type sqlTx struct {
	tx     *sql.Tx
	logger *logging.Logger
}

// WriteRows implements Tx. Rows are written with one multi-value INSERT per
// call; column order is the sorted field set of the first row, which every
// row in the batch must share.
func (t *sqlTx) WriteRows(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	columns := sortedFields(rows[0])
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	placeholders := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, row := range rows {
		placeholders[i] = placeholder
		for _, column := range columns {
			args = append(args, row[column])
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	if affected, err := result.RowsAffected(); err == nil {
		t.logger.WithFields(map[string]interface{}{
			"table": table,
			"rows":  affected,
		}).Debug("Inserted rows")
	}
	return nil
}

// DeleteRows implements Tx
func (t *sqlTx) DeleteRows(ctx context.Context, table string, keys []Row) error {
	for _, key := range keys {
		fields := sortedFields(key)
		conditions := make([]string, len(fields))
		args := make([]interface{}, len(fields))
		for i, field := range fields {
			conditions[i] = quoteIdent(field) + " = ?"
			args[i] = key[field]
		}

		query := fmt.Sprintf("DELETE FROM %s WHERE %s",
			quoteIdent(table), strings.Join(conditions, " AND "))
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

// Commit implements Tx
func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

// Abort implements Tx
func (t *sqlTx) Abort() error {
	return t.tx.Rollback()
}

func sortedFields(row Row) []string {
	fields := make([]string, 0, len(row))
	for field := range row {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
