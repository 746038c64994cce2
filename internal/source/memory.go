package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/schema"
)

// MemoryStore is an in-memory Source and Sink used by tests and examples.
// When constructed with a schema version it enforces foreign-key integrity
// at commit time, mirroring what a relational sink would reject.
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[string][]Row
	version *schema.Version
}

// NewMemoryStore creates an empty store without constraint checking.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row)}
}

// NewMemoryStoreWithSchema creates an empty store that validates foreign
// keys of the given schema version when a transaction commits.
func NewMemoryStoreWithSchema(version *schema.Version) *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row), version: version}
}

// Seed replaces the contents of a table. Intended for test setup.
func (m *MemoryStore) Seed(table string, rows []Row) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]Row, len(rows))
	for i, row := range rows {
		copied[i] = row.Clone()
	}
	m.tables[table] = copied
}

// Rows returns a copy of the current contents of a table.
func (m *MemoryStore) Rows(table string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.tables[table]
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}

// Reset drops all data.
func (m *MemoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string][]Row)
}

// ReadTable implements Source
func (m *MemoryStore) ReadTable(ctx context.Context, table string) (RowIter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewSliceIter(m.Rows(table)), nil
}

// Begin implements Sink. The transaction stages all changes against a copy
// of the store and swaps it in atomically on Commit.
func (m *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	staged := make(map[string][]Row, len(m.tables))
	for name, rows := range m.tables {
		copied := make([]Row, len(rows))
		for i, row := range rows {
			copied[i] = row.Clone()
		}
		staged[name] = copied
	}
	m.mu.RUnlock()

	return &memoryTx{store: m, staged: staged}, nil
}

type memoryTx struct {
	store  *MemoryStore
	staged map[string][]Row
	done   bool
}

// WriteRows implements Tx
func (tx *memoryTx) WriteRows(ctx context.Context, table string, rows []Row) error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, row := range rows {
		tx.staged[table] = append(tx.staged[table], row.Clone())
	}
	return nil
}

// DeleteRows implements Tx
func (tx *memoryTx) DeleteRows(ctx context.Context, table string, keys []Row) error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	remaining := tx.staged[table][:0]
	for _, row := range tx.staged[table] {
		if !matchesAnyKey(row, keys) {
			remaining = append(remaining, row)
		}
	}
	tx.staged[table] = remaining
	return nil
}

// Commit implements Tx. Foreign-key integrity is validated before the swap
// when the store carries a schema version; a violation aborts the whole
// transaction.
func (tx *memoryTx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true

	if tx.store.version != nil {
		if err := validateForeignKeys(tx.store.version, tx.staged); err != nil {
			return err
		}
	}

	tx.store.mu.Lock()
	tx.store.tables = tx.staged
	tx.store.mu.Unlock()
	return nil
}

// Abort implements Tx
func (tx *memoryTx) Abort() error {
	tx.done = true
	tx.staged = nil
	return nil
}

func matchesAnyKey(row Row, keys []Row) bool {
	for _, key := range keys {
		matched := len(key) > 0
		for field, want := range key {
			if fmt.Sprint(row[field]) != fmt.Sprint(want) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// validateForeignKeys checks every staged foreign-key reference against the
// staged parent tables.
func validateForeignKeys(version *schema.Version, tables map[string][]Row) error {
	for i := range version.Tables {
		table := &version.Tables[i]
		for _, fk := range table.ForeignKeys {
			parents := make(map[string]bool)
			for _, parentRow := range tables[fk.RefTable] {
				parents[fmt.Sprint(parentRow[fk.RefField])] = true
			}
			for _, row := range tables[table.Name] {
				value, present := row[fk.Field]
				if !present || value == nil {
					continue
				}
				if !parents[fmt.Sprint(value)] {
					return apperrors.Errorf(apperrors.KindConstraintViolation,
						"foreign key violation: %s.%s=%v has no match in %s.%s",
						table.Name, fk.Field, value, fk.RefTable, fk.RefField)
				}
			}
		}
	}
	return nil
}

// TableNames returns the names of non-empty tables, sorted.
func (m *MemoryStore) TableNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, rows := range m.tables {
		if len(rows) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
