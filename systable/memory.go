package systable

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/largedata/query"
)

// Selecter reads tracking rows back.
type Selecter interface {
	// Select returns the unexpired rows of table matching f, in primary key order.
	Select(ctx context.Context, table string, f Filter) ([]Row, error)
}

// Store is a tracking-table executor that can also be read back.
type Store interface {
	query.Executor
	Selecter
}

// MemoryStore is an in-memory Store.
// Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Row // table -> primary key -> row
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for TTL expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(optFns ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		tables: make(map[string]map[string]Row, 3),
		now:    time.Now,
	}
	for _, fn := range optFns {
		fn(m)
	}
	for _, name := range Tables() {
		m.tables[name] = make(map[string]Row)
	}
	return m
}

// Execute implements query.Executor.
func (m *MemoryStore) Execute(ctx context.Context, stmt query.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch stmt.Kind {
	case query.Insert:
		row, err := FromStatement(stmt, m.now())
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.tables[row.Table][string(row.Key())] = row
		m.mu.Unlock()
		return nil
	case query.Delete:
		table, f, err := FilterFromStatement(stmt)
		if err != nil {
			return err
		}
		m.mu.Lock()
		for k, row := range m.tables[table] {
			if f.Match(row) {
				delete(m.tables[table], k)
			}
		}
		m.mu.Unlock()
		return nil
	default:
		return ErrUnsupportedStatement
	}
}

// Select implements Selecter.
func (m *MemoryStore) Select(ctx context.Context, table string, f Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := Lookup(table); !ok {
		return nil, ErrUnknownTable
	}

	now := m.now()
	m.mu.RLock()
	rows := make([]Row, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		if f.Match(row) && !row.Expired(now) {
			rows = append(rows, row)
		}
	}
	m.mu.RUnlock()

	SortRows(rows)
	return rows, nil
}

// Sweep removes expired rows and returns how many were removed.
func (m *MemoryStore) Sweep(_ context.Context) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, rows := range m.tables {
		for k, row := range rows {
			if row.Expired(now) {
				delete(rows, k)
				removed++
			}
		}
	}
	return removed
}
