package systable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/hupe1980/largedata/query"
)

// Row is one tracking-table entry.
type Row struct {
	Table          string    `json:"table"`
	Keyspace       string    `json:"keyspace_name"`
	TableName      string    `json:"table_name"`
	SSTable        string    `json:"sstable_name"`
	Size           int64     `json:"size"`
	PartitionKey   string    `json:"partition_key"`
	ClusteringKey  *string   `json:"clustering_key,omitempty"`
	ColumnName     string    `json:"column_name,omitempty"`
	Rows           *int64    `json:"rows,omitempty"`
	CompactionTime time.Time `json:"compaction_time"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the row's retention window has passed.
func (r Row) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Key returns the primary key encoding. Rows of the same table file share
// the ScopePrefix; within it, rows sort by size descending.
func (r Row) Key() []byte {
	k := ScopePrefix(r.Keyspace, r.TableName, r.SSTable)
	k = binary.BigEndian.AppendUint64(k, ^uint64(r.Size))
	k = append(k, r.PartitionKey...)
	k = append(k, 0)
	if r.ClusteringKey != nil {
		k = append(k, *r.ClusteringKey...)
	}
	k = append(k, 0)
	k = append(k, r.ColumnName...)
	return k
}

// ScopePrefix returns the key prefix shared by all rows of a keyspace/table,
// narrowed to one table file when sstable is not empty.
func ScopePrefix(keyspace, table, sstable string) []byte {
	k := make([]byte, 0, len(keyspace)+len(table)+len(sstable)+3)
	k = append(k, keyspace...)
	k = append(k, 0)
	k = append(k, table...)
	k = append(k, 0)
	if sstable != "" {
		k = append(k, sstable...)
		k = append(k, 0)
	}
	return k
}

// SortRows orders rows by primary key.
func SortRows(rows []Row) {
	slices.SortFunc(rows, func(a, b Row) int {
		return bytes.Compare(a.Key(), b.Key())
	})
}

// Filter selects rows by identity. Empty fields match anything.
type Filter struct {
	Keyspace  string
	Table     string
	TableFile string
}

// Match reports whether the row is selected by the filter.
func (f Filter) Match(r Row) bool {
	return (f.Keyspace == "" || f.Keyspace == r.Keyspace) &&
		(f.Table == "" || f.Table == r.TableName) &&
		(f.TableFile == "" || f.TableFile == r.SSTable)
}

// Prefix returns the narrowest key prefix covering the filter.
func (f Filter) Prefix() []byte {
	if f.Keyspace == "" {
		return nil
	}
	if f.Table == "" {
		return append([]byte(f.Keyspace), 0)
	}
	return ScopePrefix(f.Keyspace, f.Table, f.TableFile)
}

// FromStatement converts an insert statement into a row. The row expires
// stmt.TTL after now; a zero TTL never expires.
func FromStatement(stmt query.Statement, now time.Time) (Row, error) {
	if stmt.Kind != query.Insert {
		return Row{}, fmt.Errorf("%w: %s is not an insert", ErrUnsupportedStatement, stmt.Kind)
	}
	schema, err := lookupStatement(stmt)
	if err != nil {
		return Row{}, err
	}

	row := Row{Table: schema.Name}
	seen := make(map[string]bool, len(stmt.Fields))
	for _, f := range stmt.Fields {
		if !schema.hasColumn(f.Name) {
			return Row{}, fmt.Errorf("%w: column %q not in %s", ErrUnsupportedStatement, f.Name, schema.Name)
		}
		seen[f.Name] = true

		switch f.Name {
		case ColumnKeyspaceName:
			err = asString(f, &row.Keyspace)
		case ColumnTableName:
			err = asString(f, &row.TableName)
		case ColumnSSTableName:
			err = asString(f, &row.SSTable)
		case schema.SizeColumn:
			err = asInt64(f, &row.Size)
		case ColumnPartitionKey:
			err = asString(f, &row.PartitionKey)
		case ColumnClusteringKey:
			if f.Value != nil {
				var ck string
				err = asString(f, &ck)
				row.ClusteringKey = &ck
			}
		case ColumnColumnName:
			err = asString(f, &row.ColumnName)
		case ColumnCompactionTime:
			ts, ok := f.Value.(time.Time)
			if !ok {
				err = fmt.Errorf("%w: %s must be a time, got %T", ErrUnsupportedStatement, f.Name, f.Value)
			}
			row.CompactionTime = ts
		case ColumnRows:
			var n int64
			err = asInt64(f, &n)
			row.Rows = &n
		}
		if err != nil {
			return Row{}, err
		}
	}

	for _, required := range []string{ColumnKeyspaceName, ColumnTableName, ColumnSSTableName, schema.SizeColumn, ColumnPartitionKey} {
		if !seen[required] {
			return Row{}, fmt.Errorf("%w: missing %s", ErrUnsupportedStatement, required)
		}
	}

	if stmt.TTL > 0 {
		row.ExpiresAt = now.Add(stmt.TTL)
	}
	return row, nil
}

// FilterFromStatement converts a delete statement into the filter it removes.
// keyspace_name and table_name are required; sstable_name is optional.
func FilterFromStatement(stmt query.Statement) (string, Filter, error) {
	if stmt.Kind != query.Delete {
		return "", Filter{}, fmt.Errorf("%w: %s is not a delete", ErrUnsupportedStatement, stmt.Kind)
	}
	schema, err := lookupStatement(stmt)
	if err != nil {
		return "", Filter{}, err
	}

	var f Filter
	for _, field := range stmt.Fields {
		switch field.Name {
		case ColumnKeyspaceName:
			err = asString(field, &f.Keyspace)
		case ColumnTableName:
			err = asString(field, &f.Table)
		case ColumnSSTableName:
			err = asString(field, &f.TableFile)
		default:
			err = fmt.Errorf("%w: cannot delete by %q", ErrUnsupportedStatement, field.Name)
		}
		if err != nil {
			return "", Filter{}, err
		}
	}
	if f.Keyspace == "" || f.Table == "" {
		return "", Filter{}, fmt.Errorf("%w: delete needs keyspace_name and table_name", ErrUnsupportedStatement)
	}
	return schema.Name, f, nil
}

func lookupStatement(stmt query.Statement) (Schema, error) {
	if stmt.Keyspace != Keyspace {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownTable, stmt.QualifiedTable())
	}
	schema, ok := Lookup(stmt.Table)
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownTable, stmt.QualifiedTable())
	}
	return schema, nil
}

func (s Schema) hasColumn(name string) bool {
	switch name {
	case ColumnKeyspaceName, ColumnTableName, ColumnSSTableName, ColumnPartitionKey, ColumnCompactionTime, s.SizeColumn:
		return true
	}
	return slices.Contains(s.Clustering, name) || slices.Contains(s.Extra, name)
}

func asString(f query.Field, dst *string) error {
	switch v := f.Value.(type) {
	case string:
		*dst = v
	case fmt.Stringer:
		*dst = v.String()
	default:
		return fmt.Errorf("%w: %s must be text, got %T", ErrUnsupportedStatement, f.Name, f.Value)
	}
	return nil
}

func asInt64(f query.Field, dst *int64) error {
	switch v := f.Value.(type) {
	case int64:
		*dst = v
	case int:
		*dst = int64(v)
	case int32:
		*dst = int64(v)
	case uint32:
		*dst = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return fmt.Errorf("%w: %s overflows bigint", ErrUnsupportedStatement, f.Name)
		}
		*dst = int64(v)
	default:
		return fmt.Errorf("%w: %s must be an integer, got %T", ErrUnsupportedStatement, f.Name, f.Value)
	}
	return nil
}
