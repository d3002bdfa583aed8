package systable

import "errors"

// Keyspace is the keyspace holding the tracking tables.
const Keyspace = "system"

// Tracking table names.
const (
	LargePartitions = "large_partitions"
	LargeRows       = "large_rows"
	LargeCells      = "large_cells"
)

// Column names.
const (
	ColumnKeyspaceName   = "keyspace_name"
	ColumnTableName      = "table_name"
	ColumnSSTableName    = "sstable_name"
	ColumnPartitionSize  = "partition_size"
	ColumnRowSize        = "row_size"
	ColumnCellSize       = "cell_size"
	ColumnPartitionKey   = "partition_key"
	ColumnClusteringKey  = "clustering_key"
	ColumnColumnName     = "column_name"
	ColumnCompactionTime = "compaction_time"
	ColumnRows           = "rows"
)

var (
	// ErrUnknownTable is returned for statements against a table that is not a tracking table.
	ErrUnknownTable = errors.New("unknown tracking table")

	// ErrUnsupportedStatement is returned for statements the tracking tables cannot execute.
	ErrUnsupportedStatement = errors.New("unsupported statement")
)

// Schema describes one tracking table.
type Schema struct {
	Name       string
	SizeColumn string
	// Clustering lists the clustering columns after sstable_name and the size column.
	Clustering []string
	// Extra lists the non-key columns beyond the common ones.
	Extra []string
}

var schemas = map[string]Schema{
	LargePartitions: {
		Name:       LargePartitions,
		SizeColumn: ColumnPartitionSize,
		Clustering: []string{ColumnPartitionKey},
		Extra:      []string{ColumnRows},
	},
	LargeRows: {
		Name:       LargeRows,
		SizeColumn: ColumnRowSize,
		Clustering: []string{ColumnPartitionKey, ColumnClusteringKey},
	},
	LargeCells: {
		Name:       LargeCells,
		SizeColumn: ColumnCellSize,
		Clustering: []string{ColumnPartitionKey, ColumnClusteringKey, ColumnColumnName},
	},
}

// Lookup returns the schema of a tracking table.
func Lookup(table string) (Schema, bool) {
	s, ok := schemas[table]
	return s, ok
}

// Tables returns the tracking table names in a stable order.
func Tables() []string {
	return []string{LargePartitions, LargeRows, LargeCells}
}
