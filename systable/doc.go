// Package systable defines the three large-data tracking tables and the
// executors that store them.
//
//	system.large_partitions  ((keyspace_name, table_name), sstable_name, partition_size DESC, partition_key)
//	system.large_rows        ((keyspace_name, table_name), sstable_name, row_size DESC, partition_key, clustering_key)
//	system.large_cells       ((keyspace_name, table_name), sstable_name, cell_size DESC, partition_key, clustering_key, column_name)
//
// The table file name is the first clustering column, so every row written for
// one table file shares a key prefix and the bulk delete issued when the file
// is removed is a prefix range delete.
//
// Executors:
//
//   - MemoryStore: in-process, used by tests and embedded deployments
//   - bolt.Store: durable, on go.etcd.io/bbolt
//   - dynamodb.Store: Amazon DynamoDB with native TTL
package systable
