package largedata

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/largedata/query"
	"github.com/hupe1980/largedata/systable"
)

// Recorder persists and removes tracking rows.
//
// Methods report failures as explicit results; the Handler logs them and
// completes successfully, so a lost tracking row never fails the data path.
type Recorder interface {
	RecordLargePartition(ctx context.Context, sst TableFile, key fmt.Stringer, size, rows uint64) error
	RecordLargeRow(ctx context.Context, sst TableFile, pk, ck fmt.Stringer, size uint64) error
	RecordLargeCell(ctx context.Context, sst TableFile, pk, ck fmt.Stringer, col Column, size uint64) error
	DeleteLargeDataEntries(ctx context.Context, id Identity, cat Category) error
}

// NopRecorder records nothing.
type NopRecorder struct{}

func (NopRecorder) RecordLargePartition(context.Context, TableFile, fmt.Stringer, uint64, uint64) error {
	return nil
}

func (NopRecorder) RecordLargeRow(context.Context, TableFile, fmt.Stringer, fmt.Stringer, uint64) error {
	return nil
}

func (NopRecorder) RecordLargeCell(context.Context, TableFile, fmt.Stringer, fmt.Stringer, Column, uint64) error {
	return nil
}

func (NopRecorder) DeleteLargeDataEntries(context.Context, Identity, Category) error { return nil }

// TableRecorder writes tracking rows to the system.large_* tables through a
// query.Executor.
type TableRecorder struct {
	exec   query.Executor
	logger *Logger
	now    func() time.Time
}

// RecorderOption configures a TableRecorder.
type RecorderOption func(*TableRecorder)

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(l *Logger) RecorderOption {
	return func(r *TableRecorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorderClock sets the clock stamped into compaction_time.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *TableRecorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewTableRecorder creates a recorder issuing statements to exec.
// A nil exec behaves like query.Unavailable.
func NewTableRecorder(exec query.Executor, optFns ...RecorderOption) *TableRecorder {
	if exec == nil {
		exec = query.Unavailable{}
	}
	r := &TableRecorder{
		exec:   exec,
		logger: NoopLogger(),
		now:    time.Now,
	}
	for _, fn := range optFns {
		fn(r)
	}
	return r
}

// writeRequest describes one tracking row.
type writeRequest struct {
	category     Category
	size         uint64
	partitionKey string
	// desc and location only feed the log line.
	desc     string
	location string
	// extra are the category specific columns after the common prefix.
	extra []query.Field
}

// RecordLargePartition implements Recorder. The row count is always written.
func (r *TableRecorder) RecordLargePartition(ctx context.Context, sst TableFile, key fmt.Stringer, size, rows uint64) error {
	pk := key.String()
	return r.record(ctx, sst, writeRequest{
		category:     CategoryPartition,
		size:         size,
		partitionKey: pk,
		desc:         "partition",
		location:     pk,
		extra:        []query.Field{query.F(systable.ColumnRows, int64(rows))},
	})
}

// RecordLargeRow implements Recorder. A nil ck denotes the static row.
func (r *TableRecorder) RecordLargeRow(ctx context.Context, sst TableFile, pk, ck fmt.Stringer, size uint64) error {
	req := writeRequest{
		category:     CategoryRow,
		size:         size,
		partitionKey: pk.String(),
	}
	if ck != nil {
		ckStr := ck.String()
		req.desc = "row"
		req.location = req.partitionKey + " " + ckStr
		req.extra = []query.Field{query.F(systable.ColumnClusteringKey, ckStr)}
	} else {
		req.desc = "static row"
		req.location = req.partitionKey
		req.extra = []query.Field{query.F(systable.ColumnClusteringKey, query.Null)}
	}
	return r.record(ctx, sst, req)
}

// RecordLargeCell implements Recorder. A nil ck denotes a static cell.
func (r *TableRecorder) RecordLargeCell(ctx context.Context, sst TableFile, pk, ck fmt.Stringer, col Column, size uint64) error {
	req := writeRequest{
		category:     CategoryCell,
		size:         size,
		partitionKey: pk.String(),
		desc:         "collection",
	}
	if col.IsAtomic() {
		req.desc = "cell"
	}
	if ck != nil {
		ckStr := ck.String()
		req.location = req.partitionKey + " " + ckStr + " " + col.Name
		req.extra = []query.Field{
			query.F(systable.ColumnClusteringKey, ckStr),
			query.F(systable.ColumnColumnName, col.Name),
		}
	} else {
		req.location = req.partitionKey + " " + col.Name
		req.extra = []query.Field{
			query.F(systable.ColumnClusteringKey, query.Null),
			query.F(systable.ColumnColumnName, col.Name),
		}
	}
	return r.record(ctx, sst, req)
}

// DeleteLargeDataEntries implements Recorder.
func (r *TableRecorder) DeleteLargeDataEntries(ctx context.Context, id Identity, cat Category) error {
	if !r.available() {
		return nil
	}

	stmt := query.Statement{
		Kind:     query.Delete,
		Keyspace: systable.Keyspace,
		Table:    cat.TableName(),
		Fields: []query.Field{
			query.F(systable.ColumnKeyspaceName, id.Keyspace),
			query.F(systable.ColumnTableName, id.Table),
			query.F(systable.ColumnSSTableName, id.TableFile),
		},
	}
	if err := r.exec.Execute(ctx, stmt); err != nil {
		return &RecordError{Op: query.Delete, Table: stmt.QualifiedTable(), Identity: id, Err: err}
	}
	return nil
}

// record builds the insert for req and issues it.
func (r *TableRecorder) record(ctx context.Context, sst TableFile, req writeRequest) error {
	if !r.available() {
		return nil
	}

	id := IdentityOf(sst)
	fields := make([]query.Field, 0, 6+len(req.extra))
	fields = append(fields,
		query.F(systable.ColumnKeyspaceName, id.Keyspace),
		query.F(systable.ColumnTableName, id.Table),
		query.F(systable.ColumnSSTableName, id.TableFile),
		query.F(req.category.SizeColumn(), int64(req.size)),
		query.F(systable.ColumnPartitionKey, req.partitionKey),
		query.F(systable.ColumnCompactionTime, r.now()),
	)
	fields = append(fields, req.extra...)

	stmt := query.Statement{
		Kind:     query.Insert,
		Keyspace: systable.Keyspace,
		Table:    req.category.TableName(),
		Fields:   fields,
		TTL:      RetentionTTL,
	}

	r.logger.LogLargeData(ctx, req.desc, id, req.location, req.size)
	if err := r.exec.Execute(ctx, stmt); err != nil {
		return &RecordError{Op: query.Insert, Table: stmt.QualifiedTable(), Identity: id, Err: err}
	}
	return nil
}

// available reports whether the executor can run statements. Executors that
// do not report availability are assumed available.
func (r *TableRecorder) available() bool {
	type availability interface{ Available() bool }
	if a, ok := r.exec.(availability); ok {
		return a.Available()
	}
	_, unavailable := r.exec.(query.Unavailable)
	return !unavailable
}
