// Package largedata tracks large partitions, rows and cells found while table
// files are written.
//
// A Handler compares each occurrence against configured thresholds. Those that
// cross a threshold are recorded, as best-effort rows with a 30 day TTL, in the
// tracking tables system.large_partitions, system.large_rows and
// system.large_cells. When a table file is deleted its tracking rows are
// removed again.
//
// # Quick Start
//
//	store := systable.NewMemoryStore()
//	h, _ := largedata.NewTableHandler(largedata.DefaultConfig(), store)
//	h.Start()
//	defer h.Stop(ctx)
//
//	verdict := h.MaybeRecordLargePartition(ctx, sst, key, size, rows)
//	if verdict.Size { ... }
//
//	h.MaybeDeleteLargeDataEntries(ctx, sst)  // when sst is removed
//
// # Backends
//
// Tracking rows are written through a Recorder. TableRecorder renders them as
// parameterized statements (see package query) and hands them to a
// query.Executor:
//
//   - systable.MemoryStore: in-process, for tests and embedded use
//   - systable/bolt: durable local store on bbolt
//   - systable/dynamodb: DynamoDB table with native TTL
//
// query.Holder lets the owner swap the executor at runtime. While it holds
// nothing, records are skipped silently.
//
// NewNopHandler returns a handler whose thresholds can never be crossed, for
// deployments with tracking disabled.
//
// # Concurrency
//
// At most Config.MaxConcurrency bookkeeping operations are in flight. Stop
// clears the running flag before waiting for the in-flight operations, so it
// returns only after the last admitted one has finished. Calling any Maybe*
// method on a handler that is not running panics with ErrNotRunning.
//
// # Failures
//
// Bookkeeping never fails the data path. A failed write or delete is logged
// once as a warning and the operation completes normally. Recorder
// implementations report failures as *RecordError.
//
// # Observability
//
// Inject a *Logger with WithLogger and a MetricsCollector with
// WithMetricsCollector. Package metric provides a Prometheus collector, and
// package report exports tracking-table snapshots to a blob store.
package largedata
