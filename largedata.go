package largedata

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/largedata/internal/resource"
	"github.com/hupe1980/largedata/query"
	"golang.org/x/sync/errgroup"
)

// PartitionVerdict tells which partition thresholds were exceeded.
type PartitionVerdict struct {
	Size bool
	Rows bool
}

// Stats are the handler's counters.
type Stats struct {
	// PartitionsBiggerThanThreshold counts partitions over the size threshold.
	// Partitions over the row-count threshold only are not counted.
	PartitionsBiggerThanThreshold uint64
}

// Handler applies large-data thresholds and records crossings through a
// Recorder, with at most Config.MaxConcurrency bookkeeping operations in
// flight.
//
// A Handler starts stopped. Start makes it running; Stop is terminal. All
// other methods panic with ErrNotRunning when the handler is not running.
type Handler struct {
	thresholds Thresholds
	recorder   Recorder
	limiter    *resource.Limiter

	logger  *Logger
	metrics MetricsCollector
	now     func() time.Time

	// mu orders the running check and limiter admission against Stop.
	mu      sync.RWMutex
	running bool
	stopped bool

	partitionsBiggerThanThreshold atomic.Uint64
}

// New creates a handler recording through recorder. A nil recorder records
// nothing. The handler must be started before use.
func New(cfg Config, recorder Recorder, optFns ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	h := &Handler{
		thresholds: cfg.Thresholds,
		recorder:   recorder,
		limiter: resource.NewLimiter(resource.Config{
			MaxConcurrency: cfg.MaxConcurrency,
			OpsPerSecond:   cfg.OpsPerSecond,
		}),
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
		now:     time.Now,
	}
	for _, fn := range optFns {
		fn(h)
	}

	h.logger.Debug("large data handler created",
		"partition_threshold_bytes", cfg.PartitionBytes,
		"row_threshold_bytes", cfg.RowBytes,
		"cell_threshold_bytes", cfg.CellBytes,
		"rows_count_threshold", cfg.RowsCount,
	)
	return h, nil
}

// NewTableHandler creates a handler that records into the system.large_*
// tracking tables through exec.
func NewTableHandler(cfg Config, exec query.Executor, optFns ...Option) (*Handler, error) {
	h, err := New(cfg, nil, optFns...)
	if err != nil {
		return nil, err
	}
	h.recorder = NewTableRecorder(exec,
		WithRecorderLogger(h.logger),
		WithRecorderClock(h.now),
	)
	return h, nil
}

// Start makes the handler running. Starting a running handler is a no-op;
// starting a stopped one panics with ErrStopped.
func (h *Handler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		panic(ErrStopped)
	}
	h.running = true
	h.logger.LogLifecycle(context.Background(), "started", nil)
}

// Stop stops the handler and waits for every operation admitted before the
// call to finish. The running flag is cleared first, so no new operation can
// be admitted while Stop drains. Stopping a handler that is not running
// returns immediately.
//
// If ctx ends before the drain completes, Stop returns ctx's error and the
// handler stays stopped; the drain is not retried, and a later Stop returns
// nil even while admitted operations are still finishing.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.stopped = true
	h.mu.Unlock()

	err := h.limiter.Drain(ctx)
	if err != nil {
		err = fmt.Errorf("drain large data bookkeeping: %w", err)
	}
	h.logger.LogLifecycle(ctx, "stopped", err)
	return err
}

// Running reports whether the handler is running.
func (h *Handler) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Stats returns a snapshot of the handler's counters.
func (h *Handler) Stats() Stats {
	return Stats{
		PartitionsBiggerThanThreshold: h.partitionsBiggerThanThreshold.Load(),
	}
}

// PartitionThresholdBytes returns the partition size threshold.
func (h *Handler) PartitionThresholdBytes() uint64 { return h.thresholds.PartitionBytes }

// RowThresholdBytes returns the row size threshold.
func (h *Handler) RowThresholdBytes() uint64 { return h.thresholds.RowBytes }

// CellThresholdBytes returns the cell size threshold.
func (h *Handler) CellThresholdBytes() uint64 { return h.thresholds.CellBytes }

// RowsCountThreshold returns the rows-per-partition threshold.
func (h *Handler) RowsCountThreshold() uint64 { return h.thresholds.RowsCount }

// MaybeRecordLargePartition checks a partition against the size and row-count
// thresholds. If either is exceeded, the partition is recorded before the
// verdict is returned. Below both thresholds it returns the zero verdict
// without touching the limiter.
func (h *Handler) MaybeRecordLargePartition(ctx context.Context, sst TableFile, key fmt.Stringer, size, rows uint64) PartitionVerdict {
	h.assertRunning()

	verdict := PartitionVerdict{
		Size: size > h.thresholds.PartitionBytes,
		Rows: rows > h.thresholds.RowsCount,
	}
	if verdict.Size {
		h.partitionsBiggerThanThreshold.Add(1)
		h.metrics.RecordPartitionOverThreshold()
	}
	if verdict.Size || verdict.Rows {
		h.write(ctx, CategoryPartition, sst, func(ctx context.Context) error {
			return h.recorder.RecordLargePartition(ctx, sst, key, size, rows)
		})
	}
	return verdict
}

// MaybeRecordLargeRow records the row if size exceeds the row threshold and
// reports whether it did. A nil ck denotes the static row.
func (h *Handler) MaybeRecordLargeRow(ctx context.Context, sst TableFile, pk, ck fmt.Stringer, size uint64) bool {
	h.assertRunning()

	if size <= h.thresholds.RowBytes {
		return false
	}
	h.write(ctx, CategoryRow, sst, func(ctx context.Context) error {
		return h.recorder.RecordLargeRow(ctx, sst, pk, ck, size)
	})
	return true
}

// MaybeRecordLargeCell records the cell if size exceeds the cell threshold
// and reports whether it did.
func (h *Handler) MaybeRecordLargeCell(ctx context.Context, sst TableFile, pk, ck fmt.Stringer, col Column, size uint64) bool {
	h.assertRunning()

	if size <= h.thresholds.CellBytes {
		return false
	}
	h.write(ctx, CategoryCell, sst, func(ctx context.Context) error {
		return h.recorder.RecordLargeCell(ctx, sst, pk, ck, col, size)
	})
	return true
}

// MaybeDeleteLargeDataEntries removes the tracking rows of a table file that
// is being deleted. Only the tracking tables of categories the file flagged
// are touched; the deletes run concurrently and all complete before return.
func (h *Handler) MaybeDeleteLargeDataEntries(ctx context.Context, sst TableFile) {
	h.assertRunning()

	cats := flaggedCategories(sst)
	if len(cats) == 0 {
		return
	}

	id := IdentityOf(sst)
	var g errgroup.Group
	for _, cat := range cats {
		g.Go(func() error {
			start := time.Now()
			err := h.withLimiter(ctx, func(ctx context.Context) error {
				return h.recorder.DeleteLargeDataEntries(ctx, id, cat)
			})
			h.metrics.RecordDelete(cat, time.Since(start), err)
			if err != nil {
				h.logger.LogBookkeepingFailure(ctx, "delete", cat, id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// write runs a record operation under the limiter and swallows its failure.
func (h *Handler) write(ctx context.Context, cat Category, sst TableFile, fn func(context.Context) error) {
	start := time.Now()
	err := h.withLimiter(ctx, fn)
	h.metrics.RecordWrite(cat, time.Since(start), err)
	if err != nil {
		h.logger.LogBookkeepingFailure(ctx, "write", cat, IdentityOf(sst), err)
	}
}

// withLimiter admits fn if the handler is still running and runs it holding
// one limiter slot. Admission happens under the read lock, so Stop (which
// takes the write lock to clear running) cannot start draining while an
// admitted operation has not yet acquired its slot.
func (h *Handler) withLimiter(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()

	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrStopped
	}
	err := h.limiter.Acquire(ctx)
	h.mu.RUnlock()
	if err != nil {
		return err
	}
	defer h.limiter.Release()

	h.metrics.RecordLimiterWait(time.Since(start))
	return fn(ctx)
}

func (h *Handler) assertRunning() {
	if !h.Running() {
		panic(ErrNotRunning)
	}
}
