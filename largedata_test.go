package largedata

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/largedata/query"
	"github.com/hupe1980/largedata/systable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeRecordLargePartition_BelowThresholds(t *testing.T) {
	rec := &countingRecorder{}
	h := startedHandler(t, testConfig(), rec)
	sst := newTestTableFile("sst-1")

	tests := []struct {
		size, rows uint64
	}{
		{0, 0},
		{999, 9},
		{1000, 10}, // thresholds are strict
	}
	for _, tt := range tests {
		verdict := h.MaybeRecordLargePartition(context.Background(), sst, testKey("pk"), tt.size, tt.rows)
		assert.Equal(t, PartitionVerdict{}, verdict)
	}

	assert.Equal(t, int64(0), rec.totalCalls())
	assert.Equal(t, uint64(0), h.Stats().PartitionsBiggerThanThreshold)
	assert.Equal(t, int64(0), h.limiter.InFlight())
}

func TestMaybeRecordLargePartition_SizeOverThreshold(t *testing.T) {
	exec := &captureExecutor{}
	cfg := testConfig()
	h := startedTableHandler(t, cfg, exec)
	sst := newTestTableFile("me-1-big-Data.db")

	verdict := h.MaybeRecordLargePartition(context.Background(), sst, testKey("pk1"), 1500, 5)
	assert.Equal(t, PartitionVerdict{Size: true, Rows: false}, verdict)
	assert.Equal(t, uint64(1), h.Stats().PartitionsBiggerThanThreshold)

	stmts := exec.statements()
	require.Len(t, stmts, 1)
	stmt := stmts[0]
	assert.Equal(t, systable.LargePartitions, stmt.Table)

	size, ok := stmt.Value(systable.ColumnPartitionSize)
	require.True(t, ok)
	assert.Equal(t, int64(1500), size)

	rows, ok := stmt.Value(systable.ColumnRows)
	require.True(t, ok)
	assert.Equal(t, int64(5), rows)
}

func TestMaybeRecordLargePartition_Verdicts(t *testing.T) {
	tests := []struct {
		name        string
		size, rows  uint64
		verdict     PartitionVerdict
		counter     uint64
		recordCalls int64
	}{
		{"size only", 1500, 5, PartitionVerdict{Size: true}, 1, 1},
		{"rows only", 500, 11, PartitionVerdict{Rows: true}, 0, 1},
		{"both", 1500, 11, PartitionVerdict{Size: true, Rows: true}, 1, 1},
		{"neither", 500, 5, PartitionVerdict{}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			h := startedHandler(t, testConfig(), rec)

			verdict := h.MaybeRecordLargePartition(context.Background(), newTestTableFile("sst"), testKey("pk"), tt.size, tt.rows)
			assert.Equal(t, tt.verdict, verdict)
			assert.Equal(t, tt.counter, h.Stats().PartitionsBiggerThanThreshold)
			assert.Equal(t, tt.recordCalls, rec.writes[CategoryPartition].Load())
		})
	}
}

func TestMaybeRecordLargePartition_RowsOnlyStillWritesRowCount(t *testing.T) {
	exec := &captureExecutor{}
	h := startedTableHandler(t, testConfig(), exec)

	h.MaybeRecordLargePartition(context.Background(), newTestTableFile("sst"), testKey("pk"), 10, 50)

	stmts := exec.statements()
	require.Len(t, stmts, 1)
	rows, ok := stmts[0].Value(systable.ColumnRows)
	require.True(t, ok)
	assert.Equal(t, int64(50), rows)
}

func TestMaybeRecordLargeRowAndCell(t *testing.T) {
	rec := &countingRecorder{}
	h := startedHandler(t, testConfig(), rec)
	ctx := context.Background()
	sst := newTestTableFile("sst")

	assert.False(t, h.MaybeRecordLargeRow(ctx, sst, testKey("pk"), testKey("ck"), 100))
	assert.True(t, h.MaybeRecordLargeRow(ctx, sst, testKey("pk"), nil, 101))

	assert.False(t, h.MaybeRecordLargeCell(ctx, sst, testKey("pk"), testKey("ck"), Column{Name: "v"}, 10))
	assert.True(t, h.MaybeRecordLargeCell(ctx, sst, testKey("pk"), testKey("ck"), Column{Name: "v"}, 11))

	assert.Equal(t, int64(1), rec.writes[CategoryRow].Load())
	assert.Equal(t, int64(1), rec.writes[CategoryCell].Load())
	assert.Equal(t, int64(0), rec.writes[CategoryPartition].Load())
}

func TestHandler_BackendFailureIsSwallowed(t *testing.T) {
	errBoom := errors.New("write timeout")
	exec := &captureExecutor{err: errBoom}
	logger, logs := newBufferLogger()
	metrics := &BasicMetricsCollector{}
	h := startedTableHandler(t, testConfig(), exec, WithLogger(logger), WithMetricsCollector(metrics))

	verdict := h.MaybeRecordLargePartition(context.Background(), newTestTableFile("sst-1"), testKey("pk1"), 1500, 5)
	assert.Equal(t, PartitionVerdict{Size: true}, verdict)

	assert.Len(t, exec.statements(), 1)
	assert.Equal(t, 1, logs.count("Writing large partition"))
	assert.Equal(t, 1, logs.count("Large data bookkeeping failed"))
	assert.Contains(t, logs.String(), "write timeout")
	assert.Contains(t, logs.String(), `"sstable":"sst-1"`)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.Writes[CategoryPartition])
	assert.Equal(t, int64(1), stats.WriteErrors[CategoryPartition])
	assert.Equal(t, int64(1), stats.PartitionsOverThreshold)
}

func TestHandler_DeleteFailureIsSwallowed(t *testing.T) {
	exec := &captureExecutor{err: errors.New("unavailable replicas")}
	logger, logs := newBufferLogger()
	h := startedTableHandler(t, testConfig(), exec, WithLogger(logger))

	h.MaybeDeleteLargeDataEntries(context.Background(), newTestTableFile("sst-1", StatRowSize))

	assert.Len(t, exec.statements(), 1)
	assert.Equal(t, 1, logs.count("Large data bookkeeping failed"))
	assert.Contains(t, logs.String(), "failed to drop entries from system.large_rows")
}

func TestMaybeDeleteLargeDataEntries_OnlyFlaggedCategories(t *testing.T) {
	tests := []struct {
		name    string
		flagged []StatKind
		tables  []string
	}{
		{"nothing flagged", nil, nil},
		{"rows only", []StatKind{StatRowSize}, []string{systable.LargeRows}},
		{"partitions and cells", []StatKind{StatPartitionSize, StatCellSize}, []string{systable.LargePartitions, systable.LargeCells}},
		{"row count flags partitions", []StatKind{StatRowsInPartition}, []string{systable.LargePartitions}},
		{"all", []StatKind{StatPartitionSize, StatRowSize, StatCellSize, StatRowsInPartition}, []string{systable.LargePartitions, systable.LargeRows, systable.LargeCells}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &captureExecutor{}
			h := startedTableHandler(t, testConfig(), exec)

			h.MaybeDeleteLargeDataEntries(context.Background(), newTestTableFile("sst-7", tt.flagged...))

			var tables []string
			for _, stmt := range exec.statements() {
				assert.Equal(t, query.Delete, stmt.Kind)
				sst, _ := stmt.Value(systable.ColumnSSTableName)
				assert.Equal(t, "sst-7", sst)
				tables = append(tables, stmt.Table)
			}
			assert.ElementsMatch(t, tt.tables, tables)
		})
	}
}

func TestMaybeDeleteLargeDataEntries_ZeroCountNotFlagged(t *testing.T) {
	rec := &countingRecorder{}
	h := startedHandler(t, testConfig(), rec)

	sst := newTestTableFile("sst")
	sst.stats[StatCellSize] = LargeDataStat{Max: 5, Threshold: 10, AboveThreshold: 0}
	h.MaybeDeleteLargeDataEntries(context.Background(), sst)

	assert.Equal(t, int64(0), rec.totalCalls())
}

func TestHandler_NotRunningPanics(t *testing.T) {
	h, err := New(testConfig(), &countingRecorder{})
	require.NoError(t, err)
	ctx := context.Background()
	sst := newTestTableFile("sst")

	assert.PanicsWithValue(t, ErrNotRunning, func() {
		h.MaybeRecordLargePartition(ctx, sst, testKey("pk"), 1, 1)
	})
	assert.PanicsWithValue(t, ErrNotRunning, func() {
		h.MaybeRecordLargeRow(ctx, sst, testKey("pk"), nil, 1)
	})
	assert.PanicsWithValue(t, ErrNotRunning, func() {
		h.MaybeRecordLargeCell(ctx, sst, testKey("pk"), nil, Column{}, 1)
	})
	assert.PanicsWithValue(t, ErrNotRunning, func() {
		h.MaybeDeleteLargeDataEntries(ctx, sst)
	})

	h.Start()
	assert.True(t, h.Running())
	require.NoError(t, h.Stop(ctx))
	assert.False(t, h.Running())

	assert.PanicsWithValue(t, ErrNotRunning, func() {
		h.MaybeRecordLargePartition(ctx, sst, testKey("pk"), 1, 1)
	})
}

func TestHandler_Lifecycle(t *testing.T) {
	h, err := New(testConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Stopping a handler that never ran completes immediately.
	require.NoError(t, h.Stop(ctx))

	h.Start()
	h.Start()
	require.NoError(t, h.Stop(ctx))
	require.NoError(t, h.Stop(ctx))

	assert.PanicsWithValue(t, ErrStopped, func() { h.Start() })
}

func TestHandler_StopDrainsInFlight(t *testing.T) {
	rec := newBlockingRecorder()
	h, err := New(testConfig(), rec)
	require.NoError(t, err)
	h.Start()

	ctx := context.Background()
	sst := newTestTableFile("sst")

	const inFlight = 3
	var wg sync.WaitGroup
	for i := 0; i < inFlight; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.MaybeRecordLargePartition(ctx, sst, testKey("pk"), 2000, 1)
		}()
	}
	for i := 0; i < inFlight; i++ {
		<-rec.entered
	}
	assert.Equal(t, int64(inFlight), h.limiter.InFlight())

	stopped := make(chan error, 1)
	go func() {
		stopped <- h.Stop(ctx)
	}()

	require.Eventually(t, func() bool { return !h.Running() }, time.Second, time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("stop returned while operations were in flight")
	case <-time.After(20 * time.Millisecond):
	}

	// Nothing new is admitted once stop has begun.
	assert.PanicsWithValue(t, ErrNotRunning, func() {
		h.MaybeRecordLargePartition(ctx, sst, testKey("late"), 2000, 1)
	})

	close(rec.release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stop did not return after in-flight operations finished")
	}
	wg.Wait()

	assert.Equal(t, int64(inFlight), rec.calls.Load())
	assert.Equal(t, int64(0), h.limiter.InFlight())
}

func TestHandler_StopTimeout(t *testing.T) {
	rec := newBlockingRecorder()
	h, err := New(testConfig(), rec)
	require.NoError(t, err)
	h.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.MaybeRecordLargePartition(context.Background(), newTestTableFile("sst"), testKey("pk"), 2000, 1)
	}()
	<-rec.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Stop(ctx), context.DeadlineExceeded)
	assert.False(t, h.Running())

	// The failed drain is not retried: the handler is already stopped.
	assert.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, int64(1), h.limiter.InFlight())
	assert.PanicsWithValue(t, ErrStopped, func() { h.Start() })

	close(rec.release)
	<-done
}

func TestHandler_LimiterBoundsConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	exec := query.ExecutorFunc(func(context.Context, query.Statement) error {
		mu.Lock()
		current++
		peak = max(peak, current)
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	})

	cfg := testConfig()
	cfg.MaxConcurrency = 2
	h := startedTableHandler(t, cfg, exec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.MaybeRecordLargePartition(ctx, newTestTableFile("sst"), testKey("pk"), 5000, 1)
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.MaybeDeleteLargeDataEntries(ctx, newTestTableFile("sst", StatPartitionSize, StatRowSize, StatCellSize))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, uint64(20), h.Stats().PartitionsBiggerThanThreshold)
}

func TestHandler_CanceledContextSkipsRecord(t *testing.T) {
	rec := &countingRecorder{}
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	logger, logs := newBufferLogger()
	h := startedHandler(t, cfg, rec, WithLogger(logger))

	// Occupy the only slot.
	require.NoError(t, h.limiter.Acquire(context.Background()))
	defer h.limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	verdict := h.MaybeRecordLargePartition(ctx, newTestTableFile("sst"), testKey("pk"), 5000, 1)
	assert.Equal(t, PartitionVerdict{Size: true}, verdict)
	assert.Equal(t, int64(0), rec.totalCalls())
	assert.Equal(t, 1, logs.count("Large data bookkeeping failed"))
}

func TestHandler_Thresholds(t *testing.T) {
	h, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000<<20), h.PartitionThresholdBytes())
	assert.Equal(t, uint64(10<<20), h.RowThresholdBytes())
	assert.Equal(t, uint64(1<<20), h.CellThresholdBytes())
	assert.Equal(t, uint64(100000), h.RowsCountThreshold())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxConcurrency = -1
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.OpsPerSecond = math.Inf(1)
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestNopHandler(t *testing.T) {
	h := NewNopHandler()
	assert.True(t, h.Running())
	assert.Equal(t, uint64(math.MaxUint64), h.PartitionThresholdBytes())

	verdict := h.MaybeRecordLargePartition(context.Background(), newTestTableFile("sst"), testKey("pk"), math.MaxUint64-1, math.MaxUint64-1)
	assert.Equal(t, PartitionVerdict{}, verdict)
	assert.False(t, h.MaybeRecordLargeRow(context.Background(), newTestTableFile("sst"), testKey("pk"), nil, math.MaxUint64-1))
	assert.Equal(t, uint64(0), h.Stats().PartitionsBiggerThanThreshold)

	require.NoError(t, h.Stop(context.Background()))
}

func TestMaxThresholds_NeverReachBackend(t *testing.T) {
	rec := &countingRecorder{}
	h := startedHandler(t, Config{Thresholds: MaxThresholds()}, rec)
	ctx := context.Background()
	sst := newTestTableFile("sst")

	for _, size := range []uint64{0, 1 << 40, math.MaxUint64 - 1, math.MaxUint64} {
		assert.Equal(t, PartitionVerdict{}, h.MaybeRecordLargePartition(ctx, sst, testKey("pk"), size, size))
		assert.False(t, h.MaybeRecordLargeRow(ctx, sst, testKey("pk"), nil, size))
		assert.False(t, h.MaybeRecordLargeCell(ctx, sst, testKey("pk"), nil, Column{Name: "v"}, size))
	}
	assert.Equal(t, int64(0), rec.totalCalls())
}
