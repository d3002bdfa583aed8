package largedata

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/largedata/query"
	"github.com/stretchr/testify/require"
)

type testKey string

func (k testKey) String() string { return string(k) }

type testTableFile struct {
	keyspace string
	table    string
	name     string
	stats    map[StatKind]LargeDataStat
}

func newTestTableFile(name string, flagged ...StatKind) *testTableFile {
	f := &testTableFile{
		keyspace: "ks",
		table:    "tbl",
		name:     name,
		stats:    make(map[StatKind]LargeDataStat),
	}
	for _, kind := range flagged {
		f.stats[kind] = LargeDataStat{Max: 2000, Threshold: 1000, AboveThreshold: 1}
	}
	return f
}

func (f *testTableFile) Keyspace() string { return f.keyspace }
func (f *testTableFile) Table() string    { return f.table }
func (f *testTableFile) Filename() string { return f.name }
func (f *testTableFile) LargeDataStat(kind StatKind) (LargeDataStat, bool) {
	s, ok := f.stats[kind]
	return s, ok
}

// captureExecutor records every statement and optionally fails them.
type captureExecutor struct {
	mu    sync.Mutex
	stmts []query.Statement
	err   error
}

func (e *captureExecutor) Execute(_ context.Context, stmt query.Statement) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stmts = append(e.stmts, stmt)
	return e.err
}

func (e *captureExecutor) statements() []query.Statement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]query.Statement(nil), e.stmts...)
}

// countingRecorder counts backend calls per category.
type countingRecorder struct {
	writes  [3]atomic.Int64
	deletes [3]atomic.Int64
	err     error
}

func (r *countingRecorder) RecordLargePartition(context.Context, TableFile, fmt.Stringer, uint64, uint64) error {
	r.writes[CategoryPartition].Add(1)
	return r.err
}

func (r *countingRecorder) RecordLargeRow(context.Context, TableFile, fmt.Stringer, fmt.Stringer, uint64) error {
	r.writes[CategoryRow].Add(1)
	return r.err
}

func (r *countingRecorder) RecordLargeCell(context.Context, TableFile, fmt.Stringer, fmt.Stringer, Column, uint64) error {
	r.writes[CategoryCell].Add(1)
	return r.err
}

func (r *countingRecorder) DeleteLargeDataEntries(_ context.Context, _ Identity, cat Category) error {
	r.deletes[cat].Add(1)
	return r.err
}

func (r *countingRecorder) totalCalls() int64 {
	var n int64
	for i := range r.writes {
		n += r.writes[i].Load() + r.deletes[i].Load()
	}
	return n
}

// blockingRecorder parks every partition write until release is closed.
type blockingRecorder struct {
	NopRecorder
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func newBlockingRecorder() *blockingRecorder {
	return &blockingRecorder{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *blockingRecorder) RecordLargePartition(context.Context, TableFile, fmt.Stringer, uint64, uint64) error {
	r.calls.Add(1)
	r.entered <- struct{}{}
	<-r.release
	return nil
}

// logBuffer is a concurrency-safe sink for a JSON logger.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) count(msg string) int {
	return strings.Count(b.String(), `"msg":"`+msg+`"`)
}

func newBufferLogger() (*Logger, *logBuffer) {
	buf := &logBuffer{}
	return NewLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func testConfig() Config {
	return Config{
		Thresholds: Thresholds{
			PartitionBytes: 1000,
			RowBytes:       100,
			CellBytes:      10,
			RowsCount:      10,
		},
		MaxConcurrency: 4,
	}
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func startedHandler(t *testing.T, cfg Config, rec Recorder, optFns ...Option) *Handler {
	t.Helper()
	h, err := New(cfg, rec, optFns...)
	require.NoError(t, err)
	h.Start()
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	return h
}

func startedTableHandler(t *testing.T, cfg Config, exec query.Executor, optFns ...Option) *Handler {
	t.Helper()
	optFns = append([]Option{WithClock(func() time.Time { return fixedNow })}, optFns...)
	h, err := NewTableHandler(cfg, exec, optFns...)
	require.NoError(t, err)
	h.Start()
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	return h
}
