package largedata

import (
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/largedata/internal/resource"
)

// RetentionTTL is how long a tracking row lives before the store expires it.
const RetentionTTL = 30 * 24 * time.Hour

const mib = 1 << 20

// Thresholds are the magnitudes above which an occurrence is large.
// A threshold of math.MaxUint64 never trips.
type Thresholds struct {
	PartitionBytes uint64
	RowBytes       uint64
	CellBytes      uint64
	RowsCount      uint64
}

// MaxThresholds returns thresholds that can never be exceeded.
func MaxThresholds() Thresholds {
	return Thresholds{
		PartitionBytes: math.MaxUint64,
		RowBytes:       math.MaxUint64,
		CellBytes:      math.MaxUint64,
		RowsCount:      math.MaxUint64,
	}
}

// Config holds handler settings.
type Config struct {
	Thresholds

	// MaxConcurrency is the maximum number of bookkeeping operations in flight.
	// If 0, defaults to 16.
	MaxConcurrency int64

	// OpsPerSecond caps how many bookkeeping operations may start per second.
	// If 0, unlimited.
	OpsPerSecond float64
}

// DefaultConfig returns the default thresholds: 1000 MiB partitions, 10 MiB
// rows, 1 MiB cells and 100000 rows per partition.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			PartitionBytes: 1000 * mib,
			RowBytes:       10 * mib,
			CellBytes:      1 * mib,
			RowsCount:      100000,
		},
		MaxConcurrency: resource.DefaultMaxConcurrency,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("%w: negative max concurrency %d", ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.OpsPerSecond < 0 || math.IsNaN(c.OpsPerSecond) || math.IsInf(c.OpsPerSecond, 0) {
		return fmt.Errorf("%w: invalid ops per second %v", ErrInvalidConfig, c.OpsPerSecond)
	}
	return nil
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Pass nil to disable logging.
func WithLogger(l *Logger) Option {
	return func(h *Handler) {
		if l == nil {
			l = NoopLogger()
		}
		h.logger = l
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &largedata.BasicMetricsCollector{}
//	h, _ := largedata.NewTableHandler(cfg, exec, largedata.WithMetricsCollector(metrics))
//	// ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(h *Handler) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		h.metrics = mc
	}
}

// WithClock sets the clock stamped into tracking rows as compaction_time.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}
