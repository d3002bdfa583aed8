package largedata

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting bookkeeping metrics.
// Implement this interface to integrate with monitoring systems; the metric
// package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordWrite is called after each tracking-row write attempt.
	RecordWrite(cat Category, duration time.Duration, err error)

	// RecordDelete is called after each tracking-row delete attempt.
	RecordDelete(cat Category, duration time.Duration, err error)

	// RecordPartitionOverThreshold is called when a partition exceeds the
	// partition size threshold.
	RecordPartitionOverThreshold()

	// RecordLimiterWait is called with the time an operation waited for a
	// limiter slot.
	RecordLimiterWait(duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWrite(Category, time.Duration, error)  {}
func (NoopMetricsCollector) RecordDelete(Category, time.Duration, error) {}
func (NoopMetricsCollector) RecordPartitionOverThreshold()               {}
func (NoopMetricsCollector) RecordLimiterWait(time.Duration)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	WriteCount            [3]atomic.Int64
	WriteErrors           [3]atomic.Int64
	DeleteCount           [3]atomic.Int64
	DeleteErrors          [3]atomic.Int64
	PartitionsOverLimit   atomic.Int64
	LimiterWaitTotalNanos atomic.Int64
	LimiterWaits          atomic.Int64
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(cat Category, _ time.Duration, err error) {
	b.WriteCount[cat%3].Add(1)
	if err != nil {
		b.WriteErrors[cat%3].Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(cat Category, _ time.Duration, err error) {
	b.DeleteCount[cat%3].Add(1)
	if err != nil {
		b.DeleteErrors[cat%3].Add(1)
	}
}

// RecordPartitionOverThreshold implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPartitionOverThreshold() {
	b.PartitionsOverLimit.Add(1)
}

// RecordLimiterWait implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLimiterWait(duration time.Duration) {
	b.LimiterWaits.Add(1)
	b.LimiterWaitTotalNanos.Add(duration.Nanoseconds())
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	var s BasicMetricsStats
	for _, cat := range Categories {
		s.Writes[cat] = b.WriteCount[cat].Load()
		s.WriteErrors[cat] = b.WriteErrors[cat].Load()
		s.Deletes[cat] = b.DeleteCount[cat].Load()
		s.DeleteErrors[cat] = b.DeleteErrors[cat].Load()
	}
	s.PartitionsOverThreshold = b.PartitionsOverLimit.Load()
	if n := b.LimiterWaits.Load(); n > 0 {
		s.LimiterWaitAvgNanos = b.LimiterWaitTotalNanos.Load() / n
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state, indexed by Category.
type BasicMetricsStats struct {
	Writes                  [3]int64
	WriteErrors             [3]int64
	Deletes                 [3]int64
	DeleteErrors            [3]int64
	PartitionsOverThreshold int64
	LimiterWaitAvgNanos     int64
}
