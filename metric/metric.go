// Package metric exports large-data bookkeeping metrics to Prometheus.
package metric

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/largedata"
)

const namespace = "large_data"

const (
	opWrite  = "write"
	opDelete = "delete"

	statusOK    = "ok"
	statusError = "error"
)

// PrometheusCollector implements largedata.MetricsCollector with Prometheus
// counters and histograms.
type PrometheusCollector struct {
	operations          *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	partitionsOverLimit prometheus.Counter
	limiterWait         prometheus.Histogram
}

var _ largedata.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collector and registers its metrics with
// reg. A nil reg leaves the metrics unregistered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	var timingBuckets = prometheus.ExponentialBucketsRange(0.0005, 10, 24)
	m := &PrometheusCollector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Tracking-table operations by operation, table and status.",
		}, []string{"op", "table", "status"}),

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "operation_duration_seconds",
			Help:                            "Time spent on a tracking-table operation, including the limiter wait.",
			Buckets:                         timingBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  50,
			NativeHistogramMinResetDuration: time.Hour,
		}, []string{"op", "table"}),

		partitionsOverLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_bigger_than_threshold_total",
			Help:      "Partitions whose size exceeded the partition threshold.",
		}),

		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "limiter_wait_seconds",
			Help:                            "Time an operation waited for a concurrency slot.",
			Buckets:                         timingBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  50,
			NativeHistogramMinResetDuration: time.Hour,
		}),
	}
	if reg != nil {
		m.operations = registerOrGet(reg, m.operations)
		m.operationDuration = registerOrGet(reg, m.operationDuration)
		m.partitionsOverLimit = registerOrGet(reg, m.partitionsOverLimit)
		m.limiterWait = registerOrGet(reg, m.limiterWait)
	}
	return m
}

// RecordWrite implements largedata.MetricsCollector.
func (m *PrometheusCollector) RecordWrite(cat largedata.Category, d time.Duration, err error) {
	m.observe(opWrite, cat, d, err)
}

// RecordDelete implements largedata.MetricsCollector.
func (m *PrometheusCollector) RecordDelete(cat largedata.Category, d time.Duration, err error) {
	m.observe(opDelete, cat, d, err)
}

// RecordPartitionOverThreshold implements largedata.MetricsCollector.
func (m *PrometheusCollector) RecordPartitionOverThreshold() {
	m.partitionsOverLimit.Inc()
}

// RecordLimiterWait implements largedata.MetricsCollector.
func (m *PrometheusCollector) RecordLimiterWait(d time.Duration) {
	m.limiterWait.Observe(d.Seconds())
}

func (m *PrometheusCollector) observe(op string, cat largedata.Category, d time.Duration, err error) {
	status := statusOK
	if err != nil {
		status = statusError
	}
	table := cat.TableName()
	m.operations.WithLabelValues(op, table, status).Inc()
	m.operationDuration.WithLabelValues(op, table).Observe(d.Seconds())
}

// registerOrGet registers c and returns it. If an equal collector is already
// registered, the existing one is returned instead, so handlers sharing a
// registry feed the same series.
func registerOrGet[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
