package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxConcurrency is the number of bookkeeping operations allowed in
// flight when Config.MaxConcurrency is not set.
const DefaultMaxConcurrency = 16

// ErrDrained is returned by Acquire once the limiter has been drained.
var ErrDrained = errors.New("limiter drained")

// Config holds limiter settings.
type Config struct {
	// MaxConcurrency is the maximum number of concurrent bookkeeping operations.
	// If 0, defaults to DefaultMaxConcurrency.
	MaxConcurrency int64

	// OpsPerSecond caps how many operations may start per second.
	// If 0, unlimited.
	OpsPerSecond float64
}

// Limiter bounds the number of outstanding bookkeeping operations and doubles
// as the shutdown barrier: Drain waits until the full capacity is free again.
type Limiter struct {
	cfg Config

	sem      *semaphore.Weighted
	inFlight atomic.Int64
	drained  atomic.Bool

	// drainCtx is canceled by Drain to wake waiting acquirers.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	opLimiter *rate.Limiter // nil if unlimited
}

// NewLimiter creates a new limiter.
func NewLimiter(cfg Config) *Limiter {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}

	l := &Limiter{
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.MaxConcurrency),
	}
	l.drainCtx, l.drainCancel = context.WithCancel(context.Background())

	if cfg.OpsPerSecond > 0 {
		burst := int(cfg.OpsPerSecond)
		if burst < 1 {
			burst = 1
		}
		l.opLimiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), burst)
	}

	return l
}

// Acquire reserves one operation slot.
// Blocks while all slots are busy or the start rate is exhausted. A waiting
// Acquire returns ErrDrained as soon as Drain is called.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if l.drained.Load() {
		return ErrDrained
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.drainCtx, cancel)
	defer stop()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return l.acquireErr(err)
	}
	// Drain may have started between the check above and the acquire.
	if l.drained.Load() {
		l.sem.Release(1)
		return ErrDrained
	}

	if l.opLimiter != nil {
		if err := l.opLimiter.Wait(ctx); err != nil {
			l.sem.Release(1)
			return l.acquireErr(err)
		}
	}

	l.inFlight.Add(1)
	return nil
}

func (l *Limiter) acquireErr(err error) error {
	if l.drained.Load() {
		return ErrDrained
	}
	return err
}

// TryAcquire reserves one operation slot without blocking.
func (l *Limiter) TryAcquire() bool {
	if l == nil {
		return true
	}
	if l.drained.Load() {
		return false
	}
	if !l.sem.TryAcquire(1) {
		return false
	}
	if l.opLimiter != nil && !l.opLimiter.Allow() {
		l.sem.Release(1)
		return false
	}
	l.inFlight.Add(1)
	return true
}

// Release releases an operation slot.
func (l *Limiter) Release() {
	if l == nil {
		return
	}
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Drain waits until every acquired slot has been released by taking the whole
// capacity. The capacity is never handed back: a drained limiter admits no
// further operations.
func (l *Limiter) Drain(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.drained.Store(true)
	l.drainCancel()
	return l.sem.Acquire(ctx, l.cfg.MaxConcurrency)
}

// InFlight returns the number of currently acquired slots.
func (l *Limiter) InFlight() int64 {
	if l == nil {
		return 0
	}
	return l.inFlight.Load()
}

// Capacity returns the configured maximum concurrency.
func (l *Limiter) Capacity() int64 {
	if l == nil {
		return 0
	}
	return l.cfg.MaxConcurrency
}
