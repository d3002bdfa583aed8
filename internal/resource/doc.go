// Package resource implements the bookkeeping limiter.
//
// The Limiter caps how many large-data bookkeeping operations (tracking-table
// writes and deletes) are outstanding at once, and provides the shutdown
// barrier used when the owning handler stops:
//
//	┌──────────────────────────────────────────────┐
//	│                   Limiter                     │
//	├──────────────────────┬───────────────────────┤
//	│  Concurrency (sem)   │  Start rate (bucket)  │
//	├──────────────────────┼───────────────────────┤
//	│  Acquire / Release   │  OpsPerSecond         │
//	│  TryAcquire          │  (optional)           │
//	│  Drain               │                       │
//	└──────────────────────┴───────────────────────┘
//
// # Throttling
//
//	l := resource.NewLimiter(resource.Config{MaxConcurrency: 16})
//
//	if err := l.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer l.Release()
//
// # Draining
//
// Drain acquires the full capacity from the same semaphore that gates the
// operations, so it returns only once every slot handed out earlier has been
// released. The capacity is kept afterwards.
//
// # Nil Safety
//
// All methods handle a nil Limiter gracefully - they become no-ops.
package resource
