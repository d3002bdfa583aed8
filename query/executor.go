package query

import (
	"context"
	"sync/atomic"
)

// Executor runs statements against the backing store.
// Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, stmt Statement) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, stmt Statement) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, stmt Statement) error {
	return f(ctx, stmt)
}

// Unavailable is the executor used while no query facility exists.
// Every statement completes successfully without doing anything.
type Unavailable struct{}

// Execute implements Executor.
func (Unavailable) Execute(context.Context, Statement) error { return nil }

// Holder is an Executor that forwards to a swappable target.
// The zero value forwards to Unavailable.
type Holder struct {
	target atomic.Pointer[executorBox]
}

type executorBox struct {
	exec Executor
}

// NewHolder creates a Holder forwarding to exec.
func NewHolder(exec Executor) *Holder {
	h := &Holder{}
	h.Set(exec)
	return h
}

// Set replaces the target executor. A nil exec makes the holder unavailable.
func (h *Holder) Set(exec Executor) {
	if exec == nil {
		h.target.Store(nil)
		return
	}
	h.target.Store(&executorBox{exec: exec})
}

// Available reports whether a target executor is set.
func (h *Holder) Available() bool {
	return h.target.Load() != nil
}

// Execute implements Executor.
func (h *Holder) Execute(ctx context.Context, stmt Statement) error {
	box := h.target.Load()
	if box == nil {
		return Unavailable{}.Execute(ctx, stmt)
	}
	return box.exec.Execute(ctx, stmt)
}
