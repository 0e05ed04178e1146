// Package txctx lets task bodies abort the transaction they run inside.
//
// A processor installs an abort flag on the context before invoking a task.
// The task calls Abort(ctx) to request that the surrounding transaction be
// rolled back; the processor observes the flag after the task returns, rolls
// back, and refuses to re-claim the job for the rest of its session.
package txctx

import (
	"context"
	"sync/atomic"
)

type abortKeyType struct{}

var abortKey abortKeyType

// Flag is the per-execution abort marker. Safe for concurrent use; a task
// may abort from a goroutine it spawned.
type Flag struct {
	aborted atomic.Bool
}

// Aborted reports whether Abort was requested.
func (f *Flag) Aborted() bool {
	return f.aborted.Load()
}

// WithAbort returns a context carrying a fresh abort flag, and the flag
// itself for the processor to inspect after the task returns.
func WithAbort(ctx context.Context) (context.Context, *Flag) {
	f := &Flag{}
	return context.WithValue(ctx, abortKey, f), f
}

// Abort requests that the current transaction be rolled back. Outside a task
// execution it is a no-op.
func Abort(ctx context.Context) {
	if f, ok := ctx.Value(abortKey).(*Flag); ok {
		f.aborted.Store(true)
	}
}

// Aborted reports whether the current execution's transaction has been
// marked for rollback.
func Aborted(ctx context.Context) bool {
	f, ok := ctx.Value(abortKey).(*Flag)
	return ok && f.Aborted()
}
