package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/registry"
	"github.com/jakke/taskqueue/pkg/txctx"
)

// Processor is the claim/execute subsystem attached to a service.
type Processor interface {
	// Run executes the main loop until Stop is called or ctx is cancelled.
	Run(ctx context.Context) error

	// Stop requests a cooperative shutdown, observed at loop boundaries.
	Stop()

	// Drain blocks until the main loop and all workers have exited, or
	// returns core.ErrShutdownTimeout after the grace period.
	Drain(grace time.Duration) error
}

// Factory builds a processor bound to a store and registry.
type Factory func(store core.Store, reg *registry.Registry, opts ...Option) Processor

// runTask invokes the task body with an abort flag installed on the
// context. A panic in the task is converted to an error.
func runTask(ctx context.Context, task *registry.Task, input []byte) (output []byte, aborted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	taskCtx, flag := txctx.WithAbort(ctx)
	output, err = task.Execute(taskCtx, input)
	if flag.Aborted() {
		return nil, true, nil
	}
	return output, false, err
}
