package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/registry"
	"github.com/jakke/taskqueue/pkg/security"
)

// MultiProcessor executes jobs concurrently under a fixed worker budget.
// A dispatcher loop claims jobs in insertion order and hands each to its own
// worker goroutine; the worker commits the outcome in its own transaction,
// so completions may land in any order. Intended for I/O-bound jobs.
type MultiProcessor struct {
	store    core.Store
	registry *registry.Registry
	config   Config
	retry    RetryConfig
	logger   *slog.Logger
	poison   *poisonSet

	live atomic.Int32
	wg   sync.WaitGroup

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMulti creates a MultiProcessor bound to the given store and registry.
func NewMulti(store core.Store, reg *registry.Registry, opts ...Option) *MultiProcessor {
	config := newConfig(opts)
	return &MultiProcessor{
		store:    store,
		registry: reg,
		config:   config,
		retry:    config.retryConfig(),
		logger:   config.Logger,
		poison:   newPoisonSet(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// NewMultiProcessor is the Factory for MultiProcessor.
func NewMultiProcessor(store core.Store, reg *registry.Registry, opts ...Option) Processor {
	return NewMulti(store, reg, opts...)
}

// Owner returns the processor's claim identity.
func (p *MultiProcessor) Owner() string {
	return p.config.Owner
}

// LiveWorkers returns the number of workers currently executing a job.
// Never exceeds the configured MaxThreads.
func (p *MultiProcessor) LiveWorkers() int {
	return int(p.live.Load())
}

// Run is the dispatcher loop. Each iteration: check the worker budget,
// check for pending work, claim one job, spawn a worker, then pause
// ThreadStartupWait before the next claim so workers start one at a time.
func (p *MultiProcessor) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("taskqueue: processor already started")
	}
	defer close(p.done)

	maxThreads := security.ClampThreads(p.config.MaxThreads)
	p.logger.Debug("multi processor running", "owner", p.config.Owner, "max_threads", maxThreads)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		default:
		}

		if int(p.live.Load()) >= maxThreads {
			p.sleep(ctx, p.config.WaitTime)
			continue
		}

		pending, err := p.store.HasPending(ctx)
		if err != nil {
			p.logger.Error("store error checking pending", "error", err)
			p.sleep(ctx, p.config.WaitTime)
			continue
		}
		if !pending {
			p.sleep(ctx, p.config.WaitTime)
			continue
		}

		job, err := p.claimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, core.ErrConflict) {
				// Lost the race to another processor; expected under contention.
				p.logger.Info("claim conflict", "error", err)
			} else {
				p.logger.Error("store error claiming job", "error", err)
			}
			p.sleep(ctx, p.config.WaitTime)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.config.WaitTime)
			continue
		}

		p.emit(&core.JobClaimed{Job: job, Owner: p.config.Owner, Timestamp: time.Now()})

		p.live.Add(1)
		p.wg.Add(1)
		go p.runWorker(ctx, job)

		// Let the worker get from spawned to processing before the next
		// claim; concurrent claim commits pile up conflict errors otherwise.
		p.sleep(ctx, p.config.ThreadStartupWait)
	}
}

// claimNext claims the oldest unclaimed, unpoisoned job in its own
// transaction, retrying conflicts.
func (p *MultiProcessor) claimNext(ctx context.Context) (*core.JobRecord, error) {
	var job *core.JobRecord
	err := retryConflicts(ctx, p.retry, func() error {
		var claimErr error
		job, claimErr = p.store.ClaimNext(ctx, p.config.Owner, p.poison.list())
		return claimErr
	})
	return job, err
}

// runWorker executes one job. The claim committed in the dispatcher's
// transaction; the worker commits its outcome in its own transactions, so
// long tasks never hold a store write lock. An abort from the task discards
// the pending outcome: the worker requeues the job for other owners and
// poisons its id locally.
func (p *MultiProcessor) runWorker(ctx context.Context, job *core.JobRecord) {
	defer p.wg.Done()
	defer p.live.Add(-1)

	task, ok := p.registry.Resolve(job.TaskName)
	if !ok {
		nrErr := &core.TaskNotRegisteredError{TaskName: job.TaskName}
		p.commitOutcome(ctx, job, func() error {
			return p.store.MarkError(ctx, job.ID, p.config.Owner, []byte(security.SanitizeDiagnostic(nrErr.Error())))
		})
		p.emit(&core.JobErrored{Job: job, Error: nrErr, Timestamp: time.Now()})
		return
	}

	err := retryConflicts(ctx, p.retry, func() error {
		return p.store.MarkProcessing(ctx, job.ID, p.config.Owner)
	})
	if err != nil {
		p.logger.Error("failed to mark job processing", "job_id", job.ID, "error", err)
		return
	}
	p.emit(&core.JobStarted{Job: job, Timestamp: time.Now()})

	start := time.Now()
	output, aborted, taskErr := runTask(ctx, task, job.Input)

	if aborted {
		// Poison first so the dispatcher cannot re-claim the id between the
		// requeue commit and the poison write.
		p.poison.add(job.ID)
		if rqErr := p.store.Requeue(ctx, job.ID, p.config.Owner); rqErr != nil {
			p.logger.Error("failed to requeue aborted job", "job_id", job.ID, "error", rqErr)
		}
		p.logger.Info("task aborted transaction, poisoning job", "job_id", job.ID)
		return
	}

	if taskErr != nil {
		p.commitOutcome(ctx, job, func() error {
			return p.store.MarkError(ctx, job.ID, p.config.Owner, []byte(security.SanitizeDiagnostic(taskErr.Error())))
		})
		p.emit(&core.JobErrored{
			Job:       job,
			Error:     &core.TaskFailureError{TaskName: job.TaskName, Err: taskErr},
			Timestamp: time.Now(),
		})
		return
	}

	p.commitOutcome(ctx, job, func() error {
		return p.store.MarkCompleted(ctx, job.ID, p.config.Owner, output)
	})
	p.emit(&core.JobCompleted{Job: job, Duration: time.Since(start), Timestamp: time.Now()})
}

// commitOutcome commits a terminal transition, retrying conflicts.
func (p *MultiProcessor) commitOutcome(ctx context.Context, job *core.JobRecord, op func() error) {
	if err := retryConflicts(ctx, p.retry, op); err != nil {
		p.logger.Error("worker failed to commit job outcome", "job_id", job.ID, "error", err)
	}
}

// Stop requests a cooperative shutdown. The dispatcher observes the flag at
// its next loop boundary; workers are not interrupted mid-task.
func (p *MultiProcessor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Drain waits for the dispatcher and all live workers to exit. Returns
// core.ErrShutdownTimeout if the grace period elapses first; in that case
// the workers still running are not interrupted, and their jobs stay
// PROCESSING until each worker commits its outcome.
func (p *MultiProcessor) Drain(grace time.Duration) error {
	finished := make(chan struct{})
	go func() {
		if p.started.Load() {
			<-p.done
		}
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(grace):
		return core.ErrShutdownTimeout
	}
}

func (p *MultiProcessor) emit(e core.Event) {
	if p.config.Emit != nil {
		p.config.Emit(e)
	}
}

func (p *MultiProcessor) sleep(ctx context.Context, d time.Duration) {
	sleepInterruptible(ctx, p.stopCh, d)
}
