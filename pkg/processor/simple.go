package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/registry"
	"github.com/jakke/taskqueue/pkg/security"
)

// SimpleProcessor executes jobs sequentially, one claim-execute-commit cycle
// per iteration. The claim, the task execution, and the terminal transition
// all happen inside a single store transaction, so an abort from within the
// task undoes the claim. Intended for CPU-heavy jobs.
type SimpleProcessor struct {
	store    core.Store
	registry *registry.Registry
	config   Config
	retry    RetryConfig
	logger   *slog.Logger
	poison   *poisonSet

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSimple creates a SimpleProcessor bound to the given store and registry.
func NewSimple(store core.Store, reg *registry.Registry, opts ...Option) *SimpleProcessor {
	config := newConfig(opts)
	return &SimpleProcessor{
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

// NewSimpleProcessor is the Factory for SimpleProcessor.
func NewSimpleProcessor(store core.Store, reg *registry.Registry, opts ...Option) Processor {
	return NewSimple(store, reg, opts...)
}

// Owner returns the processor's claim identity.
func (p *SimpleProcessor) Owner() string {
	return p.config.Owner
}

// ProcessNext performs one claim-execute-commit cycle. Returns true if a job
// ran (or was poisoned), false if the queue was empty. Store conflicts are
// retried up to the configured limit before propagating.
func (p *SimpleProcessor) ProcessNext(ctx context.Context) (bool, error) {
	var ran bool
	var evt core.Event
	var poisonID uint64

	err := retryConflicts(ctx, p.retry, func() error {
		ran = false
		evt = nil
		return p.store.Transaction(ctx, func(tx core.Store) error {
			job, err := tx.ClaimNext(ctx, p.config.Owner, p.poison.list())
			if err != nil {
				return err
			}
			if job == nil {
				return nil
			}
			ran = true
			p.emit(&core.JobClaimed{Job: job, Owner: p.config.Owner, Timestamp: time.Now()})

			task, ok := p.registry.Resolve(job.TaskName)
			if !ok {
				nrErr := &core.TaskNotRegisteredError{TaskName: job.TaskName}
				diag := security.SanitizeDiagnostic(nrErr.Error())
				if err := tx.MarkError(ctx, job.ID, p.config.Owner, []byte(diag)); err != nil {
					return err
				}
				evt = &core.JobErrored{Job: job, Error: nrErr, Timestamp: time.Now()}
				return nil
			}

			if err := tx.MarkProcessing(ctx, job.ID, p.config.Owner); err != nil {
				return err
			}
			p.emit(&core.JobStarted{Job: job, Timestamp: time.Now()})

			start := time.Now()
			output, aborted, taskErr := runTask(ctx, task, job.Input)
			if aborted {
				poisonID = job.ID
				return core.ErrTxnAborted
			}
			if taskErr != nil {
				diag := security.SanitizeDiagnostic(taskErr.Error())
				if err := tx.MarkError(ctx, job.ID, p.config.Owner, []byte(diag)); err != nil {
					return err
				}
				evt = &core.JobErrored{
					Job:       job,
					Error:     &core.TaskFailureError{TaskName: job.TaskName, Err: taskErr},
					Timestamp: time.Now(),
				}
				return nil
			}
			if err := tx.MarkCompleted(ctx, job.ID, p.config.Owner, output); err != nil {
				return err
			}
			evt = &core.JobCompleted{Job: job, Duration: time.Since(start), Timestamp: time.Now()}
			return nil
		})
	})

	if errors.Is(err, core.ErrTxnAborted) {
		// Rollback undid the claim; refuse to re-claim this id for the rest
		// of the session and count the iteration as progress.
		p.poison.add(poisonID)
		p.logger.Info("task aborted transaction, poisoning job", "job_id", poisonID)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if evt != nil {
		p.emit(evt)
	}
	return ran, nil
}

// Run is the main loop: claim and execute jobs until Stop is called or the
// context is cancelled, sleeping WaitTime whenever the queue is empty.
func (p *SimpleProcessor) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("taskqueue: processor already started")
	}
	defer close(p.done)

	p.logger.Debug("simple processor running", "owner", p.config.Owner)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		default:
		}

		ran, err := p.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, core.ErrConflict) {
				p.logger.Info("claim conflict persisted past retries", "error", err)
			} else {
				p.logger.Error("store error in main loop", "error", err)
			}
			p.sleep(ctx, p.config.WaitTime)
			continue
		}
		if !ran {
			p.sleep(ctx, p.config.WaitTime)
		}
	}
}

// Stop requests a cooperative shutdown observed at the next loop boundary.
func (p *SimpleProcessor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Drain waits for the main loop to exit.
func (p *SimpleProcessor) Drain(grace time.Duration) error {
	if !p.started.Load() {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return core.ErrShutdownTimeout
	}
}

func (p *SimpleProcessor) emit(e core.Event) {
	if p.config.Emit != nil {
		p.config.Emit(e)
	}
}

func (p *SimpleProcessor) sleep(ctx context.Context, d time.Duration) {
	sleepInterruptible(ctx, p.stopCh, d)
}

// newConfig applies options over defaults.
func newConfig(opts []Option) Config {
	config := Config{
		WaitTime:           DefaultWaitTime,
		MaxThreads:         DefaultMaxThreads,
		ThreadStartupWait:  DefaultThreadStartupWait,
		ConflictRetryLimit: DefaultConflictRetries,
		Owner:              uuid.New().String(),
	}
	for _, opt := range opts {
		opt.ApplyProcessor(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}

func (c Config) retryConfig() RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxAttempts = c.ConflictRetryLimit + 1
	return rc
}

// sleepInterruptible sleeps for d unless the context is cancelled or the
// stop channel closes first.
func sleepInterruptible(ctx context.Context, stopCh <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-stopCh:
	case <-timer.C:
	}
}
