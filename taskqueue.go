// Package taskqueue provides a persistent task-queue job processor.
//
// Clients add jobs — a task name plus an opaque input blob — to a durable
// FIFO queue. A processor polls the queue, atomically claims pending work,
// executes the registered task under a transactional boundary, and commits
// the terminal state. Two processor strategies share that discipline: the
// SimpleProcessor runs one job at a time; the MultiProcessor dispatches up
// to a fixed budget of concurrent workers.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("taskqueue.db"), &gorm.Config{})
//	store := taskqueue.NewGormStore(db)
//	store.Migrate(context.Background())
//
//	reg := taskqueue.NewRegistry()
//	reg.Register("send-email", func(ctx context.Context, email string) error {
//	    return sendEmail(email)
//	})
//
//	svc := taskqueue.NewService(store, reg)
//	svc.Add(ctx, "send-email", input)
//	svc.StartProcessing(ctx)
package taskqueue

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/processor"
	"github.com/jakke/taskqueue/pkg/purge"
	"github.com/jakke/taskqueue/pkg/registry"
	"github.com/jakke/taskqueue/pkg/security"
	"github.com/jakke/taskqueue/pkg/service"
	"github.com/jakke/taskqueue/pkg/storage"
	"github.com/jakke/taskqueue/pkg/txctx"
)

// Type aliases for a clean single-import API surface
type (
	// JobRecord is the durable per-job state.
	JobRecord = core.JobRecord

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// Store defines the persistence layer for jobs.
	Store = core.Store

	// Event is the interface for all processing events.
	Event = core.Event

	// JobClaimed is emitted when a processor claims a job.
	JobClaimed = core.JobClaimed

	// JobStarted is emitted when a job's task begins executing.
	JobStarted = core.JobStarted

	// JobCompleted is emitted when a job completes successfully.
	JobCompleted = core.JobCompleted

	// JobErrored is emitted when a job reaches ERROR.
	JobErrored = core.JobErrored

	// JobCancelled is emitted when a QUEUED job is cancelled.
	JobCancelled = core.JobCancelled

	// TaskNotRegisteredError indicates a job named an unknown task.
	TaskNotRegisteredError = core.TaskNotRegisteredError

	// TaskFailureError wraps an error raised by a task body.
	TaskFailureError = core.TaskFailureError

	// Registry maps task names to executable units.
	Registry = registry.Registry

	// Task is a registered executable unit.
	Task = registry.Task

	// Processor is the claim/execute subsystem attached to a service.
	Processor = processor.Processor

	// ProcessorOption configures a processor.
	ProcessorOption = processor.Option

	// SimpleProcessor executes jobs sequentially.
	SimpleProcessor = processor.SimpleProcessor

	// MultiProcessor executes jobs concurrently under a worker budget.
	MultiProcessor = processor.MultiProcessor

	// Service is the adaptor between the durable queue and a processor.
	Service = service.Service

	// ServiceOption configures a Service.
	ServiceOption = service.Option

	// Arguments are the recognized processor arguments.
	Arguments = service.Arguments

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore

	// Sweeper periodically purges terminal job records.
	Sweeper = purge.Sweeper
)

// Status constants
const (
	StatusQueued     = core.StatusQueued
	StatusClaimed    = core.StatusClaimed
	StatusProcessing = core.StatusProcessing
	StatusCompleted  = core.StatusCompleted
	StatusError      = core.StatusError
	StatusCancelled  = core.StatusCancelled
)

// Processor kinds
const (
	KindSimple = service.KindSimple
	KindMulti  = service.KindMulti
)

// Limits
const (
	MaxTaskNameLength = security.MaxTaskNameLength
	MaxInputSize      = security.MaxInputSize
	MaxThreadsLimit   = security.MaxThreads
)

// Error variables
var (
	ErrConflict          = core.ErrConflict
	ErrTxnAborted        = core.ErrTxnAborted
	ErrJobNotFound       = core.ErrJobNotFound
	ErrJobNotOwned       = core.ErrJobNotOwned
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrNotCancellable    = core.ErrNotCancellable
	ErrShutdownTimeout   = core.ErrShutdownTimeout
	ErrInvalidTaskName   = core.ErrInvalidTaskName
	ErrInputTooLarge     = core.ErrInputTooLarge
	ErrAlreadyProcessing = service.ErrAlreadyProcessing
)

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return registry.New()
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewService creates a Service over the given store and registry.
func NewService(store Store, reg *Registry, opts ...ServiceOption) *Service {
	return service.New(store, reg, opts...)
}

// NewSimpleProcessor creates the sequential processor.
func NewSimpleProcessor(store Store, reg *Registry, opts ...ProcessorOption) *SimpleProcessor {
	return processor.NewSimple(store, reg, opts...)
}

// NewMultiProcessor creates the pooled processor.
func NewMultiProcessor(store Store, reg *Registry, opts ...ProcessorOption) *MultiProcessor {
	return processor.NewMulti(store, reg, opts...)
}

// NewSweeper creates a terminal-record purge sweeper.
func NewSweeper(store Store, opts ...purge.SweeperOption) *Sweeper {
	return purge.NewSweeper(store, opts...)
}

// AbortTransaction requests that the transaction surrounding the current
// task execution be rolled back. The processor will refuse to re-claim the
// job for the remainder of its session.
func AbortTransaction(ctx context.Context) {
	txctx.Abort(ctx)
}

// Processor option functions

// WaitTime sets the idle poll interval.
func WaitTime(d time.Duration) ProcessorOption {
	return processor.WaitTime(d)
}

// MaxThreads sets the MultiProcessor worker budget.
func MaxThreads(n int) ProcessorOption {
	return processor.MaxThreads(n)
}

// ThreadStartupWait sets the dispatcher pause after spawning a worker.
func ThreadStartupWait(d time.Duration) ProcessorOption {
	return processor.ThreadStartupWait(d)
}

// ConflictRetryLimit bounds retries on store conflicts.
func ConflictRetryLimit(n int) ProcessorOption {
	return processor.ConflictRetryLimit(n)
}

// Service option functions

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return service.WithLogger(l)
}

// WithGracePeriod bounds StopProcessing's wait for in-flight workers.
func WithGracePeriod(d time.Duration) ServiceOption {
	return service.WithGracePeriod(d)
}

// WithProcessor selects the processor strategy.
func WithProcessor(kind service.Kind) ServiceOption {
	return service.WithProcessor(kind)
}

// WithArguments sets the processor arguments.
func WithArguments(args Arguments) ServiceOption {
	return service.WithArguments(args)
}

// ValidateTaskName validates a task name.
func ValidateTaskName(name string) error {
	return security.ValidateTaskName(name)
}
