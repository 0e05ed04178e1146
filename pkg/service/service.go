// Package service binds a processor factory and its arguments to a live
// task-queue service: the Add/Get/Cancel surface plus the start/stop
// lifecycle with a persisted "processing active" flag.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/processor"
	"github.com/jakke/taskqueue/pkg/registry"
	"github.com/jakke/taskqueue/pkg/security"
)

// Kind names a processor strategy.
type Kind string

const (
	KindSimple Kind = "simple"
	KindMulti  Kind = "multi"
)

var (
	// ErrAlreadyProcessing is returned by StartProcessing when a processor
	// is already attached and running.
	ErrAlreadyProcessing = errors.New("taskqueue: processing already started")

	// ErrUnknownProcessor is returned when the configured processor kind has
	// no registered factory.
	ErrUnknownProcessor = errors.New("taskqueue: unknown processor kind")
)

// DefaultGracePeriod bounds how long StopProcessing waits for in-flight
// workers before abandoning them.
const DefaultGracePeriod = 5 * time.Second

// Service is the adaptor between the durable queue and a processor.
type Service struct {
	store    core.Store
	registry *registry.Registry
	logger   *slog.Logger
	grace    time.Duration

	mu        sync.Mutex
	kind      Kind
	args      Arguments
	factories map[Kind]processor.Factory
	proc      processor.Processor
	cancel    context.CancelFunc

	subsMu sync.Mutex
	subs   []chan core.Event
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithGracePeriod bounds StopProcessing's wait for in-flight workers.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

// WithProcessor selects the processor strategy.
func WithProcessor(kind Kind) Option {
	return func(s *Service) { s.kind = kind }
}

// WithArguments sets the processor arguments.
func WithArguments(args Arguments) Option {
	return func(s *Service) { s.args = args }
}

// New creates a Service over the given store and registry. The default
// processor is the MultiProcessor with default arguments.
func New(store core.Store, reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: reg,
		logger:   slog.Default(),
		grace:    DefaultGracePeriod,
		kind:     KindMulti,
		factories: map[Kind]processor.Factory{
			KindSimple: processor.NewSimpleProcessor,
			KindMulti:  processor.NewMultiProcessor,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds fn in the task registry under name.
func (s *Service) Register(name string, fn any) {
	s.registry.Register(name, fn)
}

// Add appends a new QUEUED job and returns its id. Fails synchronously when
// the task name or input fails validation or the store is unavailable;
// task-level failures surface asynchronously through Get.
func (s *Service) Add(ctx context.Context, taskName string, input []byte) (uint64, error) {
	if err := security.ValidateTaskName(taskName); err != nil {
		return 0, err
	}
	if err := security.ValidateInput(input); err != nil {
		return 0, err
	}
	id, err := s.store.Add(ctx, taskName, input)
	if err != nil {
		return 0, fmt.Errorf("taskqueue: failed to add job: %w", err)
	}
	return id, nil
}

// Get retrieves a job by id.
func (s *Service) Get(ctx context.Context, id uint64) (*core.JobRecord, error) {
	return s.store.Get(ctx, id)
}

// Cancel moves a QUEUED job to CANCELLED. Returns false for jobs already
// claimed or finished.
func (s *Service) Cancel(ctx context.Context, id uint64) (bool, error) {
	job, err := s.store.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotCancellable) {
			return false, nil
		}
		return false, err
	}
	s.emit(&core.JobCancelled{Job: job, Timestamp: time.Now()})
	return true, nil
}

// SetProcessor swaps the processor strategy used by the next
// StartProcessing call.
func (s *Service) SetProcessor(kind Kind) {
	s.mu.Lock()
	s.kind = kind
	s.mu.Unlock()
}

// Processor returns the configured processor strategy.
func (s *Service) Processor() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// SetArguments replaces the processor arguments used by the next
// StartProcessing call.
func (s *Service) SetArguments(args Arguments) {
	s.mu.Lock()
	s.args = args
	s.mu.Unlock()
}

// Arguments returns the configured processor arguments.
func (s *Service) Arguments() Arguments {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args
}

// RegisterFactory binds a custom processor factory under kind.
func (s *Service) RegisterFactory(kind Kind, f processor.Factory) {
	s.mu.Lock()
	s.factories[kind] = f
	s.mu.Unlock()
}

// StartProcessing instantiates a processor from the configured factory and
// arguments, launches its main loop in the background, and commits the
// persisted "active" flag so the choice survives restart.
func (s *Service) StartProcessing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return ErrAlreadyProcessing
	}

	factory, ok := s.factories[s.kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcessor, s.kind)
	}

	config, err := json.Marshal(s.args)
	if err != nil {
		return fmt.Errorf("taskqueue: failed to marshal processor arguments: %w", err)
	}
	err = s.store.Transaction(ctx, func(tx core.Store) error {
		state, err := tx.GetState(ctx)
		if err != nil {
			return err
		}
		state.Active = true
		state.Processor = string(s.kind)
		state.Config = config
		return tx.SaveState(ctx, state)
	})
	if err != nil {
		return fmt.Errorf("taskqueue: failed to persist processing state: %w", err)
	}

	opts := append(s.args.Options(),
		processor.WithLogger(s.logger),
		processor.WithEmitter(s.emit),
	)
	proc := factory(s.store, s.registry, opts...)

	// The run loop outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.Background())
	s.proc = proc
	s.cancel = cancel

	s.logger.Info("starting service tasks")
	go func() {
		if err := proc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("processor main loop exited", "error", err)
		}
	}()
	return nil
}

// StopProcessing signals the processor to stop, waits up to the grace
// period for the main loop and all workers to exit, and commits the
// persisted flag as inactive. On timeout the in-flight jobs are abandoned:
// the run context is cancelled, so their outcomes do not commit. A
// SimpleProcessor job's claim rolls back with its transaction, leaving it
// QUEUED; a MultiProcessor job stays PROCESSING.
func (s *Service) StopProcessing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return nil
	}

	s.logger.Info("stopping service tasks")
	s.proc.Stop()

	drainErr := s.proc.Drain(s.grace)
	if drainErr != nil {
		s.logger.Warn("shutdown grace period exceeded, abandoning in-flight jobs", "error", drainErr)
	}
	s.cancel()
	s.proc = nil
	s.cancel = nil

	err := s.store.Transaction(ctx, func(tx core.Store) error {
		state, err := tx.GetState(ctx)
		if err != nil {
			return err
		}
		state.Active = false
		return tx.SaveState(ctx, state)
	})
	if err != nil {
		return fmt.Errorf("taskqueue: failed to persist processing state: %w", err)
	}
	return drainErr
}

// Processing reports whether a processor is attached in this process.
func (s *Service) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Active reports the persisted processing flag.
func (s *Service) Active(ctx context.Context) (bool, error) {
	state, err := s.store.GetState(ctx)
	if err != nil {
		return false, err
	}
	return state.Active, nil
}

// RestoreProcessing resumes processing if the persisted flag says it was
// active when the process last stopped. The persisted processor kind and
// arguments take effect. Returns true if processing was started.
func (s *Service) RestoreProcessing(ctx context.Context) (bool, error) {
	state, err := s.store.GetState(ctx)
	if err != nil {
		return false, err
	}
	if !state.Active {
		return false, nil
	}

	s.mu.Lock()
	if state.Processor != "" {
		s.kind = Kind(state.Processor)
	}
	if len(state.Config) > 0 {
		var args Arguments
		if err := json.Unmarshal(state.Config, &args); err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("taskqueue: failed to unmarshal persisted arguments: %w", err)
		}
		s.args = args
	}
	s.mu.Unlock()

	if err := s.StartProcessing(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Stats returns the number of jobs per status.
func (s *Service) Stats(ctx context.Context) (map[core.JobStatus]int64, error) {
	return s.store.CountByStatus(ctx)
}

// Store returns the underlying store.
func (s *Service) Store() core.Store {
	return s.store
}

// Registry returns the task registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Events returns a channel for receiving processing events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (s *Service) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling
// Unsubscribe.
func (s *Service) Unsubscribe(ch <-chan core.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// emit fans an event out to all subscribers, dropping on full channels so
// slow consumers never block a processor.
func (s *Service) emit(e core.Event) {
	s.subsMu.Lock()
	subs := make([]chan core.Event, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}
