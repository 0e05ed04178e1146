// Package processor provides the SimpleProcessor and MultiProcessor job executors.
package processor

import (
	"log/slog"
	"time"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/security"
)

// Default configuration values.
const (
	DefaultWaitTime          = 1 * time.Second
	DefaultMaxThreads        = 5
	DefaultThreadStartupWait = 50 * time.Millisecond
	DefaultConflictRetries   = 3
)

// Option configures a processor.
type Option interface {
	ApplyProcessor(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyProcessor(c *Config) { f(c) }

// Config holds processor configuration.
type Config struct {
	// WaitTime is the idle poll interval: how long the main loop sleeps when
	// the queue is empty or the worker budget is exhausted.
	WaitTime time.Duration

	// MaxThreads is the MultiProcessor worker budget. Ignored by the
	// SimpleProcessor.
	MaxThreads int

	// ThreadStartupWait is the dispatcher pause after spawning a worker,
	// serializing the claim-and-start handoff so concurrent claims don't
	// pile up conflict errors. Ignored by the SimpleProcessor.
	ThreadStartupWait time.Duration

	// ConflictRetryLimit bounds retries of a transaction that failed with a
	// store conflict.
	ConflictRetryLimit int

	// Owner identifies this processor in claim records.
	Owner string

	Logger *slog.Logger
	Emit   func(core.Event)
}

// WaitTime sets the idle poll interval.
func WaitTime(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d >= 0 {
			c.WaitTime = d
		}
	})
}

// MaxThreads sets the MultiProcessor worker budget.
// Values are clamped to [1, security.MaxThreads].
func MaxThreads(n int) Option {
	return optionFunc(func(c *Config) {
		c.MaxThreads = security.ClampThreads(n)
	})
}

// ThreadStartupWait sets the dispatcher pause after spawning a worker.
func ThreadStartupWait(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d >= 0 {
			c.ThreadStartupWait = d
		}
	})
}

// ConflictRetryLimit bounds retries on store conflicts.
func ConflictRetryLimit(n int) Option {
	return optionFunc(func(c *Config) {
		if n >= 0 {
			c.ConflictRetryLimit = n
		}
	})
}

// WithOwner overrides the generated owner identifier.
func WithOwner(owner string) Option {
	return optionFunc(func(c *Config) {
		c.Owner = owner
	})
}

// WithLogger sets the processor's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

// WithEmitter sets a callback invoked for each lifecycle event.
func WithEmitter(emit func(core.Event)) Option {
	return optionFunc(func(c *Config) {
		c.Emit = emit
	})
}
