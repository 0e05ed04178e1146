// Package purge provides a cron-driven sweeper that deletes terminal job
// records past their retention window. Only COMPLETED, ERROR, and CANCELLED
// jobs are ever removed.
package purge

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jakke/taskqueue/pkg/core"
)

// Default sweeper settings.
const (
	DefaultRetention = 7 * 24 * time.Hour
	DefaultSchedule  = "@every 1h"
)

// Sweeper periodically purges terminal job records.
type Sweeper struct {
	store     core.Store
	cron      *cron.Cron
	retention time.Duration
	schedule  string
	logger    *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// Retention sets how long terminal records are kept.
func Retention(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.retention = d }
}

// Schedule sets the cron expression driving the sweep.
func Schedule(expr string) SweeperOption {
	return func(s *Sweeper) { s.schedule = expr }
}

// WithLogger sets the sweeper's logger.
func WithLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// NewSweeper creates a Sweeper over the given store.
func NewSweeper(store core.Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:     store,
		cron:      cron.New(),
		retention: DefaultRetention,
		schedule:  DefaultSchedule,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep and begins running it in the background.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.Sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop cancels the schedule. A sweep already running completes.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep purges terminal records older than the retention window once.
func (s *Sweeper) Sweep() {
	purged, err := s.store.PurgeTerminal(context.Background(), s.retention)
	if err != nil {
		s.logger.Error("purge sweep failed", "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("purged terminal jobs", "count", purged)
	}
}
