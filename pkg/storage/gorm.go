// Package storage provides storage implementations for the taskqueue package.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jakke/taskqueue/pkg/core"
)

// GormStore implements core.Store using GORM. Concurrency control is
// optimistic: every transition is a guarded update on the record's version
// column, and a guarded update that matches zero rows surfaces as
// core.ErrConflict for the caller to retry.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying handle for auxiliary query layers.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.JobRecord{}, &core.ServiceState{})
}

// Transaction runs fn against a store view bound to a single transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx core.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
	return translateErr(err)
}

// translateErr maps driver-level contention onto core.ErrConflict so
// processors can treat all optimistic failures uniformly.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrConflict) || errors.Is(err, core.ErrTxnAborted) {
		return err
	}
	// SQLite reports write contention as a busy/locked error string.
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return core.ErrConflict
	}
	return err
}

// Add appends a new QUEUED job and returns its id.
func (s *GormStore) Add(ctx context.Context, taskName string, input []byte) (uint64, error) {
	job := &core.JobRecord{
		TaskName: taskName,
		Input:    input,
		Status:   core.StatusQueued,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return 0, translateErr(err)
	}
	return job.ID, nil
}

// HasPending reports whether any job is QUEUED.
func (s *GormStore) HasPending(ctx context.Context) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.JobRecord{}).
		Where("status = ?", core.StatusQueued).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, translateErr(err)
	}
	return count > 0, nil
}

// ClaimNext selects the oldest QUEUED job not in exclude and marks it
// CLAIMED for owner. Returns (nil, nil) when the queue is empty.
func (s *GormStore) ClaimNext(ctx context.Context, owner string, exclude []uint64) (*core.JobRecord, error) {
	var job core.JobRecord

	query := s.db.WithContext(ctx).Where("status = ?", core.StatusQueued)
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}

	result := query.Order("id ASC").First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateErr(result.Error)
	}

	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.JobRecord{}).
		Where("id = ? AND version = ? AND status = ?", job.ID, job.Version, core.StatusQueued).
		Updates(map[string]any{
			"status":     core.StatusClaimed,
			"owner":      owner,
			"claimed_at": now,
			"version":    job.Version + 1,
		})
	if res.Error != nil {
		return nil, translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		// Another processor claimed or cancelled it between read and write.
		return nil, core.ErrConflict
	}

	job.Status = core.StatusClaimed
	job.Owner = owner
	job.ClaimedAt = &now
	job.Version++
	return &job, nil
}

// transition applies a guarded status change. An empty owner skips the
// ownership check (used by Cancel, which acts on unclaimed jobs).
func (s *GormStore) transition(ctx context.Context, id uint64, owner string, to core.JobStatus, updates map[string]any) error {
	var job core.JobRecord
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrJobNotFound
		}
		return translateErr(err)
	}

	if !core.CanTransition(job.Status, to) {
		return core.ErrInvalidTransition
	}
	if owner != "" && job.Owner != owner {
		return core.ErrJobNotOwned
	}

	updates["status"] = to
	updates["version"] = job.Version + 1

	res := s.db.WithContext(ctx).
		Model(&core.JobRecord{}).
		Where("id = ? AND version = ?", id, job.Version).
		Updates(updates)
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return core.ErrConflict
	}
	return nil
}

// MarkProcessing moves a CLAIMED job to PROCESSING.
func (s *GormStore) MarkProcessing(ctx context.Context, id uint64, owner string) error {
	return s.transition(ctx, id, owner, core.StatusProcessing, map[string]any{})
}

// MarkCompleted moves a job to COMPLETED and stores its output.
func (s *GormStore) MarkCompleted(ctx context.Context, id uint64, owner string, output []byte) error {
	return s.transition(ctx, id, owner, core.StatusCompleted, map[string]any{
		"output":       output,
		"completed_at": time.Now(),
	})
}

// MarkError moves a job to ERROR and stores the diagnostic output.
func (s *GormStore) MarkError(ctx context.Context, id uint64, owner string, output []byte) error {
	return s.transition(ctx, id, owner, core.StatusError, map[string]any{
		"output":       output,
		"completed_at": time.Now(),
	})
}

// Requeue returns a CLAIMED job to QUEUED, clearing claim state.
func (s *GormStore) Requeue(ctx context.Context, id uint64, owner string) error {
	return s.transition(ctx, id, owner, core.StatusQueued, map[string]any{
		"owner":      "",
		"claimed_at": nil,
	})
}

// Cancel moves a QUEUED job to CANCELLED.
func (s *GormStore) Cancel(ctx context.Context, id uint64) (*core.JobRecord, error) {
	var job core.JobRecord
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrJobNotFound
		}
		return nil, translateErr(err)
	}

	if job.Status != core.StatusQueued {
		return nil, core.ErrNotCancellable
	}

	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.JobRecord{}).
		Where("id = ? AND version = ? AND status = ?", id, job.Version, core.StatusQueued).
		Updates(map[string]any{
			"status":       core.StatusCancelled,
			"completed_at": now,
			"version":      job.Version + 1,
		})
	if res.Error != nil {
		return nil, translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, core.ErrConflict
	}

	job.Status = core.StatusCancelled
	job.CompletedAt = &now
	job.Version++
	return &job, nil
}

// Get retrieves a job by id.
func (s *GormStore) Get(ctx context.Context, id uint64) (*core.JobRecord, error) {
	var job core.JobRecord
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrJobNotFound
		}
		return nil, translateErr(err)
	}
	return &job, nil
}

// GetByStatus retrieves jobs by status in insertion order.
func (s *GormStore) GetByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.JobRecord, error) {
	var jobList []*core.JobRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&jobList).Error
	return jobList, translateErr(err)
}

// CountByStatus returns the number of jobs per status.
func (s *GormStore) CountByStatus(ctx context.Context) (map[core.JobStatus]int64, error) {
	type row struct {
		Status core.JobStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.JobRecord{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translateErr(err)
	}
	counts := make(map[core.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// PurgeTerminal deletes terminal jobs whose completion is older than the
// retention window. Non-terminal records are never touched.
func (s *GormStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("status IN ?", []core.JobStatus{core.StatusCompleted, core.StatusError, core.StatusCancelled}).
		Where("completed_at < ?", cutoff).
		Delete(&core.JobRecord{})
	return res.RowsAffected, translateErr(res.Error)
}

// RequeueStale returns CLAIMED jobs whose claim is older than olderThan to
// QUEUED. Recovery hook for claims stranded by a crashed processor; nothing
// calls this on a timer.
func (s *GormStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Model(&core.JobRecord{}).
		Where("status = ?", core.StatusClaimed).
		Where("claimed_at < ?", cutoff).
		Updates(map[string]any{
			"status":     core.StatusQueued,
			"owner":      "",
			"claimed_at": nil,
			"version":    gorm.Expr("version + 1"),
		})
	return res.RowsAffected, translateErr(res.Error)
}

// GetState returns the persisted service state row, creating it on first use.
func (s *GormStore) GetState(ctx context.Context) (*core.ServiceState, error) {
	var state core.ServiceState
	err := s.db.WithContext(ctx).First(&state, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &core.ServiceState{ID: 1}, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &state, nil
}

// SaveState upserts the persisted service state row.
func (s *GormStore) SaveState(ctx context.Context, state *core.ServiceState) error {
	state.ID = 1
	return translateErr(s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(state).Error)
}
