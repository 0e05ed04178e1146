package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for jobs. Implementations detect
// write conflicts with optimistic concurrency and surface them as
// ErrConflict; callers retry at the transaction boundary.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Transaction runs fn against a view of the store bound to a single
	// transaction. Any error returned by fn rolls the transaction back and
	// is propagated. Mutations made through the view are invisible to other
	// connections until commit.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Queue operations
	Add(ctx context.Context, taskName string, input []byte) (uint64, error)
	HasPending(ctx context.Context) (bool, error)

	// ClaimNext atomically selects the oldest QUEUED job not in exclude,
	// marks it CLAIMED for owner and stamps ClaimedAt. Returns (nil, nil)
	// when the queue is empty.
	ClaimNext(ctx context.Context, owner string, exclude []uint64) (*JobRecord, error)

	// Status transitions, guarded by the lifecycle state machine and by
	// claim ownership.
	MarkProcessing(ctx context.Context, id uint64, owner string) error
	MarkCompleted(ctx context.Context, id uint64, owner string, output []byte) error
	MarkError(ctx context.Context, id uint64, owner string, output []byte) error

	// Requeue returns a CLAIMED job to QUEUED, clearing owner and ClaimedAt.
	Requeue(ctx context.Context, id uint64, owner string) error

	// Cancel moves a QUEUED job to CANCELLED. Jobs past QUEUED return
	// ErrNotCancellable.
	Cancel(ctx context.Context, id uint64) (*JobRecord, error)

	// Queries
	Get(ctx context.Context, id uint64) (*JobRecord, error)
	GetByStatus(ctx context.Context, status JobStatus, limit int) ([]*JobRecord, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int64, error)

	// Maintenance
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// Service state
	GetState(ctx context.Context) (*ServiceState, error)
	SaveState(ctx context.Context, state *ServiceState) error
}
