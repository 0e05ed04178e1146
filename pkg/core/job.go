// Package core provides the domain models and interfaces for the taskqueue package.
package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusClaimed    JobStatus = "claimed"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether s is a terminal status. Terminal jobs are never
// claimed again and are the only ones eligible for purging.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// JobRecord is the durable per-job state. The auto-increment ID doubles as
// the FIFO position: claims within a single processor come back in ascending ID.
type JobRecord struct {
	ID       uint64    `gorm:"primaryKey;autoIncrement"`
	TaskName string    `gorm:"index;size:255;not null"`
	Input    []byte    `gorm:"type:bytes"`
	Status   JobStatus `gorm:"index;size:20;default:'queued'"`
	Output   []byte    `gorm:"type:bytes"`

	// Version guards every status transition. A guarded update that matches
	// zero rows means another transaction got there first.
	Version uint64 `gorm:"not null;default:0"`

	Owner       string `gorm:"size:64"`
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}

// ServiceState is the single persisted row recording whether processing is
// active and how the processor was configured. The flag survives restarts;
// the goroutine lifecycle itself is process-local.
type ServiceState struct {
	ID        uint      `gorm:"primaryKey"`
	Active    bool      `gorm:"default:false"`
	Processor string    `gorm:"size:32"`
	Config    []byte    `gorm:"type:bytes"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// validTransitions encodes the lifecycle state machine. Status progresses
// monotonically; CANCELLED is reachable from QUEUED or CLAIMED only.
// The backward edges to QUEUED are the requeue paths for jobs whose task
// aborted the transaction or whose owner crashed mid-claim.
var validTransitions = map[JobStatus][]JobStatus{
	StatusQueued:     {StatusClaimed, StatusCancelled},
	StatusClaimed:    {StatusProcessing, StatusCompleted, StatusError, StatusCancelled, StatusQueued},
	StatusProcessing: {StatusCompleted, StatusError, StatusQueued},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to JobStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
