// Package processor provides the two job-processing strategies.
//
// This package includes:
//   - SimpleProcessor: sequential, one claim-execute-commit transaction per job
//   - MultiProcessor: dispatcher plus a bounded pool of worker goroutines
//   - Option: shared configuration (WaitTime, MaxThreads, ThreadStartupWait,
//     ConflictRetryLimit)
//
// Both strategies share the claim discipline: a job id is handed to at most
// one successful claim, store conflicts are retried at transaction
// boundaries, and an id whose task aborts its transaction is poisoned for
// the rest of the processor's session.
//
// Most users should import the root package github.com/jakke/taskqueue
// which re-exports the constructors and option functions.
package processor
