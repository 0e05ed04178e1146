// Package core provides the fundamental types and interfaces for the taskqueue package.
//
// This package contains:
//   - JobRecord and ServiceState data models with GORM annotations
//   - The Store interface defining the persistence contract
//   - Event types for processing observation
//   - Error types and the lifecycle state machine
//
// Most users should import the root package github.com/jakke/taskqueue
// instead of this package directly.
package core
