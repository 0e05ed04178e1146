// Package storage provides the GORM-backed implementation of core.Store.
//
// This package includes:
//   - GormStore: optimistic-concurrency job store over any GORM dialect
//   - Connection pool configuration helpers
//
// Conflicting commits surface as core.ErrConflict; callers retry at the
// transaction boundary.
package storage
