package postgres

import registrystore "github.com/memoric/memoric/internal/registry/store"

// Re-export error types from registry/store so callers holding a concrete
// *PostgresStore can match errors without importing the registry package.
type NotFoundError = registrystore.NotFoundError
type ValidationError = registrystore.ValidationError
type ConflictError = registrystore.ConflictError
type ScopeError = registrystore.ScopeError
type TimeoutError = registrystore.TimeoutError
type DependencyError = registrystore.DependencyError
