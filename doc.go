// Package sessionauth provides a session-backed authentication engine with
// JWT access tokens and rotating opaque refresh tokens over Redis or
// PostgreSQL session storage.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// sessionauth is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (MetricsSnapshot, SessionInfo, etc.). All internal coordination — flow
// orchestration, refresh coalescing, session encoding, rate limiting, audit dispatch —
// lives in sub-packages and is wired together only here.
//
// # What this package must NOT do
//
//   - Expose Redis or Postgres clients, internal stores, or encoding details in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports sessionauth (no import cycles).
//
// # Performance contract
//
// ValidateAccess is the hot path. It must not allocate beyond the returned result struct
// and never touches the session store. Login and Refresh are allowed one store
// round-trip per call; concurrent refreshes with the same token share that round-trip
// through the coordinator.
package sessionauth
