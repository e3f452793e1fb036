// Package session provides persistent refresh-session storage with atomic
// rotation semantics, backed by either Redis or PostgreSQL.
//
// # Rotation protocol
//
// A session carries the hash of its current refresh secret plus the hash of
// the immediately previous secret and a deadline until which the previous
// hash is still recognized. [Store.Rotate] classifies a presented hash in a
// single atomic step:
//
//   - matches current: the session advances, the old hash becomes the
//     previous hash with a fresh grace deadline.
//   - matches previous within its deadline: [ErrRefreshHashStale] — the
//     caller already holds the newer token and should retry with it.
//   - matches neither: [ErrRefreshHashMismatch] — possible token theft; the
//     store revokes the session before returning.
//
// The Redis store implements the step as a Lua script, the Postgres store
// as a row-locked transaction. Both keep only hashes; plaintext refresh
// secrets never reach storage.
//
// # Binary encoding
//
// The Redis store serializes sessions with the compact v1 binary encoding
// in encoder.go. The Lua rotation script reads and rewrites that blob at
// fixed offsets, so the layout must not change without a version bump.
//
// # Architecture boundaries
//
// This package owns the [Store] interface, its two implementations, and
// the [Session] model. It does NOT mint or parse JWTs, coalesce concurrent
// refreshes, or enforce authentication policy — those responsibilities
// belong to the Engine and the refresh package.
//
// # What this package must NOT do
//
//   - Import sessionauth, jwt, or refresh (no upward imports).
//   - Store plaintext refresh secrets in [Session] fields.
//   - Make rate-limiting or audit decisions.
package session
